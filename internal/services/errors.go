package services

import (
	"errors"

	"github.com/lib/pq"
)

// Ledger failure taxonomy. InvalidAmount and InsufficientFunds are expected,
// caller-facing rejections; AccountNotFound and LedgerCommitFailed are faults.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient GLM balance")
	ErrAccountNotFound    = errors.New("account not found")
	ErrLedgerCommitFailed = errors.New("ledger commit failed")
)

// errStaleAccount signals an optimistic lock miss on an account update. The
// engine retries the whole transaction on it.
var errStaleAccount = errors.New("account version is stale")

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// isRetryable reports whether a commit failure is transient contention worth
// another attempt. Unique violations are retried so a concurrent idempotency
// race resolves to a replay on the next attempt.
func isRetryable(err error) bool {
	if errors.Is(err, errStaleAccount) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected, pqUniqueViolation:
			return true
		}
	}
	return false
}
