package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/goloanme/backend/internal/audit"
	"github.com/goloanme/backend/internal/config"
	"github.com/goloanme/backend/internal/models"
)

// LedgerEngine is the only component allowed to change account balances.
// Every movement runs inside one database transaction: funds check, paired
// DEBIT/CREDIT entries, and both balance updates commit together or not at
// all. Callers reach it through the domain wrappers (PostPledge,
// PostUserTransfer, PostCreditIssuance) rather than raw intents.
type LedgerEngine struct {
	db       *sql.DB
	accounts *AccountStore
	ledger   *LedgerLog
	audit    *audit.Logger
	cfg      *config.FundingConfig
}

func NewLedgerEngine(db *sql.DB, cfg *config.FundingConfig) *LedgerEngine {
	return &LedgerEngine{
		db:       db,
		accounts: NewAccountStore(db),
		ledger:   NewLedgerLog(db),
		audit:    audit.NewLogger(),
		cfg:      cfg,
	}
}

// Accounts exposes the read side of the store for the reporting layer.
func (e *LedgerEngine) Accounts() *AccountStore { return e.accounts }

// Ledger exposes the read side of the log for the reporting layer.
func (e *LedgerEngine) Ledger() *LedgerLog { return e.ledger }

// InTransaction runs fn inside a database transaction, retrying a bounded
// number of times with doubling backoff when the failure is transient
// contention (row version races, serialization aborts, idempotency-guard
// collisions). Anything still failing after the last attempt surfaces as
// ErrLedgerCommitFailed with no side effects committed.
func (e *LedgerEngine) InTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	backoff := e.cfg.CommitBackoff
	var lastErr error

	for attempt := 0; attempt <= e.cfg.CommitRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[LEDGER] Retrying commit (attempt %d/%d): %v", attempt, e.cfg.CommitRetries, lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrLedgerCommitFailed, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = e.runOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", ErrLedgerCommitFailed, lastErr)
}

func (e *LedgerEngine) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrLedgerCommitFailed, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// PostTransfer validates and commits one transfer intent atomically.
func (e *LedgerEngine) PostTransfer(ctx context.Context, intent models.TransferIntent) (*models.TransferResult, error) {
	if intent.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, intent.Amount)
	}

	var result *models.TransferResult
	err := e.InTransaction(ctx, func(tx *sql.Tx) error {
		var txErr error
		result, txErr = e.PostTransferTx(tx, intent)
		return txErr
	})
	if err != nil {
		e.audit.LogError(intent.RefType, intent.RefID, err)
		return nil, err
	}
	return result, nil
}

// PostTransferTx performs the transfer inside the caller's transaction, for
// call sites that need other rows (a pledge record) to commit with it.
//
// The sequence: replay check, lock both accounts in deterministic key order,
// funds check, paired entries, paired balance updates. Locking before the
// funds check is what closes the double-spend window: two transfers against
// the same source serialize on the row lock, and the second observes the
// first's debit.
func (e *LedgerEngine) PostTransferTx(tx *sql.Tx, intent models.TransferIntent) (*models.TransferResult, error) {
	if intent.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, intent.Amount)
	}

	if replay, err := e.findReplayTx(tx, intent); err != nil {
		return nil, err
	} else if replay != nil {
		log.Printf("[LEDGER] Duplicate reference %s/%s, returning original result", intent.RefType, intent.RefID)
		return replay, nil
	}

	source, dest, err := e.resolveAccountsTx(tx, intent)
	if err != nil {
		return nil, err
	}

	result := &models.TransferResult{}

	if source != nil {
		if source.Balance < intent.Amount {
			return nil, fmt.Errorf("%w: account %s has %d GLM, needs %d", ErrInsufficientFunds, source.ID, source.Balance, intent.Amount)
		}
		debit := &models.LedgerEntry{
			AccountID: source.ID,
			EntryType: models.EntryTypeDebit,
			Amount:    intent.Amount,
			RefType:   intent.RefType,
			RefID:     intent.RefID,
		}
		if err := e.ledger.AppendTx(tx, debit); err != nil {
			return nil, err
		}
		if _, err := e.accounts.AdjustBalanceTx(tx, source, -intent.Amount); err != nil {
			return nil, err
		}
		result.DebitEntry = debit
	}

	credit := &models.LedgerEntry{
		AccountID: dest.ID,
		EntryType: models.EntryTypeCredit,
		Amount:    intent.Amount,
		RefType:   intent.RefType,
		RefID:     intent.RefID,
	}
	if err := e.ledger.AppendTx(tx, credit); err != nil {
		return nil, err
	}
	if _, err := e.accounts.AdjustBalanceTx(tx, dest, intent.Amount); err != nil {
		return nil, err
	}
	result.CreditEntry = credit

	if source != nil {
		e.audit.LogTransfer(intent.RefType, intent.RefID, source.ID, dest.ID, intent.Amount, "SUCCESS")
	} else {
		e.audit.LogIssuance(intent.RefType, intent.RefID, dest.ID, intent.Amount)
	}
	return result, nil
}

// findReplayTx detects an idempotent re-submission by (refType, refID) and
// reassembles the originally committed result.
func (e *LedgerEngine) findReplayTx(tx *sql.Tx, intent models.TransferIntent) (*models.TransferResult, error) {
	entries, err := e.ledger.FindByReferenceTx(tx, intent.RefType, intent.RefID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}

	result := &models.TransferResult{Replayed: true}
	for i := range entries {
		switch entries[i].EntryType {
		case models.EntryTypeDebit:
			result.DebitEntry = &entries[i]
		case models.EntryTypeCredit:
			result.CreditEntry = &entries[i]
		}
	}
	return result, nil
}

// resolveAccountsTx locks (creating if needed) the accounts an intent touches.
// Accounts are taken in owner-key order regardless of transfer direction so
// two opposing transfers cannot deadlock on each other's rows. Only the
// source side is eligible for the signup grant on lazy creation; destinations
// always start at zero.
func (e *LedgerEngine) resolveAccountsTx(tx *sql.Tx, intent models.TransferIntent) (source, dest *models.Account, err error) {
	if intent.From == nil {
		dest, err = e.resolveOneTx(tx, intent.To, false)
		return nil, dest, err
	}

	if intent.From.Key() <= intent.To.Key() {
		if source, err = e.resolveOneTx(tx, *intent.From, true); err != nil {
			return nil, nil, err
		}
		dest, err = e.resolveOneTx(tx, intent.To, false)
	} else {
		if dest, err = e.resolveOneTx(tx, intent.To, false); err != nil {
			return nil, nil, err
		}
		source, err = e.resolveOneTx(tx, *intent.From, true)
	}
	return source, dest, err
}

// resolveOneTx locks one account, creating it lazily on first reference.
// When seedGrant is set and the owner is a user, the new account starts with
// the signup grant, recorded as a single system-origin CREDIT with no paired
// DEBIT. Post accounts and transfer destinations start at zero.
func (e *LedgerEngine) resolveOneTx(tx *sql.Tx, ref models.AccountRef, seedGrant bool) (*models.Account, error) {
	var initial int64
	if seedGrant && ref.OwnerType == models.OwnerTypeUser {
		initial = e.cfg.SignupGrantGLM
	}

	account, created, err := e.accounts.GetOrCreateTx(tx, ref, initial)
	if err != nil {
		return nil, err
	}
	if created && initial > 0 {
		seed := &models.LedgerEntry{
			AccountID: account.ID,
			EntryType: models.EntryTypeCredit,
			Amount:    initial,
			RefType:   models.RefTypeCreditPurchase,
			RefID:     "signup_" + ref.OwnerID,
		}
		if err := e.ledger.AppendTx(tx, seed); err != nil {
			return nil, err
		}
		log.Printf("[LEDGER] Seeded new %s account %s with %d GLM", ref.OwnerType, account.ID, initial)
	}
	return account, nil
}

// EnsureUserAccount creates and seeds the user's account if it does not exist
// yet. Registration calls this so the signup grant shows up before the user's
// first pledge.
func (e *LedgerEngine) EnsureUserAccount(ctx context.Context, userID string) error {
	return e.InTransaction(ctx, func(tx *sql.Tx) error {
		_, err := e.resolveOneTx(tx, models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: userID}, true)
		return err
	})
}

// PostPledgeTx moves GLM from the pledger's user account to the post's
// account within the caller's transaction, so the pledge record and the
// transfer commit as one unit.
func (e *LedgerEngine) PostPledgeTx(tx *sql.Tx, pledgerID, postID string, amount int64, pledgeID string) (*models.TransferResult, error) {
	return e.PostTransferTx(tx, models.TransferIntent{
		Amount:  amount,
		From:    &models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: pledgerID},
		To:      models.AccountRef{OwnerType: models.OwnerTypePost, OwnerID: postID},
		RefType: models.RefTypePledge,
		RefID:   pledgeID,
	})
}

// PostUserTransfer moves GLM between two user wallets.
func (e *LedgerEngine) PostUserTransfer(ctx context.Context, fromUserID, toUserID string, amount int64, refID string) (*models.TransferResult, error) {
	return e.PostTransfer(ctx, models.TransferIntent{
		Amount:  amount,
		From:    &models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: fromUserID},
		To:      models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: toUserID},
		RefType: models.RefTypeTransfer,
		RefID:   refID,
	})
}

// PostCreditIssuance credits GLM into a user wallet with no source account:
// a single system-origin CREDIT entry.
func (e *LedgerEngine) PostCreditIssuance(ctx context.Context, userID string, amount int64, refID string) (*models.TransferResult, error) {
	return e.PostTransfer(ctx, models.TransferIntent{
		Amount:  amount,
		To:      models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: userID},
		RefType: models.RefTypeCreditPurchase,
		RefID:   refID,
	})
}
