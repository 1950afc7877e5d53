package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goloanme/backend/internal/models"
)

// AccountStore is the durable (ownerType, ownerID) → balance mapping. It never
// writes ledger entries itself; pairing a balance change with its entry is the
// engine's job, so the invariant is enforced at a single call site.
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// GetOrCreateTx returns the account for the owner, creating it with
// initialBalance on first reference, and locks its row for the rest of the
// transaction. The unique (owner_type, owner_id) constraint makes concurrent
// first-access safe: the losing inserter simply reads the winner's row.
func (s *AccountStore) GetOrCreateTx(tx *sql.Tx, ref models.AccountRef, initialBalance int64) (*models.Account, bool, error) {
	res, err := tx.Exec(`
		INSERT INTO accounts (id, owner_type, owner_id, balance_glm, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (owner_type, owner_id) DO NOTHING`,
		uuid.NewString(), ref.OwnerType, ref.OwnerID, initialBalance, time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("create account %s: %w", ref.Key(), err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	account, err := s.lockAccountTx(tx, ref)
	if err != nil {
		return nil, false, err
	}
	return account, inserted == 1, nil
}

// lockAccountTx reads an account under FOR UPDATE so the balance the caller
// checks cannot change before the caller's own update commits.
func (s *AccountStore) lockAccountTx(tx *sql.Tx, ref models.AccountRef) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, owner_type, owner_id, balance_glm, version, created_at, updated_at
		FROM accounts
		WHERE owner_type = $1 AND owner_id = $2
		FOR UPDATE`, ref.OwnerType, ref.OwnerID).
		Scan(&account.ID, &account.OwnerType, &account.OwnerID, &account.Balance,
			&account.Version, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, ref.Key())
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// AdjustBalanceTx applies delta to a locked account and returns the new
// balance. The version check backs up the row lock: if another writer slipped
// in, the caller's transaction retries rather than committing a stale balance.
func (s *AccountStore) AdjustBalanceTx(tx *sql.Tx, account *models.Account, delta int64) (int64, error) {
	newBalance := account.Balance + delta
	if newBalance < 0 {
		return 0, fmt.Errorf("%w: account %s has %d GLM, needs %d", ErrInsufficientFunds, account.ID, account.Balance, -delta)
	}

	res, err := tx.Exec(`
		UPDATE accounts
		SET balance_glm = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), account.ID, account.Version)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, fmt.Errorf("%w: account %s version %d", errStaleAccount, account.ID, account.Version)
	}

	account.Balance = newBalance
	account.Version++
	return newBalance, nil
}

// GetByOwner is the read-only lookup used by the reporting layer.
func (s *AccountStore) GetByOwner(ctx context.Context, ref models.AccountRef) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_type, owner_id, balance_glm, version, created_at, updated_at
		FROM accounts
		WHERE owner_type = $1 AND owner_id = $2`, ref.OwnerType, ref.OwnerID).
		Scan(&account.ID, &account.OwnerType, &account.OwnerID, &account.Balance,
			&account.Version, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, ref.Key())
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}
