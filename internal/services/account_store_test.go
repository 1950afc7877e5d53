package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/goloanme/backend/internal/models"
)

func TestAccountStore_GetOrCreateTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db)
	ref := models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: "alice"}

	t.Run("creates and locks a new account", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "alice", int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "alice").
			WillReturnRows(accountRow("acct-alice", "USER", "alice", 1000, 1))

		account, created, err := store.GetOrCreateTx(tx, ref, 1000)
		assert.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "acct-alice", account.ID)
		assert.Equal(t, int64(1000), account.Balance)
	})

	t.Run("losing inserter reads the existing row", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "alice", int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "alice").
			WillReturnRows(accountRow("acct-alice", "USER", "alice", 750, 4))

		account, created, err := store.GetOrCreateTx(tx, ref, 1000)
		assert.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(750), account.Balance)
		assert.Equal(t, 4, account.Version)
	})
}

func TestAccountStore_AdjustBalanceTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db)

	t.Run("applies delta and bumps the version", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()
		account := &models.Account{ID: "acct-alice", Balance: 1000, Version: 3}

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(600), sqlmock.AnyArg(), "acct-alice", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		newBalance, err := store.AdjustBalanceTx(tx, account, -400)
		assert.NoError(t, err)
		assert.Equal(t, int64(600), newBalance)
		assert.Equal(t, int64(600), account.Balance)
		assert.Equal(t, 4, account.Version)
	})

	t.Run("rejects a balance that would go negative", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()
		account := &models.Account{ID: "acct-alice", Balance: 100, Version: 1}

		_, err := store.AdjustBalanceTx(tx, account, -150)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, int64(100), account.Balance)
	})

	t.Run("stale version is retryable", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()
		account := &models.Account{ID: "acct-alice", Balance: 1000, Version: 3}

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(600), sqlmock.AnyArg(), "acct-alice", 3).
			WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := store.AdjustBalanceTx(tx, account, -400)
		assert.Error(t, err)
		assert.True(t, isRetryable(err))
	})
}

func TestAccountStore_GetByOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db)
	ref := models.AccountRef{OwnerType: models.OwnerTypePost, OwnerID: "post1"}

	t.Run("returns the account", func(t *testing.T) {
		mock.ExpectQuery("FROM accounts").
			WithArgs("POST", "post1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_type", "owner_id", "balance_glm", "version", "created_at", "updated_at"}).
				AddRow("acct-post", "POST", "post1", 400, 2, time.Now(), time.Now()))

		account, err := store.GetByOwner(context.Background(), ref)
		assert.NoError(t, err)
		assert.Equal(t, int64(400), account.Balance)
	})

	t.Run("missing account maps to ErrAccountNotFound", func(t *testing.T) {
		mock.ExpectQuery("FROM accounts").
			WithArgs("POST", "post1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_type", "owner_id", "balance_glm", "version", "created_at", "updated_at"}))

		_, err := store.GetByOwner(context.Background(), ref)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}
