package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/goloanme/backend/internal/config"
	"github.com/goloanme/backend/internal/models"
)

func testFundingConfig() *config.FundingConfig {
	return &config.FundingConfig{
		SignupGrantGLM:  1000,
		MaxTransferGLM:  1_000_000,
		MaxTopUpGLM:     100_000,
		CommitRetries:   1,
		CommitBackoff:   time.Millisecond,
		DefaultPageSize: 20,
		MaxPageSize:     100,
		ReceiveCodeTTL:  5 * time.Minute,
	}
}

func accountRow(id, ownerType, ownerID string, balance int64, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_type", "owner_id", "balance_glm", "version", "created_at", "updated_at"}).
		AddRow(id, ownerType, ownerID, balance, version, time.Now(), time.Now())
}

func emptyLedgerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "account_id", "entry_type", "amount_glm", "ref_type", "ref_id", "created_at"})
}

func TestLedgerEngine_PostTransfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	engine := NewLedgerEngine(db, testFundingConfig())

	t.Run("successful pledge transfer", func(t *testing.T) {
		mock.ExpectBegin()

		// No prior entries for this reference
		mock.ExpectQuery("FROM ledger_entries WHERE ref_type").
			WithArgs("PLEDGE", "pledge1").
			WillReturnRows(emptyLedgerRows())

		// Post account key sorts before the user key, so it is locked first
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "POST", "post1", int64(0), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("POST", "post1").
			WillReturnRows(accountRow("acct-post", "POST", "post1", 0, 1))

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "alice", int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "alice").
			WillReturnRows(accountRow("acct-alice", "USER", "alice", 1000, 3))

		// Debit side
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-alice", "DEBIT", int64(400), "PLEDGE", "pledge1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(600), sqlmock.AnyArg(), "acct-alice", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Credit side
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-post", "CREDIT", int64(400), "PLEDGE", "pledge1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(400), sqlmock.AnyArg(), "acct-post", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		result, err := engine.PostTransfer(context.Background(), models.TransferIntent{
			Amount:  400,
			From:    &models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: "alice"},
			To:      models.AccountRef{OwnerType: models.OwnerTypePost, OwnerID: "post1"},
			RefType: models.RefTypePledge,
			RefID:   "pledge1",
		})
		assert.NoError(t, err)
		assert.False(t, result.Replayed)
		assert.Equal(t, int64(11), result.DebitEntry.ID)
		assert.Equal(t, int64(400), result.DebitEntry.Amount)
		assert.Equal(t, "DEBIT", result.DebitEntry.EntryType)
		assert.Equal(t, int64(12), result.CreditEntry.ID)
		assert.Equal(t, "CREDIT", result.CreditEntry.EntryType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds leaves no entries", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM ledger_entries WHERE ref_type").
			WithArgs("TRANSFER", "transfer1").
			WillReturnRows(emptyLedgerRows())

		// USER:alice sorts before USER:bob, so the source locks first
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "alice", int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "alice").
			WillReturnRows(accountRow("acct-alice", "USER", "alice", 100, 1))

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "bob", int64(0), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "bob").
			WillReturnRows(accountRow("acct-bob", "USER", "bob", 0, 1))

		mock.ExpectRollback()

		result, err := engine.PostTransfer(context.Background(), models.TransferIntent{
			Amount:  150,
			From:    &models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: "alice"},
			To:      models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: "bob"},
			RefType: models.RefTypeTransfer,
			RefID:   "transfer1",
		})
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected before any SQL", func(t *testing.T) {
		for _, amount := range []int64{0, -50} {
			result, err := engine.PostTransfer(context.Background(), models.TransferIntent{
				Amount:  amount,
				From:    &models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: "alice"},
				To:      models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: "bob"},
				RefType: models.RefTypeTransfer,
				RefID:   "transfer2",
			})
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate reference replays original result", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM ledger_entries WHERE ref_type").
			WithArgs("PLEDGE", "pledge1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "entry_type", "amount_glm", "ref_type", "ref_id", "created_at"}).
				AddRow(int64(11), "acct-alice", "DEBIT", int64(400), "PLEDGE", "pledge1", time.Now()).
				AddRow(int64(12), "acct-post", "CREDIT", int64(400), "PLEDGE", "pledge1", time.Now()))

		mock.ExpectCommit()

		result, err := engine.PostTransfer(context.Background(), models.TransferIntent{
			Amount:  400,
			From:    &models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: "alice"},
			To:      models.AccountRef{OwnerType: models.OwnerTypePost, OwnerID: "post1"},
			RefType: models.RefTypePledge,
			RefID:   "pledge1",
		})
		assert.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, int64(11), result.DebitEntry.ID)
		assert.Equal(t, int64(12), result.CreditEntry.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerEngine_PostCreditIssuance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	engine := NewLedgerEngine(db, testFundingConfig())

	t.Run("single credit entry with no debit", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM ledger_entries WHERE ref_type").
			WithArgs("CREDIT_PURCHASE", "topup1").
			WillReturnRows(emptyLedgerRows())

		// Destination accounts never get the signup grant on lazy creation
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "bob", int64(0), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "bob").
			WillReturnRows(accountRow("acct-bob", "USER", "bob", 0, 1))

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-bob", "CREDIT", int64(500), "CREDIT_PURCHASE", "topup1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(500), sqlmock.AnyArg(), "acct-bob", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		result, err := engine.PostCreditIssuance(context.Background(), "bob", 500, "topup1")
		assert.NoError(t, err)
		assert.Nil(t, result.DebitEntry)
		assert.Equal(t, int64(500), result.CreditEntry.Amount)
		assert.Equal(t, "CREDIT", result.CreditEntry.EntryType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version retries then surfaces commit failure", func(t *testing.T) {
		// CommitRetries is 1 in the test config: one initial attempt plus one retry
		for attempt := 0; attempt < 2; attempt++ {
			mock.ExpectBegin()
			mock.ExpectQuery("FROM ledger_entries WHERE ref_type").
				WithArgs("CREDIT_PURCHASE", "topup2").
				WillReturnRows(emptyLedgerRows())
			mock.ExpectExec("INSERT INTO accounts").
				WithArgs(sqlmock.AnyArg(), "USER", "bob", int64(0), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
				WithArgs("USER", "bob").
				WillReturnRows(accountRow("acct-bob", "USER", "bob", 500, 2))
			mock.ExpectQuery("INSERT INTO ledger_entries").
				WithArgs("acct-bob", "CREDIT", int64(100), "CREDIT_PURCHASE", "topup2", sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(22)))
			mock.ExpectExec("UPDATE accounts").
				WithArgs(int64(600), sqlmock.AnyArg(), "acct-bob", 2).
				WillReturnResult(sqlmock.NewResult(0, 0)) // version check misses
			mock.ExpectRollback()
		}

		result, err := engine.PostCreditIssuance(context.Background(), "bob", 100, "topup2")
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrLedgerCommitFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerEngine_EnsureUserAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	engine := NewLedgerEngine(db, testFundingConfig())

	t.Run("first touch seeds the signup grant", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "carol", int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "carol").
			WillReturnRows(accountRow("acct-carol", "USER", "carol", 1000, 1))

		// The grant is documented as a system-origin CREDIT keyed on the user id
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-carol", "CREDIT", int64(1000), "CREDIT_PURCHASE", "signup_carol", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

		mock.ExpectCommit()

		err := engine.EnsureUserAccount(context.Background(), "carol")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing account is left untouched", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "carol", int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "carol").
			WillReturnRows(accountRow("acct-carol", "USER", "carol", 640, 7))

		mock.ExpectCommit()

		err := engine.EnsureUserAccount(context.Background(), "carol")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
