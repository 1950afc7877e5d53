package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestReceiveService_GenerateReceiveCode(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	cfg := testFundingConfig()
	service := NewReceiveService(redisClient, NewLedgerEngine(db, cfg), cfg)

	t.Run("stores the code and renders a QR", func(t *testing.T) {
		redisMock.Regexp().ExpectSet(`receive:.+`, `.+`, cfg.ReceiveCodeTTL).SetVal("OK")

		code, qrImage, err := service.GenerateReceiveCode(context.Background(), "u1", 250)
		assert.NoError(t, err)
		assert.NotEmpty(t, qrImage)

		// The code decodes back to the request it represents
		data, err := base64.URLEncoding.DecodeString(code)
		assert.NoError(t, err)
		var payload ReceiveCode
		assert.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, "u1", payload.UserID)
		assert.Equal(t, int64(250), payload.Amount)
		assert.NotEmpty(t, payload.Nonce)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		_, _, err := service.GenerateReceiveCode(context.Background(), "u1", 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("without redis the flow degrades to an error", func(t *testing.T) {
		// Redis is optional at boot, so the service must cope with a nil client
		degraded := NewReceiveService(nil, NewLedgerEngine(db, cfg), cfg)

		_, _, err := degraded.GenerateReceiveCode(context.Background(), "u1", 250)
		assert.ErrorIs(t, err, ErrReceiveUnavailable)
	})
}

func TestReceiveService_ClaimReceiveCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	cfg := testFundingConfig()
	service := NewReceiveService(redisClient, NewLedgerEngine(db, cfg), cfg)

	encodeReceiveCode := func(payload ReceiveCode) (string, []byte) {
		data, err := json.Marshal(payload)
		assert.NoError(t, err)
		return base64.URLEncoding.EncodeToString(data), data
	}

	t.Run("claim pays the requester", func(t *testing.T) {
		code, data := encodeReceiveCode(ReceiveCode{
			UserID:    "u1",
			Amount:    250,
			Nonce:     "nonce123",
			Timestamp: time.Now().Unix(),
		})

		redisMock.ExpectGet("receive:" + code).SetVal(string(data))

		mock.ExpectBegin()
		mock.ExpectQuery("FROM ledger_entries WHERE ref_type").
			WithArgs("TRANSFER", "receive_nonce123").
			WillReturnRows(emptyLedgerRows())

		// USER:u1 sorts before USER:u2, so the requester's account locks first
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "u1", int64(0), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "u1").
			WillReturnRows(accountRow("acct-u1", "USER", "u1", 100, 1))
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "USER", "u2", int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts(.|\n)*FOR UPDATE").
			WithArgs("USER", "u2").
			WillReturnRows(accountRow("acct-u2", "USER", "u2", 1000, 1))

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-u2", "DEBIT", int64(250), "TRANSFER", "receive_nonce123", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(61)))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(750), sqlmock.AnyArg(), "acct-u2", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-u1", "CREDIT", int64(250), "TRANSFER", "receive_nonce123", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(62)))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(350), sqlmock.AnyArg(), "acct-u1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		redisMock.ExpectDel("receive:" + code).SetVal(1)

		payload, err := service.ClaimReceiveCode(context.Background(), "u2", code)
		assert.NoError(t, err)
		assert.Equal(t, "u1", payload.UserID)
		assert.Equal(t, int64(250), payload.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired code", func(t *testing.T) {
		redisMock.ExpectGet("receive:badcode").RedisNil()

		_, err := service.ClaimReceiveCode(context.Background(), "u2", "badcode")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired")
	})

	t.Run("cannot pay your own code", func(t *testing.T) {
		code, data := encodeReceiveCode(ReceiveCode{
			UserID: "u1",
			Amount: 100,
			Nonce:  "nonce456",
		})
		redisMock.ExpectGet("receive:" + code).SetVal(string(data))

		_, err := service.ClaimReceiveCode(context.Background(), "u1", code)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "own receive code")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("without redis the flow degrades to an error", func(t *testing.T) {
		degraded := NewReceiveService(nil, NewLedgerEngine(db, cfg), cfg)

		_, err := degraded.ClaimReceiveCode(context.Background(), "u2", "anycode")
		assert.ErrorIs(t, err, ErrReceiveUnavailable)
	})
}
