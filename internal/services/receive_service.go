package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/goloanme/backend/internal/config"
)

// ErrReceiveUnavailable reports that the receive-code flow is disabled.
// Redis is optional at boot; without it there is nowhere to hold the codes.
var ErrReceiveUnavailable = errors.New("receive codes unavailable")

// ReceiveService issues short-lived "receive GLM" codes: a user renders the
// QR, another user scans it, and claiming it runs a wallet transfer through
// the ledger engine. Codes live in Redis and expire on their own.
type ReceiveService struct {
	redis  *redis.Client
	engine *LedgerEngine
	cfg    *config.FundingConfig
}

// ReceiveCode is the payload encoded behind a receive QR.
type ReceiveCode struct {
	UserID    string `json:"userId"`
	Amount    int64  `json:"amount"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

func NewReceiveService(redisClient *redis.Client, engine *LedgerEngine, cfg *config.FundingConfig) *ReceiveService {
	return &ReceiveService{
		redis:  redisClient,
		engine: engine,
		cfg:    cfg,
	}
}

// GenerateReceiveCode creates a one-time code requesting amount GLM for
// userID and returns the opaque code plus a base64 PNG QR image of it.
func (s *ReceiveService) GenerateReceiveCode(ctx context.Context, userID string, amount int64) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrReceiveUnavailable
	}
	if amount <= 0 {
		return "", "", fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	payload := ReceiveCode{
		UserID:    userID,
		Amount:    amount,
		Nonce:     generateNonce(),
		Timestamp: time.Now().Unix(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("receive:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, s.cfg.ReceiveCodeTTL).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ClaimReceiveCode consumes a scanned code and transfers the requested amount
// from the payer to the requester. The nonce keys the ledger reference, so a
// double-submitted claim replays the original transfer instead of paying
// twice; the Redis delete is just cleanup.
func (s *ReceiveService) ClaimReceiveCode(ctx context.Context, payerUserID, code string) (*ReceiveCode, error) {
	if s.redis == nil {
		return nil, ErrReceiveUnavailable
	}
	key := fmt.Sprintf("receive:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired receive code")
	}
	if err != nil {
		return nil, err
	}

	var payload ReceiveCode
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload.UserID == payerUserID {
		return nil, fmt.Errorf("cannot pay your own receive code")
	}

	refID := "receive_" + payload.Nonce
	if _, err := s.engine.PostUserTransfer(ctx, payerUserID, payload.UserID, payload.Amount, refID); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)
	return &payload, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
