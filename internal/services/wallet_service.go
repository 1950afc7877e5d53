package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/goloanme/backend/internal/config"
	"github.com/goloanme/backend/internal/models"
)

// WalletService exposes the wallet surface: summary, history, wallet-to-wallet
// transfers and demo top-ups. All mutation goes through the ledger engine;
// this service never touches balances directly.
type WalletService struct {
	db        *sql.DB
	engine    *LedgerEngine
	validator *ValidationHelper
	cfg       *config.FundingConfig
}

func NewWalletService(db *sql.DB, engine *LedgerEngine, cfg *config.FundingConfig) *WalletService {
	return &WalletService{
		db:        db,
		engine:    engine,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// TransferRequest is the wallet-to-wallet transfer payload.
type TransferRequest struct {
	ToHandle string `json:"toHandle" validate:"required,min=2,max=50" example:"carmen_rodriguez"`
	Amount   int64  `json:"amount" validate:"required,gt=0" example:"250"`
	Note     string `json:"note" validate:"max=200"`
}

// AddCreditsRequest is the demo top-up payload.
type AddCreditsRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0" example:"500"`
}

// GetWallet returns the caller's wallet summary
// @Summary Get wallet summary
// @Description Balance plus totals received/sent and transaction count derived from the ledger
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,data=models.WalletSummary}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /wallet [get]
func (s *WalletService) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	ref := models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: userID}
	account, err := s.engine.Accounts().GetByOwner(r.Context(), ref)
	if errors.Is(err, ErrAccountNotFound) {
		// No account until the first ledger touch. An empty summary matches
		// what the ledger would reconstruct.
		WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": models.WalletSummary{}})
		return
	}
	if err != nil {
		log.Printf("[WALLET] Failed to load account for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch wallet", http.StatusInternalServerError, nil)
		return
	}

	received, sent, count, err := s.engine.Ledger().SumsForAccount(r.Context(), account.ID)
	if err != nil {
		log.Printf("[WALLET] Failed to sum ledger for account %s: %v", account.ID, err)
		SendErrorResponse(w, "Failed to fetch wallet", http.StatusInternalServerError, nil)
		return
	}

	// The balance and the sums are two reads, so a transfer landing between
	// them can make the numbers momentarily disagree. The reporting layer
	// never mutates, so the next read converges.
	summary := models.WalletSummary{
		Balance:          account.Balance,
		TotalReceived:    received,
		TotalSent:        sent,
		TransactionCount: count,
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": summary})
}

// GetLedger returns one page of the caller's transaction history
// @Summary Get transaction history
// @Description Paginated ledger entries for the caller's account, newest first
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param type query string false "Filter by direction (credit or debit)"
// @Param refType query string false "Filter by reference kind (PLEDGE, TRANSFER, CREDIT_PURCHASE, REPAYMENT)"
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} object{success=bool,data=[]models.LedgerEntry,pagination=models.Pagination}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /wallet/ledger [get]
func (s *WalletService) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	page, limit := s.parsePagination(r)
	filter := LedgerFilter{
		EntryType: strings.ToUpper(r.URL.Query().Get("type")),
		RefType:   strings.ToUpper(r.URL.Query().Get("refType")),
	}
	switch filter.EntryType {
	case "", models.EntryTypeCredit, models.EntryTypeDebit:
	default:
		SendErrorResponse(w, "Unknown type filter, expected credit or debit", http.StatusBadRequest, nil)
		return
	}
	switch filter.RefType {
	case "", models.RefTypePledge, models.RefTypeTransfer, models.RefTypeCreditPurchase, models.RefTypeRepayment:
	default:
		SendErrorResponse(w, "Unknown refType filter, expected PLEDGE, TRANSFER, CREDIT_PURCHASE or REPAYMENT", http.StatusBadRequest, nil)
		return
	}

	ref := models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: userID}
	account, err := s.engine.Accounts().GetByOwner(r.Context(), ref)
	if errors.Is(err, ErrAccountNotFound) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"data":       []models.LedgerEntry{},
			"pagination": models.Pagination{Page: page, Limit: limit},
		})
		return
	}
	if err != nil {
		log.Printf("[WALLET] Failed to load account for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch ledger", http.StatusInternalServerError, nil)
		return
	}

	entries, total, err := s.engine.Ledger().ListForAccount(r.Context(), account.ID, filter, page, limit)
	if err != nil {
		log.Printf("[WALLET] Failed to list ledger for account %s: %v", account.ID, err)
		SendErrorResponse(w, "Failed to fetch ledger", http.StatusInternalServerError, nil)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	pages := int((total + int64(limit) - 1) / int64(limit))
	WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       entries,
		"pagination": models.Pagination{Page: page, Limit: limit, Total: total, Pages: pages},
	})
}

// TransferGLM moves GLM from the caller's wallet to another user's
// @Summary Transfer GLM to another user
// @Description Atomically debits the caller and credits the recipient, identified by handle
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} object{success=bool,message=string,result=models.TransferResult}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /wallet/transfer [post]
func (s *WalletService) TransferGLM(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req TransferRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount > s.cfg.MaxTransferGLM {
		SendErrorResponse(w, fmt.Sprintf("Amount exceeds the %d GLM transfer limit", s.cfg.MaxTransferGLM), http.StatusBadRequest, nil)
		return
	}

	recipientID, err := s.lookupUserByHandle(r, strings.TrimPrefix(req.ToHandle, "@"))
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Recipient not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[WALLET] Recipient lookup failed for handle %s: %v", req.ToHandle, err)
		SendErrorResponse(w, "Failed to transfer GLM", http.StatusInternalServerError, nil)
		return
	}
	if recipientID == userID {
		SendErrorResponse(w, "Cannot transfer GLM to yourself", http.StatusBadRequest, nil)
		return
	}

	refID := "transfer_" + uuid.NewString()
	result, err := s.engine.PostUserTransfer(r.Context(), userID, recipientID, req.Amount, refID)
	if err != nil {
		s.sendLedgerError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Transferred %d GLM to @%s", req.Amount, strings.TrimPrefix(req.ToHandle, "@")),
		"result":  result,
	})
}

// AddCredits tops up the caller's wallet with demo GLM
// @Summary Add GLM credits
// @Description Issues system-origin GLM credit into the caller's wallet (sandbox top-up)
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AddCreditsRequest true "Top-up request"
// @Success 200 {object} object{success=bool,message=string,newBalance=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /wallet/add-credits [post]
func (s *WalletService) AddCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req AddCreditsRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount > s.cfg.MaxTopUpGLM {
		SendErrorResponse(w, fmt.Sprintf("Amount exceeds the %d GLM top-up limit", s.cfg.MaxTopUpGLM), http.StatusBadRequest, nil)
		return
	}

	refID := "credit_" + uuid.NewString()
	result, err := s.engine.PostCreditIssuance(r.Context(), userID, req.Amount, refID)
	if err != nil {
		s.sendLedgerError(w, err)
		return
	}

	account, err := s.engine.Accounts().GetByOwner(r.Context(), models.AccountRef{OwnerType: models.OwnerTypeUser, OwnerID: userID})
	if err != nil {
		log.Printf("[WALLET] Failed to re-read balance after top-up for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to add credits", http.StatusInternalServerError, nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    fmt.Sprintf("Added %d GLM credits to your wallet", req.Amount),
		"newBalance": account.Balance,
		"result":     result,
	})
}

func (s *WalletService) lookupUserByHandle(r *http.Request, handle string) (string, error) {
	var id string
	err := s.db.QueryRowContext(r.Context(), `SELECT id FROM users WHERE handle = $1`, handle).Scan(&id)
	return id, err
}

// sendLedgerError maps the engine's failure taxonomy onto HTTP statuses. The
// UI shows the specific reason, since insufficient balance, bad input, and a
// transient outage each call for a different next action.
func (s *WalletService) sendLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient GLM balance", http.StatusBadRequest, nil)
	case errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, "Account not found", http.StatusInternalServerError, nil)
	case errors.Is(err, ErrLedgerCommitFailed):
		SendErrorResponse(w, "Transfer could not be committed, please retry", http.StatusServiceUnavailable, nil)
	default:
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
	}
}

func (s *WalletService) parsePagination(r *http.Request) (page, limit int) {
	page, limit = 1, s.cfg.DefaultPageSize
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	return page, limit
}

// DecodeJSONBody applies the shared body-size and strictness rules. It writes
// the error response itself and reports whether decoding succeeded.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
