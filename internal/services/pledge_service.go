package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/goloanme/backend/internal/config"
	"github.com/goloanme/backend/internal/models"
)

// Pledge gate rejections, evaluated against the post row locked inside the
// pledge transaction.
var (
	errPostNotOpen          = errors.New("post is not accepting pledges")
	errContractsNotAccepted = errors.New("post does not accept contract pledges")
	errOwnPostPledge        = errors.New("cannot pledge to your own post")
)

// PledgeService handles pledge creation and listing. The pledge record and
// its ledger transfer commit in one database transaction: a pledge either
// exists fully funded, or not at all.
type PledgeService struct {
	db        *sql.DB
	engine    *LedgerEngine
	validator *ValidationHelper
	cfg       *config.FundingConfig
}

func NewPledgeService(db *sql.DB, engine *LedgerEngine, cfg *config.FundingConfig) *PledgeService {
	return &PledgeService{
		db:        db,
		engine:    engine,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// CreatePledgeRequest is the pledge creation payload.
type CreatePledgeRequest struct {
	Type   string `json:"type" validate:"required,oneof=DONATION CONTRACT" example:"DONATION"`
	Amount int64  `json:"amountGLM" validate:"required,gt=0" example:"400"`
	Note   string `json:"note" validate:"max=500"`
}

// CreatePledge posts a pledge against a funding post
// @Summary Create a pledge
// @Description Pledge GLM to a post; debits the pledger and credits the post atomically
// @Tags pledges
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post ID"
// @Param request body CreatePledgeRequest true "Pledge data"
// @Success 201 {object} object{success=bool,pledge=models.Pledge,result=models.TransferResult}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /posts/{id}/pledges [post]
func (s *PledgeService) CreatePledge(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	postID := chi.URLParam(r, "id")

	var req CreatePledgeRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount > s.cfg.MaxTransferGLM {
		SendErrorResponse(w, fmt.Sprintf("Amount exceeds the %d GLM pledge limit", s.cfg.MaxTransferGLM), http.StatusBadRequest, nil)
		return
	}

	pledge := &models.Pledge{
		ID:        uuid.NewString(),
		PostID:    postID,
		PledgerID: userID,
		Type:      req.Type,
		Amount:    req.Amount,
		Note:      req.Note,
		CreatedAt: time.Now(),
	}

	// The post gates run inside the ledger transaction, on a share-locked
	// row, so a concurrent close cannot land between the check and the
	// transfer.
	var result *models.TransferResult
	err := s.engine.InTransaction(r.Context(), func(tx *sql.Tx) error {
		post, err := s.lockPostTx(tx, postID)
		if err != nil {
			return err
		}
		if post.Status != models.PostStatusOpen {
			return errPostNotOpen
		}
		if req.Type == models.PledgeTypeContract && !post.AcceptContracts {
			return errContractsNotAccepted
		}
		if post.OwnerID == userID {
			return errOwnPostPledge
		}

		if _, err := tx.Exec(`
			INSERT INTO pledges (id, post_id, pledger_id, type, amount_glm, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			pledge.ID, pledge.PostID, pledge.PledgerID, pledge.Type, pledge.Amount, pledge.Note, pledge.CreatedAt); err != nil {
			return err
		}
		var txErr error
		result, txErr = s.engine.PostPledgeTx(tx, userID, postID, req.Amount, pledge.ID)
		return txErr
	})
	if err != nil {
		s.sendPledgeError(w, postID, err)
		return
	}

	log.Printf("[PLEDGE] User %s pledged %d GLM to post %s (pledge %s)", userID, req.Amount, postID, pledge.ID)
	WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"pledge":  pledge,
		"result":  result,
	})
}

// ListPledges lists pledges for a post
// @Summary List pledges for a post
// @Description Pledges ordered newest first, plus the total raised
// @Tags pledges
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} object{success=bool,data=object{pledges=[]models.Pledge,totalRaised=int64,pledgeCount=int}}
// @Failure 404 {object} ErrorResponse
// @Router /posts/{id}/pledges [get]
func (s *PledgeService) ListPledges(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	if _, err := s.fetchPost(r, postID); errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Post not found", http.StatusNotFound, nil)
		return
	} else if err != nil {
		log.Printf("[PLEDGE] Failed to fetch post %s: %v", postID, err)
		SendErrorResponse(w, "Failed to fetch pledges", http.StatusInternalServerError, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, post_id, pledger_id, type, amount_glm, COALESCE(note, ''), created_at
		FROM pledges WHERE post_id = $1 ORDER BY created_at DESC`, postID)
	if err != nil {
		log.Printf("[PLEDGE] Failed to list pledges for post %s: %v", postID, err)
		SendErrorResponse(w, "Failed to fetch pledges", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	pledges := []models.Pledge{}
	var totalRaised int64
	for rows.Next() {
		var p models.Pledge
		if err := rows.Scan(&p.ID, &p.PostID, &p.PledgerID, &p.Type, &p.Amount, &p.Note, &p.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch pledges", http.StatusInternalServerError, nil)
			return
		}
		totalRaised += p.Amount
		pledges = append(pledges, p)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch pledges", http.StatusInternalServerError, nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"pledges":     pledges,
			"totalRaised": totalRaised,
			"pledgeCount": len(pledges),
		},
	})
}

func (s *PledgeService) fetchPost(r *http.Request, postID string) (*models.Post, error) {
	var post models.Post
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, owner_id, title, status, accept_contracts, created_at
		FROM posts WHERE id = $1`, postID).
		Scan(&post.ID, &post.OwnerID, &post.Title, &post.Status, &post.AcceptContracts, &post.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// lockPostTx reads the post with a share lock, blocking a concurrent close
// until the pledge commits (or vice versa).
func (s *PledgeService) lockPostTx(tx *sql.Tx, postID string) (*models.Post, error) {
	var post models.Post
	err := tx.QueryRow(`
		SELECT id, owner_id, title, status, accept_contracts, created_at
		FROM posts WHERE id = $1 FOR SHARE`, postID).
		Scan(&post.ID, &post.OwnerID, &post.Title, &post.Status, &post.AcceptContracts, &post.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// sendPledgeError maps gate rejections and mirrors the wallet service's
// ledger-error mapping so pledge rejections carry the same specific reasons.
func (s *PledgeService) sendPledgeError(w http.ResponseWriter, postID string, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		SendErrorResponse(w, "Post not found", http.StatusNotFound, nil)
	case errors.Is(err, errPostNotOpen):
		SendErrorResponse(w, "Post is not accepting pledges", http.StatusBadRequest, nil)
	case errors.Is(err, errContractsNotAccepted):
		SendErrorResponse(w, "This post does not accept contract pledges", http.StatusBadRequest, nil)
	case errors.Is(err, errOwnPostPledge):
		SendErrorResponse(w, "Cannot pledge to your own post", http.StatusBadRequest, nil)
	case errors.Is(err, ErrInvalidAmount):
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient GLM balance", http.StatusBadRequest, nil)
	case errors.Is(err, ErrLedgerCommitFailed):
		SendErrorResponse(w, "Pledge could not be committed, please retry", http.StatusServiceUnavailable, nil)
	default:
		log.Printf("[PLEDGE] Pledge to post %s failed: %v", postID, err)
		SendErrorResponse(w, "Failed to create pledge", http.StatusInternalServerError, nil)
	}
}
