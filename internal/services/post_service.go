package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/goloanme/backend/internal/models"
)

// PostService carries the minimal funding-post surface the ledger needs:
// a post must exist and be OPEN before it can receive pledges. Rich post
// content (images, categories, comments) lives in the frontend tier.
type PostService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewPostService(db *sql.DB) *PostService {
	return &PostService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// CreatePostRequest is the post creation payload.
type CreatePostRequest struct {
	Title           string `json:"title" validate:"required,min=3,max=120" example:"Medical Emergency Fund"`
	AcceptContracts bool   `json:"acceptContracts"`
}

// CreatePost creates a funding post
// @Summary Create a funding post
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreatePostRequest true "Post data"
// @Success 201 {object} object{success=bool,post=models.Post}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /posts [post]
func (s *PostService) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreatePostRequest
	if !DecodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	post := &models.Post{
		ID:              uuid.NewString(),
		OwnerID:         userID,
		Title:           req.Title,
		Status:          models.PostStatusOpen,
		AcceptContracts: req.AcceptContracts,
		CreatedAt:       time.Now(),
	}

	_, err := s.db.ExecContext(r.Context(), `
		INSERT INTO posts (id, owner_id, title, status, accept_contracts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		post.ID, post.OwnerID, post.Title, post.Status, post.AcceptContracts, post.CreatedAt)
	if err != nil {
		log.Printf("[POST] Failed to create post for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to create post", http.StatusInternalServerError, nil)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "post": post})
}

// ClosePost closes a post to further pledges
// @Summary Close a funding post
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Post ID"
// @Success 200 {object} object{success=bool}
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /posts/{id}/close [put]
func (s *PostService) ClosePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	postID := chi.URLParam(r, "id")

	var ownerID string
	err := s.db.QueryRowContext(r.Context(), `SELECT owner_id FROM posts WHERE id = $1`, postID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Post not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to close post", http.StatusInternalServerError, nil)
		return
	}
	if ownerID != userID {
		SendErrorResponse(w, "Only the post owner can close it", http.StatusForbidden, nil)
		return
	}

	if _, err := s.db.ExecContext(r.Context(),
		`UPDATE posts SET status = $1 WHERE id = $2`, models.PostStatusClosed, postID); err != nil {
		log.Printf("[POST] Failed to close post %s: %v", postID, err)
		SendErrorResponse(w, "Failed to close post", http.StatusInternalServerError, nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GetPost fetches one post with its funding progress
// @Summary Get a funding post
// @Tags posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} object{success=bool,post=models.Post,raisedGLM=int64}
// @Failure 404 {object} ErrorResponse
// @Router /posts/{id} [get]
func (s *PostService) GetPost(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	var post models.Post
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, owner_id, title, status, accept_contracts, created_at
		FROM posts WHERE id = $1`, postID).
		Scan(&post.ID, &post.OwnerID, &post.Title, &post.Status, &post.AcceptContracts, &post.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Post not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch post", http.StatusInternalServerError, nil)
		return
	}

	// Raised amount comes from the post account balance, which the ledger
	// keeps in lockstep with the pledge entries.
	var raised int64
	err = s.db.QueryRowContext(r.Context(), `
		SELECT COALESCE(balance_glm, 0) FROM accounts WHERE owner_type = $1 AND owner_id = $2`,
		models.OwnerTypePost, postID).Scan(&raised)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Failed to fetch post", http.StatusInternalServerError, nil)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "post": post, "raisedGLM": raised})
}
