package handlers

import (
	"errors"
	"net/http"

	"github.com/goloanme/backend/internal/services"
)

// ReceiveHandler fronts the receive-GLM QR flow.
type ReceiveHandler struct {
	service   *services.ReceiveService
	validator *services.ValidationHelper
}

func NewReceiveHandler(service *services.ReceiveService) *ReceiveHandler {
	return &ReceiveHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateReceiveCode generates a receive-GLM QR code
// @Summary Generate receive code
// @Description Create a one-time QR code requesting GLM into the caller's wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64} true "Requested amount"
// @Success 200 {object} object{success=bool,code=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/receive/generate [post]
func (h *ReceiveHandler) GenerateReceiveCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if !services.DecodeJSONBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	code, qrImage, err := h.service.GenerateReceiveCode(r.Context(), userID, req.Amount)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrReceiveUnavailable) {
			status = http.StatusServiceUnavailable
		}
		services.SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	services.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"code":    code,
		"qrImage": qrImage,
	})
}

// ClaimReceiveCode pays a scanned receive code
// @Summary Claim receive code
// @Description Transfer the requested GLM from the caller to the code's owner
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Scanned code"
// @Success 200 {object} object{success=bool,paidTo=string,amount=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/receive/claim [post]
func (h *ReceiveHandler) ClaimReceiveCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Code string `json:"code" validate:"required"`
	}
	if !services.DecodeJSONBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payload, err := h.service.ClaimReceiveCode(r.Context(), userID, req.Code)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrLedgerCommitFailed) || errors.Is(err, services.ErrReceiveUnavailable) {
			status = http.StatusServiceUnavailable
		}
		services.SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	services.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"paidTo":  payload.UserID,
		"amount":  payload.Amount,
	})
}
