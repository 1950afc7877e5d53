package services

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid pledge request", func(t *testing.T) {
		valid := CreatePledgeRequest{
			Type:   "DONATION",
			Amount: 400,
		}

		err := vh.ValidateStruct(&valid)
		assert.NoError(t, err)
	})

	t.Run("invalid pledge type and amount", func(t *testing.T) {
		invalid := CreatePledgeRequest{
			Type:   "GIFT", // not in oneof
			Amount: 0,
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 2)
	})

	t.Run("transfer needs a handle", func(t *testing.T) {
		invalid := TransferRequest{Amount: 100}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Equal(t, "ToHandle", validationErrors[0].Field())
		assert.Equal(t, "required", validationErrors[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		invalid := TransferRequest{Amount: -5}

		validationErr := vh.ValidateStruct(&invalid)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.NotNil(t, response.Details)
		assert.Contains(t, response.Details, "ToHandle")
	})
}

func TestDecodeJSONBody(t *testing.T) {
	t.Run("unknown fields rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/wallet/add-credits",
			jsonBody(`{"amount": 100, "bogus": true}`))
		w := httptest.NewRecorder()

		var dst AddCreditsRequest
		ok := DecodeJSONBody(w, req, &dst)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("trailing content rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/wallet/add-credits",
			jsonBody(`{"amount": 100}{"amount": 200}`))
		w := httptest.NewRecorder()

		var dst AddCreditsRequest
		ok := DecodeJSONBody(w, req, &dst)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("single object accepted", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/wallet/add-credits",
			jsonBody(`{"amount": 100}`))
		w := httptest.NewRecorder()

		var dst AddCreditsRequest
		ok := DecodeJSONBody(w, req, &dst)
		assert.True(t, ok)
		assert.Equal(t, int64(100), dst.Amount)
	})
}
