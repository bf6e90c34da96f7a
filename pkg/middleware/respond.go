package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmarulanda/finledger/internal/domain/common"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes a JSON error body.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteDomainError maps the domain error taxonomy onto HTTP status codes.
// The wrapped message is passed through so detection and extraction failures
// keep their user-facing reason.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrBadRequest):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrEmptyBuffer):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrUnauthenticated):
		WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrForbidden):
		WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, common.ErrRateLimited):
		WriteError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, common.ErrQuotaExceeded):
		WriteError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, common.ErrDetectionFailed), errors.Is(err, common.ErrExtractionFailed):
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
