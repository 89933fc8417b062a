// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/matledger/internal/shared"
)

// Transport-only sentinels; domain errors live in internal/shared.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := StatusFor(err)
	detail := ""
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}
	Problem(w, status, title, detail)
}

// StatusFor returns the HTTP status and problem title for err.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrInsufficientStock):
		return http.StatusConflict, "Insufficient Stock"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict, "Duplicate Request"
	case errors.Is(err, shared.ErrConnectivity):
		return http.StatusServiceUnavailable, "Store Unavailable"
	case errors.Is(err, shared.ErrTransaction):
		return http.StatusInternalServerError, "Transaction Failed"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
