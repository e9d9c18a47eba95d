package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/eyesee/license-server-go/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Envelope field carrying the outcome flag of a response.
const (
	FieldSuccess = "success"
	FieldValid   = "valid"
)

// WriteError writes an AppError as a {"success": false, ...} response with the
// status code derived from its error code.
func WriteError(w http.ResponseWriter, err error) {
	writeEnvelopeError(w, FieldSuccess, err)
}

// WriteValidityError is WriteError for endpoints whose envelope uses "valid".
func WriteValidityError(w http.ResponseWriter, err error) {
	writeEnvelopeError(w, FieldValid, err)
}

func writeEnvelopeError(w http.ResponseWriter, field string, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		log.Error().Err(err).Msg("unhandled error")
		appErr = apperrors.Internal("An unexpected error occurred")
	} else if appErr.Code == apperrors.ErrCodeDatabase || appErr.Code == apperrors.ErrCodeInternal {
		// Never leak storage details to callers.
		log.Error().Err(err).Msg("internal error")
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	body := map[string]any{
		field:   false,
		"error": appErr.Message,
		"code":  appErr.Code,
	}
	if appErr.Details != nil {
		body["details"] = appErr.Details
	}
	WriteJSON(w, StatusFromCode(appErr.Code), body)
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired,
		apperrors.ErrCodeInvalidFormat,
		apperrors.ErrCodeUnknownProduct,
		apperrors.ErrCodeChecksumMismatch,
		apperrors.ErrCodeAlreadyUsed,
		apperrors.ErrCodeAlreadyActivated,
		apperrors.ErrCodeProductMismatch,
		apperrors.ErrCodeAlreadyRevoked,
		apperrors.ErrCodeNotRevoked,
		apperrors.ErrCodeKeyInUse:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized

	// 403 Forbidden
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 500 Internal Server Error
	case apperrors.ErrCodeInternal,
		apperrors.ErrCodeDatabase:
		return http.StatusInternalServerError

	// 503 Service Unavailable
	case apperrors.ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
