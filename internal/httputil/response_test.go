package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eyesee/license-server-go/internal/errors"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteError(t *testing.T) {
	t.Run("maps app error code to status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.NotFound("License"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "License not found", body["error"])
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("hides database error details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.Database(errors.New("pq: connection refused")))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "An unexpected error occurred", body["error"])
		assert.Equal(t, "INTERNAL_ERROR", body["code"])
	})

	t.Run("wraps unknown errors as internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
	})
}

func TestWriteValidityError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidityError(rec, apperrors.InvalidInput("hardwareId", "must be at least 8 characters"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["valid"])
	_, hasSuccess := body["success"]
	assert.False(t, hasSuccess)
}

func TestStatusFromCode(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want int
	}{
		{apperrors.ErrCodeInvalidFormat, http.StatusBadRequest},
		{apperrors.ErrCodeChecksumMismatch, http.StatusBadRequest},
		{apperrors.ErrCodeAlreadyActivated, http.StatusBadRequest},
		{apperrors.ErrCodeAlreadyRevoked, http.StatusBadRequest},
		{apperrors.ErrCodeUnauthorized, http.StatusUnauthorized},
		{apperrors.ErrCodeForbidden, http.StatusForbidden},
		{apperrors.ErrCodeNotFound, http.StatusNotFound},
		{apperrors.ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{apperrors.ErrCodeDatabase, http.StatusInternalServerError},
		{apperrors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{apperrors.ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StatusFromCode(tc.code), string(tc.code))
	}
}
