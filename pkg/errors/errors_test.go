package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewInvalidInputError("track name is required")
	assert.Equal(t, "INVALID_INPUT: track name is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	cause := errors.New("disk full")
	wrapped := WrapError(cause, ErrCodeInternal, "failed to store track", http.StatusInternalServerError)
	assert.Equal(t, "INTERNAL_ERROR: failed to store track: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewNotFoundError("track").WithContext("track_id", 7)
	assert.Equal(t, "track not found", err.Message)
	assert.Equal(t, 7, err.Context["track_id"])
}

func TestGetAppError(t *testing.T) {
	assert.Nil(t, GetAppError(nil))
	assert.Nil(t, GetAppError(errors.New("plain")))

	appErr := NewForbiddenError("conductor only")
	wrapped := fmt.Errorf("playback: %w", appErr)

	got := GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Same(t, appErr, got)
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewUnauthorizedError("x"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewForbiddenError("x"), ErrCodeForbidden, http.StatusForbidden},
		{NewConflictError("x"), ErrCodeConflict, http.StatusConflict},
		{NewUnsupportedMediaError("x"), ErrCodeUnsupportedMedia, http.StatusUnprocessableEntity},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
		{NewServiceUnavailableError("x"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.HTTPStatus)
		})
	}
}
