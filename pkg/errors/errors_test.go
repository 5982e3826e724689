package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{ValidationError("bad"), ErrCodeValidation, http.StatusBadRequest},
		{UnauthorizedError("who"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{InvalidTokenError("bad token"), ErrCodeInvalidToken, http.StatusUnauthorized},
		{ExpiredTokenError(), ErrCodeExpiredToken, http.StatusUnauthorized},
		{ForbiddenError("no"), ErrCodeForbidden, http.StatusForbidden},
		{CallNotFoundError(), ErrCodeCallNotFound, http.StatusNotFound},
		{ConflictError("busy"), ErrCodeConflict, http.StatusConflict},
		{ActiveCallExistsError(), ErrCodeActiveCallExists, http.StatusConflict},
		{RateLimitExceededError(), ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{InternalError("boom"), ErrCodeInternal, http.StatusInternalServerError},
		{StorageError(stderrors.New("disk")), ErrCodeStorage, http.StatusInternalServerError},
		{ServiceUnavailableError("later"), ErrCodeServiceUnavail, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestHasCodeAndGetAppError(t *testing.T) {
	cause := stderrors.New("connection refused")
	wrapped := fmt.Errorf("claim: %w", StorageError(cause))

	assert.True(t, HasCode(wrapped, ErrCodeStorage))
	assert.False(t, HasCode(wrapped, ErrCodeConflict))
	assert.False(t, HasCode(cause, ErrCodeStorage))
	assert.ErrorIs(t, wrapped, cause)

	assert.Equal(t, ErrCodeStorage, GetAppError(wrapped).Code)
	plain := GetAppError(cause)
	assert.Equal(t, ErrCodeInternal, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.StatusCode)
}
