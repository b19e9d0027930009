package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, CodeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, CodeNotFound, domainErr.Code)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	assert.Equal(t, "INVALID_TOTP: invalid or missing two-factor code", ErrInvalidTOTP.Error())

	wrapped := ErrInternal.Wrap(errors.New("db down"))
	assert.Equal(t, "INTERNAL: internal server error (db down)", wrapped.Error())
	assert.Nil(t, ErrInternal.Err, "sentinel must not be mutated")
}

func TestDomainError_Is(t *testing.T) {
	t.Run("same code matches", func(t *testing.T) {
		err := fmt.Errorf("login: %w", ErrInvalidTOTP)
		assert.ErrorIs(t, err, ErrInvalidTOTP)
	})

	t.Run("same type different code does not match", func(t *testing.T) {
		assert.False(t, errors.Is(ErrInvalidTOTP, ErrInvalidCredentials))
	})

	t.Run("target without code matches on type", func(t *testing.T) {
		anyAuth := &DomainError{Type: ErrorTypeUnauthorized}
		assert.True(t, errors.Is(ErrTokenUnknown, anyAuth))
	})

	t.Run("copies keep identity", func(t *testing.T) {
		err := ErrCrossOrgAccessDenied.WithDetail("route", "/x")
		assert.ErrorIs(t, err, ErrCrossOrgAccessDenied)
	})
}

func TestDomainError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	err := ErrRateLimited.WithDetail("retry_after", 30)

	assert.Equal(t, 30, err.Details["retry_after"])
	assert.Empty(t, ErrRateLimited.Details)
}

func TestDomainError_Category(t *testing.T) {
	tests := []struct {
		err  *DomainError
		want Category
	}{
		{ErrAccountLocked, CategoryAuth},
		{ErrInvalidCredentials, CategoryAuth},
		{ErrTokenExpired, CategoryAuth},
		{ErrCrossOrgAccessDenied, CategoryAuthorization},
		{ErrInsufficientPermissions, CategoryAuthorization},
		{ErrIPBlocked, CategoryRateLimit},
		{ErrInvalidInput, CategoryValidation},
		{ErrInternal, CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Category())
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrAccountLocked)

	assert.True(t, IsLockedError(wrapped))
	assert.False(t, IsRateLimitError(wrapped))
	assert.Equal(t, ErrorTypeLocked, GetErrorType(wrapped))
	assert.Equal(t, CodeAccountLocked, GetErrorCode(wrapped))

	plain := errors.New("plain")
	assert.Equal(t, ErrorType(""), GetErrorType(plain))
	assert.Equal(t, CodeInternal, GetErrorCode(plain))
	assert.Nil(t, GetErrorDetails(plain))

	internal := WrapInternal("store failed", plain)
	require.True(t, IsInternalError(internal))
	assert.ErrorIs(t, internal, plain)
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		err  error
		pred func(error) bool
	}{
		{ErrInvitationInvalid, IsNotFoundError},
		{ErrInvalidInput, IsValidationError},
		{ErrTokenUnknown, IsUnauthorizedError},
		{ErrNoActiveServices, IsForbiddenError},
		{ErrIPBlocked, IsRateLimitError},
		{ErrAccountLocked, IsLockedError},
		{ErrDuplicateEmail, IsConflictError},
		{ErrInternal, IsInternalError},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("ctx: %w", tt.err)
		assert.True(t, tt.pred(wrapped), "%v", tt.err)
		assert.False(t, tt.pred(errors.New("plain")))
	}
	assert.False(t, IsConflictError(ErrInvitationInvalid))
}
