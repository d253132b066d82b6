package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepulse/go-auth"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured token expired error",
			err:      auth.ErrTokenExpired,
			expected: true,
		},
		{
			name:     "Legacy token expired error (string match)",
			err:      errors.New("some wrapper: token is expired"),
			expected: true,
		},
		{
			name:     "Different structured error",
			err:      auth.ErrUserNotFound,
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsTokenExpiredError(tt.err))
		})
	}
}

func TestIsMalformedError(t *testing.T) {
	assert.True(t, auth.IsMalformedError(auth.ErrInvalidToken))
	assert.True(t, auth.IsMalformedError(errors.New("token is malformed: bad segment")))
	assert.False(t, auth.IsMalformedError(auth.ErrTokenExpired))
	assert.False(t, auth.IsMalformedError(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"profile exists", auth.ErrProfileExists, true},
		{"sqlite", errors.New("constraint failed: UNIQUE constraint failed: profiles.id (1555)"), true},
		{"postgres", fmt.Errorf("insert: %w", errors.New(`ERROR: duplicate key value violates unique constraint "profiles_pkey" (SQLSTATE 23505)`)), true},
		{"other", errors.New("no such table: profiles"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsUniqueViolation(tt.err))
		})
	}
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected auth.ProviderErrorClass
	}{
		{
			name:     "invalid login credentials message",
			err:      &auth.ProviderError{Status: 400, Description: "Invalid login credentials"},
			expected: auth.ProviderErrorInvalidCredentials,
		},
		{
			name:     "invalid grant code",
			err:      &auth.ProviderError{Status: 400, Code: "invalid_grant"},
			expected: auth.ProviderErrorInvalidCredentials,
		},
		{
			name:     "email not confirmed",
			err:      &auth.ProviderError{Status: 400, Code: "email_not_confirmed", Description: "Email not confirmed"},
			expected: auth.ProviderErrorEmailUnconfirmed,
		},
		{
			name:     "rate limit status",
			err:      &auth.ProviderError{Status: 429},
			expected: auth.ProviderErrorRateLimited,
		},
		{
			name:     "user not found",
			err:      &auth.ProviderError{Status: 404, Code: "user_not_found"},
			expected: auth.ProviderErrorUserNotFound,
		},
		{
			name:     "server error",
			err:      &auth.ProviderError{Status: 502},
			expected: auth.ProviderErrorUnavailable,
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("get user: %w", context.DeadlineExceeded),
			expected: auth.ProviderErrorUnavailable,
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp 127.0.0.1:9999: connect: connection refused"),
			expected: auth.ProviderErrorUnavailable,
		},
		{
			name:     "session timeout",
			err:      auth.ErrSessionTimeout,
			expected: auth.ProviderErrorUnavailable,
		},
		{
			name:     "already classified",
			err:      auth.ErrEmailUnconfirmed,
			expected: auth.ProviderErrorEmailUnconfirmed,
		},
		{
			name:     "unknown",
			err:      errors.New("something odd"),
			expected: auth.ProviderErrorUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.ClassifyProviderError(tt.err))
		})
	}
}

func TestClassifiedError(t *testing.T) {
	perr := &auth.ProviderError{Provider: "gotrue", Operation: "sign_in", Status: 400, Code: "invalid_grant", Description: "Invalid login credentials"}

	err := auth.ClassifiedError(perr)
	require.Error(t, err)
	assert.True(t, auth.IsCode(err, auth.TextCodeInvalidCredentials))
	assert.Equal(t, "invalid email or password", auth.UserMessage(err))

	var gerr *goerrors.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "gotrue", gerr.Metadata["provider"])
	assert.Equal(t, 400, gerr.Metadata["status"])

	// the shared sentinel is not mutated
	assert.Nil(t, auth.ErrInvalidCredentials.Source)

	assert.True(t, auth.IsCode(auth.ClassifiedError(errors.New("weird")), auth.TextCodeAuthFailed))
	assert.Same(t, auth.ErrRateLimited, auth.ClassifiedError(auth.ErrRateLimited))
	assert.NoError(t, auth.ClassifiedError(nil))
}

func TestProviderErrorMessage(t *testing.T) {
	assert.Equal(t, "gotrue sign_in failed: Invalid login credentials",
		(&auth.ProviderError{Provider: "gotrue", Operation: "sign_in", Description: "Invalid login credentials"}).Error())
	assert.Equal(t, "gotrue failed: invalid_grant", (&auth.ProviderError{Provider: "gotrue", Code: "invalid_grant"}).Error())
	assert.Equal(t, "provider failed", (&auth.ProviderError{}).Error())
}

func TestStructuredErrorProperties(t *testing.T) {
	t.Run("ErrInvalidCredentials", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryAuth, auth.ErrInvalidCredentials.Category)
		assert.Equal(t, auth.TextCodeInvalidCredentials, auth.ErrInvalidCredentials.TextCode)
	})

	t.Run("ErrTooManyLoginAttempts", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryRateLimit, auth.ErrTooManyLoginAttempts.Category)
		assert.Equal(t, auth.TextCodeTooManyAttempts, auth.ErrTooManyLoginAttempts.TextCode)
	})

	t.Run("ErrProfileExists", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryConflict, auth.ErrProfileExists.Category)
		assert.Equal(t, auth.TextCodeProfileExists, auth.ErrProfileExists.TextCode)
	})

	t.Run("ErrWeakPassword", func(t *testing.T) {
		assert.Equal(t, goerrors.CategoryValidation, auth.ErrWeakPassword.Category)
		assert.Equal(t, "password must be at least 8 characters long", auth.UserMessage(auth.ErrWeakPassword))
	})
}
