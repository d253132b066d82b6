package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidToken        = "INVALID_TOKEN"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeUserExists          = "USER_EXISTS"
	TextCodeInvalidEmail        = "INVALID_EMAIL"
	TextCodeWeakPassword        = "WEAK_PASSWORD"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeUserNotFound        = "USER_NOT_FOUND"
	TextCodeNoUser              = "NO_USER"
	TextCodeEmailUnconfirmed    = "EMAIL_UNCONFIRMED"
	TextCodeRateLimited         = "RATE_LIMITED"
	TextCodeTooManyAttempts     = "TOO_MANY_ATTEMPTS"
	TextCodeProfileExists       = "PROFILE_EXISTS"
	TextCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	TextCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	TextCodeAuthFailed          = "AUTHENTICATION_FAILED"
	TextCodeSessionTimeout      = "SESSION_TIMEOUT"
	TextCodeInvalidTransition   = "INVALID_AUTH_TRANSITION"
	TextCodeNotInitialized      = "NOT_INITIALIZED"
	TextCodeCoordinatorClosed   = "COORDINATOR_CLOSED"
	TextCodeInvalidIndustry     = "INVALID_INDUSTRY"
)

// ErrInvalidToken is returned when a claims token cannot be decoded.
var ErrInvalidToken = goerrors.New("invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a claims token is past its exp claim.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserExists is returned when registering an email that is already taken.
var ErrUserExists = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeUserExists).
	WithCode(goerrors.CodeConflict)

var ErrInvalidEmail = goerrors.New("please enter a valid email address", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidEmail).
	WithCode(goerrors.CodeBadRequest)

var ErrWeakPassword = goerrors.New("password must be at least 8 characters long", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is the user facing error for a bad email/password pair.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

var ErrUserNotFound = goerrors.New("no account found for this email", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrNoUser is returned by operations that need an authenticated user.
var ErrNoUser = goerrors.New("no authenticated user", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoUser).
	WithCode(goerrors.CodeUnauthorized)

var ErrEmailUnconfirmed = goerrors.New("please confirm your email address before signing in", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailUnconfirmed).
	WithCode(goerrors.CodeForbidden)

var ErrRateLimited = goerrors.New("too many requests, please try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited)

// ErrTooManyLoginAttempts is returned while an identifier is locked out.
var ErrTooManyLoginAttempts = goerrors.New("too many failed login attempts, please try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts)

// ErrProfileExists is returned by ProfileStore.Insert on a uniqueness violation.
var ErrProfileExists = goerrors.New("profile already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeProfileExists).
	WithCode(goerrors.CodeConflict)

var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrProviderUnavailable = goerrors.New("authentication service is unavailable, please try again", goerrors.CategoryInternal).
	WithTextCode(TextCodeProviderUnavailable)

var ErrAuthenticationFailed = goerrors.New("authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionTimeout is returned when the session fetch loses the race
// against the initialization deadline.
var ErrSessionTimeout = goerrors.New("session fetch timed out", goerrors.CategoryInternal).
	WithTextCode(TextCodeSessionTimeout)

var ErrInvalidTransition = goerrors.New("invalid auth state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

var ErrNotInitialized = goerrors.New("auth coordinator is not initialized", goerrors.CategoryValidation).
	WithTextCode(TextCodeNotInitialized).
	WithCode(goerrors.CodeBadRequest)

var ErrCoordinatorClosed = goerrors.New("auth coordinator is closed", goerrors.CategoryConflict).
	WithTextCode(TextCodeCoordinatorClosed).
	WithCode(goerrors.CodeConflict)

var ErrInvalidIndustry = goerrors.New("industry must be construction or agriculture", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidIndustry).
	WithCode(goerrors.CodeBadRequest)

// AuthErrorCode returns the text code of the first structured error in the
// chain, or an empty string.
func AuthErrorCode(err error) string {
	var e *goerrors.Error
	if errors.As(err, &e) && e != nil {
		return e.TextCode
	}
	return ""
}

// IsCode reports whether err carries the given text code.
func IsCode(err error, code string) bool {
	return err != nil && AuthErrorCode(err) == code
}

// UserMessage returns the human readable message kept in AuthState.Error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *goerrors.Error
	if errors.As(err, &e) && e != nil && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if IsCode(err, TextCodeTokenExpired) || errors.Is(err, jwt.ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if IsCode(err, TextCodeInvalidToken) || errors.Is(err, jwt.ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed")
}

// IsUniqueViolation reports whether err signals a duplicate row. It accepts
// ErrProfileExists as well as raw SQLite and Postgres driver messages.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if IsCode(err, TextCodeProfileExists) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		if strings.Contains(msg, "unique constraint") ||
			strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "sqlstate 23505") {
			return true
		}
	}
	return false
}

// ProviderError captures normalized remote provider response details.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	} else if e.Operation != "" {
		scope = e.Operation
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}

	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the non empty fields for error metadata.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// ProviderErrorClass is the user facing bucket of a remote failure.
type ProviderErrorClass string

const (
	ProviderErrorInvalidCredentials ProviderErrorClass = "invalid_credentials"
	ProviderErrorEmailUnconfirmed   ProviderErrorClass = "email_unconfirmed"
	ProviderErrorRateLimited        ProviderErrorClass = "rate_limited"
	ProviderErrorUserNotFound       ProviderErrorClass = "user_not_found"
	ProviderErrorUnavailable        ProviderErrorClass = "unavailable"
	ProviderErrorUnknown            ProviderErrorClass = "unknown"
)

// ClassifyProviderError buckets a remote provider error. Errors that were
// already classified keep their class.
func ClassifyProviderError(err error) ProviderErrorClass {
	if err == nil {
		return ""
	}

	switch AuthErrorCode(err) {
	case TextCodeInvalidCredentials:
		return ProviderErrorInvalidCredentials
	case TextCodeEmailUnconfirmed:
		return ProviderErrorEmailUnconfirmed
	case TextCodeRateLimited, TextCodeTooManyAttempts:
		return ProviderErrorRateLimited
	case TextCodeUserNotFound:
		return ProviderErrorUserNotFound
	case TextCodeProviderUnavailable, TextCodeSessionTimeout:
		return ProviderErrorUnavailable
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		if class := classifyMessage(perr.Description); class != ProviderErrorUnknown {
			return class
		}
		switch strings.ToLower(perr.Code) {
		case "invalid_credentials", "invalid_grant":
			return ProviderErrorInvalidCredentials
		case "email_not_confirmed":
			return ProviderErrorEmailUnconfirmed
		case "over_request_rate_limit", "over_email_send_rate_limit", "too_many_requests":
			return ProviderErrorRateLimited
		case "user_not_found":
			return ProviderErrorUserNotFound
		}
		switch {
		case perr.Status == http.StatusTooManyRequests:
			return ProviderErrorRateLimited
		case perr.Status >= http.StatusInternalServerError:
			return ProviderErrorUnavailable
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ProviderErrorUnavailable
	}

	return classifyMessage(err.Error())
}

func classifyMessage(msg string) ProviderErrorClass {
	msg = strings.ToLower(msg)
	switch {
	case msg == "":
		return ProviderErrorUnknown
	case strings.Contains(msg, "invalid login credentials"),
		strings.Contains(msg, "invalid credentials"),
		strings.Contains(msg, "invalid email or password"):
		return ProviderErrorInvalidCredentials
	case strings.Contains(msg, "email not confirmed"):
		return ProviderErrorEmailUnconfirmed
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many"):
		return ProviderErrorRateLimited
	case strings.Contains(msg, "user not found"):
		return ProviderErrorUserNotFound
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return ProviderErrorUnavailable
	default:
		return ProviderErrorUnknown
	}
}

// ClassifiedError converts a remote failure into the matching user facing
// error. The original error is kept as the source.
func ClassifiedError(err error) error {
	if err == nil {
		return nil
	}
	if AuthErrorCode(err) != "" {
		return err
	}

	var base *goerrors.Error
	switch ClassifyProviderError(err) {
	case ProviderErrorInvalidCredentials:
		base = ErrInvalidCredentials
	case ProviderErrorEmailUnconfirmed:
		base = ErrEmailUnconfirmed
	case ProviderErrorRateLimited:
		base = ErrRateLimited
	case ProviderErrorUserNotFound:
		base = ErrUserNotFound
	case ProviderErrorUnavailable:
		base = ErrProviderUnavailable
	default:
		base = ErrAuthenticationFailed
	}

	return withSource(base, err)
}

func withSource(base *goerrors.Error, err error) error {
	meta := map[string]any{}
	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
	} else if err != nil {
		meta["error"] = err.Error()
	}

	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = err
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
