package auth

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCreds     = "INVALID_CREDENTIALS"
	TextCodeTooManyAttempts  = "TOO_MANY_ATTEMPTS"
	TextCodeAccountLocked    = "ACCOUNT_LOCKED"
	TextCodeTokenExpired     = "TOKEN_EXPIRED"
	TextCodeTokenMalformed   = "TOKEN_MALFORMED"
	TextCodeTokenRevoked     = "TOKEN_REVOKED"
	TextCodeSessionNotFound  = "SESSION_NOT_FOUND"
	TextCodeEmailNotVerified = "EMAIL_NOT_VERIFIED"
	TextCodeEmptyPassword    = "EMPTY_PASSWORD"
	TextCodeIdentityNotFound = "IDENTITY_NOT_FOUND"
)

// ErrIdentityNotFound is the error we return for not found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound)

// ErrMismatchedHashAndPassword is returned for any credential mismatch.
// The message is deliberately generic so callers cannot tell a bad
// password apart from an unknown account.
var ErrMismatchedHashAndPassword = errors.New("the credentials provided are invalid", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned when a failed attempt crosses the
// lockout threshold
var ErrTooManyLoginAttempts = errors.New("too many login attempts, try again later", errors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts)

// ErrAccountLocked is returned while the lock window is active. It never
// carries remaining attempts or the unlock time.
var ErrAccountLocked = errors.New("account is temporarily locked", errors.CategoryRateLimit).
	WithTextCode(TextCodeAccountLocked)

// ErrTokenExpired is distinguishable from other token failures so clients
// can refresh instead of forcing a new login
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed covers bad signatures, bad shapes, and unexpected algs
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrTokenRevoked is returned when a token carries a stale token version
var ErrTokenRevoked = errors.New("token has been revoked", errors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(errors.CodeUnauthorized)

// ErrSessionNotFound is returned when a refresh token references a session
// that is absent, revoked, or expired
var ErrSessionNotFound = errors.New("session not found", errors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(errors.CodeUnauthorized)

// ErrEmailNotVerified blocks login until the address is confirmed
var ErrEmailNotVerified = errors.New("email address has not been verified", errors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified)

// ErrNoEmptyString rejects empty passwords before hashing
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}

	var rich *errors.Error
	if errors.As(err, &rich) && rich.TextCode == TextCodeTokenExpired {
		return true
	}

	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for malformed token errors
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}

	var rich *errors.Error
	if errors.As(err, &rich) && rich.TextCode == TextCodeTokenMalformed {
		return true
	}

	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsLockedError reports whether the error is one of the lockout errors
func IsLockedError(err error) bool {
	if err == nil {
		return false
	}

	var rich *errors.Error
	if errors.As(err, &rich) {
		return rich.TextCode == TextCodeAccountLocked || rich.TextCode == TextCodeTooManyAttempts
	}

	return false
}
