package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication outcomes
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrInvalidMFACode     = errors.New("invalid mfa code")
	ErrMFAExpired         = errors.New("mfa submission expired")
	ErrMFANotEnrolled     = errors.New("mfa is not enrolled")
	ErrWeakPassword       = errors.New("invalid password")

	// Token outcomes
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrTokenMalformed = errors.New("token malformed")

	// Informational: the device has no live trust marker
	ErrDeviceUntrusted = errors.New("device untrusted")

	// Infrastructure failure (shared key-value store or database unreachable)
	ErrStoreUnavailable = errors.New("store unavailable")
)

// LockoutError reports a throttled action together with the time left on the block.
// errors.Is(err, ErrAccountLocked) holds for every LockoutError.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrAccountLocked, e.RetryAfter.Round(time.Second))
}

func (e *LockoutError) Unwrap() error {
	return ErrAccountLocked
}

// RetryAfter extracts the retry-after duration from a lockout error, or 0.
func RetryAfter(err error) time.Duration {
	var le *LockoutError
	if errors.As(err, &le) {
		return le.RetryAfter
	}
	return 0
}
