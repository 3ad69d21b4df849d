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
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account-security errors
	ErrFactorConflict    = errors.New("another second factor is already active")
	ErrFactorNotEnrolled = errors.New("second factor not enrolled")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvariant         = errors.New("invariant violation")
)

// RateLimitError is returned when an operation is blocked by a cooldown or
// lockout window. It wraps ErrRateLimited and carries a retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
