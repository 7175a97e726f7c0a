package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Challenge lifecycle errors
	ErrChallengeExpired = errors.New("challenge has expired")
	ErrAttemptsExceeded = errors.New("challenge attempts exceeded")

	// Account state errors
	ErrAccountLocked = errors.New("account is temporarily locked")

	// ErrDependencyUnavailable marks a degraded collaborator (notifier, analyzer, verifier backend)
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// AccountLockedError is returned while an identity is inside its lockout window.
// It carries enough detail for the caller to tell the user how long to wait.
type AccountLockedError struct {
	Email            string
	RemainingMinutes int
	FailedAttempts   int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked for %d more minute(s)", e.RemainingMinutes)
}

// Is reports ErrAccountLocked so callers can use errors.Is
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// ValidationError describes malformed request input. It is never recorded as a security incident.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrBadRequest
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
