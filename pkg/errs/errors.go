// Package errs defines the error kinds the core produces. Callers match them
// with errors.Is / errors.As; the API layer maps them to HTTP statuses.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not resolve.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when a public-API precondition is violated.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState is returned when an operation is called in a session
	// state the state machine disallows.
	ErrInvalidState = errors.New("invalid session state")
)

// ValidationError wraps field-specific validation failures. It matches
// ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
