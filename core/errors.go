package core

import (
	"errors"
	"fmt"
)

// Error kinds shared across the pipeline. ValidationError fails the current
// unit of work without tearing down the host; InvariantError signals a logic
// bug and is fatal to the owning process.

// ValidationError reports malformed input: a bad TOML shape, an empty repo
// filter list, a zero-page document.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string {
	return e.err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// NewValidationError wraps an error as a validation failure.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{err: fmt.Errorf(format, args...)}
}

// IsValidation returns true if the error is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// InvariantError reports a broken internal invariant, such as a duplicate
// engram id during consolidation or a missing progress-tree node.
type InvariantError struct {
	err error
}

func (e *InvariantError) Error() string {
	return e.err.Error()
}

func (e *InvariantError) Unwrap() error {
	return e.err
}

// NewInvariantError wraps an error as an invariant violation.
func NewInvariantError(format string, args ...any) error {
	return &InvariantError{err: fmt.Errorf(format, args...)}
}

// IsInvariant returns true if the error is an InvariantError.
func IsInvariant(err error) bool {
	var v *InvariantError
	return errors.As(err, &v)
}
