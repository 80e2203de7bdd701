package plugin

import (
	"errors"
	"fmt"
)

// LoadError reports a backend that is not registered or fails to
// instantiate. Load errors are fatal at startup.
type LoadError struct {
	err error
}

func (e *LoadError) Error() string { return e.err.Error() }
func (e *LoadError) Unwrap() error { return e.err }

// NewLoadError wraps an error as a plugin load failure.
func NewLoadError(format string, args ...any) error {
	return &LoadError{err: fmt.Errorf(format, args...)}
}

// IsLoadError returns true if the error is a LoadError.
func IsLoadError(err error) bool {
	var l *LoadError
	return errors.As(err, &l)
}

// BackendError reports a network or IO failure inside a plugin call. The
// owning task's future carries it up the chain; there is no automatic retry.
type BackendError struct {
	Backend string
	err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Backend, e.err.Error())
}

func (e *BackendError) Unwrap() error { return e.err }

// NewBackendError wraps an error as a backend call failure.
func NewBackendError(backend string, format string, args ...any) error {
	return &BackendError{Backend: backend, err: fmt.Errorf(format, args...)}
}

// IsBackendError returns true if the error is a BackendError.
func IsBackendError(err error) bool {
	var b *BackendError
	return errors.As(err, &b)
}
