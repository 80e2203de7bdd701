package config

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid or missing profile, a cyclic pointer, or a
// missing environment variable. Config errors are fatal at startup.
type ConfigError struct {
	err error
}

func (e *ConfigError) Error() string {
	return e.err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

// NewConfigError wraps an error as a configuration failure.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{err: fmt.Errorf(format, args...)}
}

// IsConfigError returns true if the error is a ConfigError.
func IsConfigError(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}
