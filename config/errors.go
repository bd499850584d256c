package config

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMissingKey is wrapped by every error reporting an absent required parameter.
var ErrMissingKey = errors.New("missing required parameter")

// ConfigurationError reports a missing or invalid parameter, or an unknown named resource such as a
// trajectory. It is returned by constructors and is fatal only to the thing being constructed.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewMissingKeyError returns a ConfigurationError for a required key that is not set.
func NewMissingKeyError(key string) error {
	return &ConfigurationError{Key: key, Err: ErrMissingKey}
}

// NewInvalidValueError returns a ConfigurationError for a key whose value cannot be used.
func NewInvalidValueError(key string, err error) error {
	return &ConfigurationError{Key: key, Err: err}
}

// NewOutOfRangeError returns a ConfigurationError for a value outside [lo, hi].
func NewOutOfRangeError(key string, value, lo, hi float64) error {
	return &ConfigurationError{
		Key: key,
		Err: errors.Errorf("value %v outside of range [%v, %v]", value, lo, hi),
	}
}

// NewUnknownNameError returns a ConfigurationError for a lookup of something that was never loaded.
func NewUnknownNameError(kind, name string) error {
	return &ConfigurationError{Key: name, Err: errors.Errorf("unknown %s", kind)}
}

// IsConfigurationError returns whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var confErr *ConfigurationError
	return errors.As(err, &confErr)
}
