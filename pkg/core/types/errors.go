package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the index, the cache and the run configuration.
var (
	// ErrConfiguration marks an invalid dimension, model or run configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrDimensionMismatch marks a vector whose length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// ConfigurationError reports which setting was rejected and why.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DimensionMismatchError carries the expected and received vector lengths.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }
