package tot

import (
	"errors"
	"fmt"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/types"
)

var (
	// ErrValidation marks a tree invariant violation.
	ErrValidation = errors.New("validation error")
	// ErrGraphExecution marks an unexpected failure inside the search loop.
	ErrGraphExecution = errors.New("graph execution error")
	// ErrConfiguration marks an invalid RunConfig.
	ErrConfiguration = types.ErrConfiguration
)

// ConfigurationError reports a rejected configuration field.
type ConfigurationError = types.ConfigurationError

// ValidationError describes which invariant failed. The offending mutation
// has already been rolled back when it is returned.
type ValidationError struct {
	Level  ValidationLevel
	NodeID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("validation error (%s): %s", e.Level, e.Reason)
	}
	return fmt.Sprintf("validation error (%s): node %s: %s", e.Level, e.NodeID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// GraphExecutionError wraps a failure raised by one stage of the loop.
type GraphExecutionError struct {
	Stage string
	Err   error
	Stack string
}

func (e *GraphExecutionError) Error() string {
	return fmt.Sprintf("graph execution error in %s: %v", e.Stage, e.Err)
}

func (e *GraphExecutionError) Unwrap() []error { return []error{ErrGraphExecution, e.Err} }
