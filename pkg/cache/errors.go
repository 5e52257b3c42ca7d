package cache

import (
	"errors"
	"fmt"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/types"
)

var (
	// ErrCache marks a persistence failure. The cache keeps working in memory.
	ErrCache = errors.New("cache error")
	// ErrEmbedding marks an embedding provider failure after the retry budget.
	ErrEmbedding = errors.New("embedding error")
	// ErrDimensionMismatch marks a provider vector of the wrong length.
	ErrDimensionMismatch = types.ErrDimensionMismatch
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache closed")

	errZeroNorm = errors.New("embedding has zero norm")
)

// CacheError wraps an I/O failure while loading or saving the artifacts.
type CacheError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheError) Unwrap() []error { return []error{ErrCache, e.Err} }

// EmbeddingError reports the last provider error once retries are exhausted.
type EmbeddingError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() []error { return []error{ErrEmbedding, e.Err} }
