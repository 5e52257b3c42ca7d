package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/distance"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/types"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/embeddings"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/metrics"
)

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// vectorMemo remembers normalized embeddings per text hash, oldest out first.
// It is only touched under the cache lock.
type vectorMemo struct {
	max   int
	vecs  map[string][]float32
	order []string
}

func newVectorMemo(max int) *vectorMemo {
	return &vectorMemo{max: max, vecs: make(map[string][]float32)}
}

func (m *vectorMemo) get(key string) ([]float32, bool) {
	v, ok := m.vecs[key]
	return v, ok
}

func (m *vectorMemo) put(key string, vec []float32) {
	if m.max <= 0 {
		return
	}
	if _, ok := m.vecs[key]; ok {
		return
	}
	if len(m.order) >= m.max {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.vecs, oldest)
	}
	m.vecs[key] = vec
	m.order = append(m.order, key)
}

// embedLocked returns the L2-normalized embedding of text, retrying transient
// provider failures (including zero-norm vectors) with exponential backoff.
func (c *SemanticCache) embedLocked(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)
	if v, ok := c.memo.get(key); ok {
		return v, nil
	}

	attempts := 0
	var vec []float32
	op := func() error {
		attempts++
		v, err := c.embedder.Embed(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if embeddings.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			metrics.EmbeddingRequestsTotal.WithLabelValues("retry").Inc()
			return err
		}
		if len(v) != c.opts.Dimension {
			return backoff.Permanent(&types.DimensionMismatchError{Expected: c.opts.Dimension, Got: len(v)})
		}
		v = append([]float32(nil), v...)
		if distance.Normalize(v) == 0 {
			metrics.EmbeddingRequestsTotal.WithLabelValues("retry").Inc()
			return errZeroNorm
		}
		vec = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.EmbedBackoff
	b.MaxInterval = c.opts.EmbedMaxBackoff
	b.MaxElapsedTime = 0
	retries := c.opts.EmbedRetries - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, types.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, &EmbeddingError{Attempts: attempts, Err: err}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues("ok").Inc()
	c.memo.put(key, vec)
	return vec, nil
}
