package embeddings

import (
	"context"
	"hash/fnv"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/textanalyzer"
)

// HashEmbedder is a deterministic, offline embedder based on feature hashing.
// Each analyzed token (and each adjacent token pair) adds +1 or -1 to one
// bucket, so texts sharing vocabulary land close together. It is used when no
// remote provider is configured and in tests.
type HashEmbedder struct {
	dim      int
	analyzer textanalyzer.Analyzer
}

// NewHashEmbedder creates a hashing embedder producing vectors of length dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim, analyzer: textanalyzer.NewEnglishAnalyzer()}
}

// Dimension returns the output vector length.
func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dim)
	if e.dim == 0 || text == "" {
		return vec, nil
	}

	tokens := e.analyzer.Analyze(text)
	if len(tokens) == 0 {
		// Only stop words or punctuation: fall back to the raw text.
		tokens = []string{text}
	}
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return vec, nil
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}
