package run

import (
	"context"
	"fmt"
	"sort"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/distance"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/embeddings"
)

// EmbeddingReranker ranks documents by cosine similarity between their
// embedding and the query embedding.
type EmbeddingReranker struct {
	embedder embeddings.Embedder
	sim      distance.SimilarityFuncF32
}

// NewEmbeddingReranker creates a reranker on top of embedder.
func NewEmbeddingReranker(embedder embeddings.Embedder) *EmbeddingReranker {
	sim, _ := distance.GetFloat32Func(distance.Cosine)
	return &EmbeddingReranker{embedder: embedder, sim: sim}
}

// Rerank returns at most topN documents, most relevant first. Equal scores
// keep their input order.
func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, docs []string, topN int) ([]RankedDoc, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	q, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rerank: embed query: %w", err)
	}

	ranked := make([]RankedDoc, len(docs))
	for i, doc := range docs {
		v, err := r.embedder.Embed(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("rerank: embed document %d: %w", i, err)
		}
		score, err := r.sim(q, v)
		if err != nil {
			return nil, fmt.Errorf("rerank: document %d: %w", i, err)
		}
		ranked[i] = RankedDoc{Index: i, Score: score}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}
