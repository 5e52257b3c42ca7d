package run

import (
	"context"
	"testing"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/embeddings"
)

func TestEmbeddingReranker(t *testing.T) {
	r := NewEmbeddingReranker(embeddings.NewHashEmbedder(256))
	docs := []string{"weather report for tomorrow", "plan the travel to paris", "quantum field theory lecture"}

	ranked, err := r.Rerank(context.Background(), "paris travel plan", docs, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 1 || ranked[0].Index != 1 {
		t.Fatalf("ranked = %+v, want the paris document first", ranked)
	}
	if ranked[0].Score <= 0 || ranked[0].Score > 1.0001 {
		t.Errorf("score %f out of cosine range", ranked[0].Score)
	}

	all, _ := r.Rerank(context.Background(), "paris travel plan", docs, 0)
	if len(all) != len(docs) {
		t.Errorf("topN 0 should keep all documents, got %d", len(all))
	}
	if empty, err := r.Rerank(context.Background(), "q", nil, 3); err != nil || empty != nil {
		t.Errorf("empty input: %v %v", empty, err)
	}
}
