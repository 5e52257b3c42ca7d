package run

import (
	"context"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/cache"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// ThoughtGenerator proposes up to k next steps for a reasoning path.
// pathText is the root-to-node path; task carries the instruction and constraints.
type ThoughtGenerator interface {
	Propose(ctx context.Context, task tot.Task, pathText string, k int) ([]string, error)
}

// Evaluator scores one candidate step. pathText is the root-to-candidate path.
type Evaluator interface {
	Score(ctx context.Context, task tot.Task, candidate, pathText string) (tot.ValueScore, error)
}

// Synthesizer turns the best root-to-leaf chain into a final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, task tot.Task, chain []string) (string, error)
}

// RankedDoc is one reranker result: an index into the input documents and its relevance.
type RankedDoc struct {
	Index int
	Score float64
}

// Reranker reorders candidate documents by relevance to query, keeping at most topN.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, topN int) ([]RankedDoc, error)
}

// Memo is the subset of the semantic cache used by the loop.
type Memo interface {
	Search(ctx context.Context, query string, k int, minScore float64) ([]cache.Hit, error)
	Add(ctx context.Context, text string, metadata map[string]string) (bool, error)
}

// Collaborators bundles the external capabilities a run consumes.
// Reranker and Cache are optional.
type Collaborators struct {
	Generator   ThoughtGenerator
	Evaluator   Evaluator
	Synthesizer Synthesizer
	Reranker    Reranker
	Cache       Memo
}
