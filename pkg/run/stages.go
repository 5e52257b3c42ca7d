package run

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// Candidates shorter or longer than these rune counts skip the evaluator.
const (
	MinCandidateRunes = 10
	MaxCandidateRunes = 500
	HeuristicLowScore = 0.1
)

const heuristicJustification = "heuristic low score"

// propose expands the nodes chosen by the strategy and returns the new children.
func (c *Controller) propose(ctx context.Context) ([]*tot.Node, error) {
	t := c.tree
	cfg := t.Config
	ids := c.strategy.SelectForExpansion(t)

	var created []*tot.Node
	expanded := 0
	for _, id := range ids {
		node := t.Node(id)
		if node == nil || node.Depth >= cfg.MaxDepth {
			continue
		}
		path := t.PathString(id)
		candidates, err := c.candidatesFor(ctx, path)
		if err != nil {
			return nil, err
		}
		if len(candidates) > cfg.BranchingFactor {
			candidates = candidates[:cfg.BranchingFactor]
		}
		for _, text := range candidates {
			child, err := t.AddChild(id, text)
			if err != nil {
				return nil, err
			}
			created = append(created, child)
		}
		expanded++
	}
	t.NodesExpanded += expanded
	c.logger.Debug("[Propose] Expanded frontier", "expanded", expanded, "new_nodes", len(created))
	return created, nil
}

// candidatesFor returns proposals for path, from the cache when a close
// enough entry exists.
func (c *Controller) candidatesFor(ctx context.Context, path string) ([]string, error) {
	cfg := c.tree.Config
	key := "propose:" + path + ":" + c.tree.Task.Constraints

	if hit, ok := c.lookup(ctx, key); ok {
		var cached []string
		if err := json.Unmarshal([]byte(hit["candidates"]), &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	raw, err := c.deps.Generator.Propose(ctx, c.tree.Task, path, cfg.BranchingFactor)
	if err != nil {
		return nil, err
	}
	candidates := cleanCandidates(raw)
	if len(candidates) > 0 {
		if enc, err := json.Marshal(candidates); err == nil {
			c.store(ctx, key, map[string]string{"candidates": string(enc)})
		}
	}
	return candidates, nil
}

func cleanCandidates(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// rerank reorders nodes by reranker relevance and keeps the top N. Any
// reranker failure leaves the nodes untouched.
func (c *Controller) rerank(ctx context.Context, nodes []*tot.Node) []*tot.Node {
	cfg := c.tree.Config
	if !cfg.UseReranker || c.deps.Reranker == nil || len(nodes) == 0 {
		return nodes
	}
	docs := make([]string, len(nodes))
	for i, n := range nodes {
		docs[i] = n.Text
	}
	ranked, err := c.deps.Reranker.Rerank(ctx, c.tree.Task.Instruction, docs, cfg.RerankerTopN)
	if err != nil {
		c.logger.Warn("[Rerank] Reranker failed, keeping original order", "error", err)
		return nodes
	}

	out := make([]*tot.Node, 0, len(ranked))
	used := make(map[int]bool, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(nodes) || used[r.Index] {
			continue
		}
		used[r.Index] = true
		n := nodes[r.Index]
		if err := c.tree.SetRerankerScore(n.ID, r.Score); err != nil {
			c.logger.Warn("[Rerank] Could not record score", "node_id", n.ID, "error", err)
		}
		out = append(out, n)
		if cfg.RerankerTopN > 0 && len(out) == cfg.RerankerTopN {
			break
		}
	}
	c.logger.Debug("[Rerank] Reordered candidates", "in", len(nodes), "out", len(out))
	return out
}

type verdict struct {
	score float64
	raw   tot.ValueScore
}

// evaluate scores nodes with at most Parallelism evaluator calls in flight.
// Results are applied to the tree in node order once all calls returned.
func (c *Controller) evaluate(ctx context.Context, nodes []*tot.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	t := c.tree
	cfg := t.Config

	// Paths are read before fanning out; the tree is not touched concurrently.
	paths := make([]string, len(nodes))
	for i, n := range nodes {
		paths[i] = t.PathString(n.ID)
	}

	results := make([]verdict, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Parallelism, 1))
	for i, n := range nodes {
		i, text := i, n.Text
		g.Go(func() error {
			v, err := c.scoreOne(gctx, text, paths[i])
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, n := range nodes {
		if err := t.MarkEvaluated(n.ID, results[i].score, results[i].raw); err != nil {
			return err
		}
	}
	c.logger.Debug("[Evaluate] Scored candidates", "count", len(nodes))
	return nil
}

func (c *Controller) scoreOne(ctx context.Context, text, path string) (verdict, error) {
	n := utf8.RuneCountInString(text)
	if n < MinCandidateRunes || n > MaxCandidateRunes {
		return verdict{score: HeuristicLowScore, raw: tot.ValueScore{
			Progress:      HeuristicLowScore,
			Promise:       HeuristicLowScore,
			Confidence:    HeuristicLowScore,
			Justification: heuristicJustification,
		}}, nil
	}

	key := "evaluate:" + path + ":" + c.tree.Task.Instruction
	if hit, ok := c.lookup(ctx, key); ok {
		if v, ok := decodeVerdict(hit); ok {
			return v, nil
		}
	}

	raw, err := c.deps.Evaluator.Score(ctx, c.tree.Task, text, path)
	if err != nil {
		return verdict{}, err
	}
	v := verdict{score: CombineScore(raw, c.tree.Config.Weights), raw: raw}
	if enc, err := json.Marshal(raw); err == nil {
		c.store(ctx, key, map[string]string{
			"score":      strconv.FormatFloat(v.score, 'f', -1, 64),
			"raw_scores": string(enc),
		})
	}
	return v, nil
}

func decodeVerdict(meta map[string]string) (verdict, bool) {
	score, err := strconv.ParseFloat(meta["score"], 64)
	if err != nil || score < 0 || score > 10 {
		return verdict{}, false
	}
	var raw tot.ValueScore
	if s := meta["raw_scores"]; s != "" {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return verdict{}, false
		}
	}
	return verdict{score: score, raw: raw}, true
}

// CombineScore applies the weights and divides by their sum, so the result
// stays in [0, 10] whatever the weights add up to.
func CombineScore(v tot.ValueScore, w tot.EvaluationWeights) float64 {
	sum := w.Progress + w.Promise + w.Confidence
	score := v.Weighted(w)
	if sum > 0 {
		score /= sum
	}
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(10, score))
}

// lookup returns the metadata of the closest cached entry for key. Cache
// errors are logged and treated as a miss.
func (c *Controller) lookup(ctx context.Context, key string) (map[string]string, bool) {
	if c.deps.Cache == nil {
		return nil, false
	}
	hits, err := c.deps.Cache.Search(ctx, key, 1, c.tree.Config.CacheMinScore)
	if err != nil {
		c.logger.Warn("[Cache] Lookup failed, bypassing cache", "error", err)
		c.cacheMisses.Add(1)
		return nil, false
	}
	if len(hits) == 0 {
		c.cacheMisses.Add(1)
		return nil, false
	}
	c.cacheHits.Add(1)
	return hits[0].Metadata, true
}

func (c *Controller) store(ctx context.Context, key string, meta map[string]string) {
	if c.deps.Cache == nil {
		return
	}
	if _, err := c.deps.Cache.Add(ctx, key, meta); err != nil {
		c.logger.Warn("[Cache] Store failed", "error", err)
	}
}
