// Package strategy implements the frontier policies that decide which
// thoughts are expanded next and which survive pruning.
package strategy

import (
	"fmt"
	"sort"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// Strategy manages the frontier of a tree.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string
	// SelectForExpansion returns the frontier ids to expand this iteration.
	SelectForExpansion(t *tot.Tree) []string
	// UpdateFrontier merges freshly scored nodes into the frontier, prunes it
	// and raises the best node if one of them beats it.
	UpdateFrontier(t *tot.Tree, newNodes []*tot.Node) error
	// Best returns the best node seen so far, or nil.
	Best(t *tot.Tree) *tot.Node
}

// Factory builds a strategy for one run.
type Factory func(cfg tot.RunConfig) Strategy

// Registry maps strategy names to factories. It is filled at startup and
// read-only afterwards.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(tot.StrategyBeamSearch, func(cfg tot.RunConfig) Strategy { return NewBeamSearch(cfg.BeamWidth, cfg.MaxDepth) })
	r.Register(tot.StrategyBestFirstSearch, func(cfg tot.RunConfig) Strategy { return NewBestFirstSearch(cfg.MaxDepth) })
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New builds the strategy named by cfg.Strategy. Unknown names are rejected.
func (r *Registry) New(cfg tot.RunConfig) (Strategy, error) {
	f, ok := r.factories[cfg.Strategy]
	if !ok {
		return nil, &tot.ConfigurationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q (available: %v)", cfg.Strategy, r.Names())}
	}
	return f(cfg), nil
}

// Names lists the registered strategies in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ranksBefore orders nodes by score descending, then by creation order.
func ranksBefore(a, b *tot.Node) bool {
	sa, sb := a.ScoreValue(), b.ScoreValue()
	if sa != sb {
		return sa > sb
	}
	return a.Seq < b.Seq
}

// raiseBest moves the best node to the highest-scoring candidate if it beats
// the current best. The best score therefore never decreases.
func raiseBest(t *tot.Tree, candidates []*tot.Node) error {
	best := t.Best()
	for _, n := range candidates {
		if n == nil || !n.Evaluated() {
			continue
		}
		if best == nil || n.ScoreValue() > best.ScoreValue() {
			best = n
		}
	}
	if best != nil && best.ID != t.BestNodeID {
		return t.SetBest(best.ID)
	}
	return nil
}
