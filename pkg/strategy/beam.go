package strategy

import (
	"sort"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// BeamSearch keeps the w best nodes below the depth limit.
type BeamSearch struct {
	width    int
	maxDepth int
}

// NewBeamSearch creates a beam of the given width.
func NewBeamSearch(width, maxDepth int) *BeamSearch {
	return &BeamSearch{width: width, maxDepth: maxDepth}
}

func (b *BeamSearch) Name() string { return tot.StrategyBeamSearch }

// SelectForExpansion returns every frontier node that is below the depth
// limit and has not been expanded yet.
func (b *BeamSearch) SelectForExpansion(t *tot.Tree) []string {
	ids := make([]string, 0, len(t.Frontier))
	for _, n := range t.FrontierNodes() {
		if n.Depth < b.maxDepth && len(n.Children) == 0 {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// UpdateFrontier concatenates the old frontier with newNodes, drops nodes at
// or beyond the depth limit, stable-sorts by score descending (creation order
// breaks ties) and keeps the top width.
func (b *BeamSearch) UpdateFrontier(t *tot.Tree, newNodes []*tot.Node) error {
	pool := t.FrontierNodes()
	seen := make(map[string]bool, len(pool)+len(newNodes))
	for _, n := range pool {
		seen[n.ID] = true
	}
	for _, n := range newNodes {
		if !seen[n.ID] {
			pool = append(pool, n)
			seen[n.ID] = true
		}
	}

	valid := pool[:0:0]
	for _, n := range pool {
		if n.Depth < b.maxDepth {
			valid = append(valid, n)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool { return ranksBefore(valid[i], valid[j]) })
	if len(valid) > b.width {
		valid = valid[:b.width]
	}

	ids := make([]string, len(valid))
	for i, n := range valid {
		ids[i] = n.ID
	}
	if err := t.SetFrontier(ids); err != nil {
		return err
	}
	// Nodes at the depth limit leave the frontier but may still be the best answer.
	return raiseBest(t, append(valid, newNodes...))
}

func (b *BeamSearch) Best(t *tot.Tree) *tot.Node {
	return t.Best()
}
