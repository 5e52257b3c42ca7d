package strategy

import (
	"github.com/tidwall/btree"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// BestFirstSearch always expands the single highest-scoring frontier node.
// The frontier is kept in a deterministic order: score descending, then
// creation order.
type BestFirstSearch struct {
	maxDepth int
}

// NewBestFirstSearch creates the strategy.
func NewBestFirstSearch(maxDepth int) *BestFirstSearch {
	return &BestFirstSearch{maxDepth: maxDepth}
}

func (s *BestFirstSearch) Name() string { return tot.StrategyBestFirstSearch }

// rank orders frontier nodes without relying on map or set iteration order.
func (s *BestFirstSearch) rank(nodes []*tot.Node) *btree.BTreeG[*tot.Node] {
	tr := btree.NewBTreeG[*tot.Node](ranksBefore)
	for _, n := range nodes {
		tr.Set(n)
	}
	return tr
}

// SelectForExpansion returns the best expandable frontier node, or nothing.
func (s *BestFirstSearch) SelectForExpansion(t *tot.Tree) []string {
	var pick []string
	s.rank(t.FrontierNodes()).Scan(func(n *tot.Node) bool {
		if n.Depth < s.maxDepth && len(n.Children) == 0 {
			pick = []string{n.ID}
			return false
		}
		return true
	})
	return pick
}

// UpdateFrontier removes the parents of newNodes (they were just expanded),
// adds the scored new nodes, dedupes and re-sorts.
func (s *BestFirstSearch) UpdateFrontier(t *tot.Tree, newNodes []*tot.Node) error {
	expanded := make(map[string]bool)
	for _, n := range newNodes {
		if n.ParentID != "" {
			expanded[n.ParentID] = true
		}
	}

	var keep []*tot.Node
	for _, n := range t.FrontierNodes() {
		if !expanded[n.ID] {
			keep = append(keep, n)
		}
	}
	for _, n := range newNodes {
		if n.Evaluated() {
			keep = append(keep, n)
		}
	}

	// Seq is unique per tree, so the ordered set also dedupes.
	ordered := s.rank(keep)
	ids := make([]string, 0, ordered.Len())
	ordered.Scan(func(n *tot.Node) bool {
		ids = append(ids, n.ID)
		return true
	})
	if err := t.SetFrontier(ids); err != nil {
		return err
	}
	return raiseBest(t, newNodes)
}

func (s *BestFirstSearch) Best(t *tot.Tree) *tot.Node {
	return t.Best()
}
