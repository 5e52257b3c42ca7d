package types

import "github.com/devviniuchita/mcp-treeofthoughts/pkg/core/distance"

// SearchResult is a single hit from an index query.
// Position is the vector's slot in insertion order; Score is the similarity (higher is better).
type SearchResult struct {
	Position int
	Score    float64
}

// IndexInfo describes an index for stats and diagnostics.
type IndexInfo struct {
	Dimension   int                    `json:"dimension"`
	Metric      distance.Metric        `json:"metric"`
	Precision   distance.PrecisionType `json:"precision"`
	VectorCount int                    `json:"vector_count"`
	Backend     string                 `json:"backend"`
}
