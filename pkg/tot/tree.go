// Package tot holds the thought-tree data model shared by the search
// strategies and the run controller.
//
// Nodes live in a single map keyed by id; parent and child links are ids, never
// pointers, so a Tree can be copied by value without ownership cycles. A Tree
// is owned by exactly one run and is not safe for concurrent mutation.
package tot

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PathSeparator joins the texts of a root-to-node path.
const PathSeparator = " -> "

// ValidationLevel selects which invariants are checked after each mutation.
type ValidationLevel string

const (
	ValidationNone   ValidationLevel = "none"
	ValidationBasic  ValidationLevel = "basic"
	ValidationStrict ValidationLevel = "strict"
)

func (l ValidationLevel) rank() int {
	switch l {
	case ValidationNone:
		return 0
	case ValidationStrict:
		return 2
	default:
		return 1
	}
}

// ParseValidationLevel accepts "none", "basic" or "strict" (case-insensitive).
func ParseValidationLevel(s string) (ValidationLevel, error) {
	switch ValidationLevel(strings.ToLower(strings.TrimSpace(s))) {
	case ValidationNone:
		return ValidationNone, nil
	case ValidationBasic, "":
		return ValidationBasic, nil
	case ValidationStrict:
		return ValidationStrict, nil
	}
	return "", &ConfigurationError{Field: "validation_level", Reason: fmt.Sprintf("unknown level %q", s)}
}

// Task is what a run tries to solve.
type Task struct {
	Instruction string   `json:"instruction"`
	Constraints string   `json:"constraints,omitempty"`
	History     []string `json:"history,omitempty"`
}

// ValueScore is the evaluator's verdict on one candidate, each part in [0, 10].
type ValueScore struct {
	Progress      float64 `json:"progress"`
	Promise       float64 `json:"promise"`
	Confidence    float64 `json:"confidence"`
	Justification string  `json:"justification"`
}

// Weighted combines the sub-scores with w.
func (v ValueScore) Weighted(w EvaluationWeights) float64 {
	return w.Progress*v.Progress + w.Promise*v.Promise + w.Confidence*v.Confidence
}

// Node is one thought in the tree.
type Node struct {
	ID            string      `json:"id"`
	Seq           uint64      `json:"seq"`
	Text          string      `json:"text"`
	ParentID      string      `json:"parent_id,omitempty"`
	Depth         int         `json:"depth"`
	Score         *float64    `json:"score,omitempty"`
	RawScores     *ValueScore `json:"raw_scores,omitempty"`
	Children      []string    `json:"children"`
	IsSolution    bool        `json:"is_solution"`
	RerankerScore *float64    `json:"reranker_score,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// UnscoredSentinel stands in for a missing score in every comparison.
const UnscoredSentinel = -1.0

// ScoreValue returns the score, or UnscoredSentinel when the node is unevaluated.
func (n *Node) ScoreValue() float64 {
	if n == nil || n.Score == nil {
		return UnscoredSentinel
	}
	return *n.Score
}

// Evaluated reports whether a score has been recorded.
func (n *Node) Evaluated() bool {
	return n.Score != nil
}

func (n *Node) clone() *Node {
	c := *n
	c.Children = append([]string(nil), n.Children...)
	if n.Score != nil {
		s := *n.Score
		c.Score = &s
	}
	if n.RawScores != nil {
		r := *n.RawScores
		c.RawScores = &r
	}
	if n.RerankerScore != nil {
		r := *n.RerankerScore
		c.RerankerScore = &r
	}
	return &c
}

// Tree is the state of one run: the node arena plus search bookkeeping.
type Tree struct {
	RunID         string                 `json:"run_id"`
	Task          Task                   `json:"task"`
	Config        RunConfig              `json:"config"`
	Nodes         map[string]*Node       `json:"nodes"`
	Frontier      []string               `json:"frontier"`
	RootID        string                 `json:"root_id,omitempty"`
	BestNodeID    string                 `json:"best_node_id,omitempty"`
	NodesExpanded int                    `json:"nodes_expanded"`
	StartTime     time.Time              `json:"start_time"`
	FinalAnswer   string                 `json:"final_answer,omitempty"`
	Metrics       map[string]interface{} `json:"metrics"`
	StopReason    string                 `json:"stop_reason,omitempty"`

	level   ValidationLevel
	nextSeq uint64
}

// NewTree creates an empty tree validated at cfg.Validation.
func NewTree(runID string, task Task, cfg RunConfig) *Tree {
	return &Tree{
		RunID:     runID,
		Task:      task,
		Config:    cfg,
		Nodes:     make(map[string]*Node),
		Frontier:  []string{},
		StartTime: time.Now(),
		Metrics:   make(map[string]interface{}),
		level:     cfg.Validation,
	}
}

// Level returns the validation level applied after mutations.
func (t *Tree) Level() ValidationLevel {
	return t.level
}

func (t *Tree) newNode(text, parentID string, depth int) *Node {
	t.nextSeq++
	return &Node{
		ID:        uuid.New().String(),
		Seq:       t.nextSeq,
		Text:      text,
		ParentID:  parentID,
		Depth:     depth,
		Children:  []string{},
		CreatedAt: time.Now(),
	}
}

// mutate applies fn, validates, and calls undo if validation fails.
func (t *Tree) mutate(fn func() error, undo func()) error {
	if err := fn(); err != nil {
		return err
	}
	if err := t.Validate(t.level); err != nil {
		undo()
		return err
	}
	return nil
}

// CreateRoot adds the root node and makes it the whole frontier.
func (t *Tree) CreateRoot(text string) (*Node, error) {
	if t.RootID != "" {
		return nil, &ValidationError{Level: t.level, NodeID: t.RootID, Reason: "root already exists"}
	}
	root := t.newNode(text, "", 0)
	prevFrontier := t.Frontier
	err := t.mutate(func() error {
		t.Nodes[root.ID] = root
		t.RootID = root.ID
		t.Frontier = []string{root.ID}
		return nil
	}, func() {
		delete(t.Nodes, root.ID)
		t.RootID = ""
		t.Frontier = prevFrontier
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// AddChild creates a node under parentID at depth parent.Depth+1.
func (t *Tree) AddChild(parentID, text string) (*Node, error) {
	parent, ok := t.Nodes[parentID]
	if !ok {
		return nil, &ValidationError{Level: t.level, NodeID: parentID, Reason: "parent does not exist"}
	}
	child := t.newNode(text, parentID, parent.Depth+1)
	prevChildren := parent.Children
	err := t.mutate(func() error {
		t.Nodes[child.ID] = child
		parent.Children = append(append([]string(nil), prevChildren...), child.ID)
		return nil
	}, func() {
		delete(t.Nodes, child.ID)
		parent.Children = prevChildren
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// MarkEvaluated records the scalar score and the sub-scores of a node.
func (t *Tree) MarkEvaluated(id string, score float64, raw ValueScore) error {
	n, ok := t.Nodes[id]
	if !ok {
		return &ValidationError{Level: t.level, NodeID: id, Reason: "node does not exist"}
	}
	if score < 0 || score > 10 {
		return &ValidationError{Level: t.level, NodeID: id, Reason: fmt.Sprintf("score %.3f outside [0, 10]", score)}
	}
	prevScore, prevRaw := n.Score, n.RawScores
	return t.mutate(func() error {
		s := score
		r := raw
		n.Score = &s
		n.RawScores = &r
		return nil
	}, func() {
		n.Score, n.RawScores = prevScore, prevRaw
	})
}

// SetRerankerScore records an optional reranker relevance score.
func (t *Tree) SetRerankerScore(id string, score float64) error {
	n, ok := t.Nodes[id]
	if !ok {
		return &ValidationError{Level: t.level, NodeID: id, Reason: "node does not exist"}
	}
	s := score
	n.RerankerScore = &s
	return nil
}

// SetFrontier replaces the frontier.
func (t *Tree) SetFrontier(ids []string) error {
	prev := t.Frontier
	next := append([]string{}, ids...)
	return t.mutate(func() error {
		t.Frontier = next
		return nil
	}, func() {
		t.Frontier = prev
	})
}

// SetBest records id as the best node.
func (t *Tree) SetBest(id string) error {
	prev := t.BestNodeID
	return t.mutate(func() error {
		t.BestNodeID = id
		return nil
	}, func() {
		t.BestNodeID = prev
	})
}

// MarkSolution flags the node as the chosen answer.
func (t *Tree) MarkSolution(id string) error {
	n, ok := t.Nodes[id]
	if !ok {
		return &ValidationError{Level: t.level, NodeID: id, Reason: "node does not exist"}
	}
	n.IsSolution = true
	return nil
}

// Node returns the node with id, or nil.
func (t *Tree) Node(id string) *Node {
	return t.Nodes[id]
}

// Best returns the best node, or nil.
func (t *Tree) Best() *Node {
	if t.BestNodeID == "" {
		return nil
	}
	return t.Nodes[t.BestNodeID]
}

// FrontierNodes resolves the frontier ids, skipping unknown ones.
func (t *Tree) FrontierNodes() []*Node {
	out := make([]*Node, 0, len(t.Frontier))
	for _, id := range t.Frontier {
		if n, ok := t.Nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Path returns the node texts from the root down to id.
func (t *Tree) Path(id string) []string {
	var texts []string
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		n, ok := t.Nodes[cur]
		if !ok || seen[cur] {
			break
		}
		seen[cur] = true
		texts = append(texts, n.Text)
		cur = n.ParentID
	}
	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return texts
}

// PathString joins Path(id) with PathSeparator.
func (t *Tree) PathString(id string) string {
	return strings.Join(t.Path(id), PathSeparator)
}

// Validate checks the invariants selected by level.
func (t *Tree) Validate(level ValidationLevel) error {
	if level.rank() == 0 {
		return nil
	}
	if t.RootID != "" {
		if _, ok := t.Nodes[t.RootID]; !ok {
			return &ValidationError{Level: level, NodeID: t.RootID, Reason: "root id not in nodes"}
		}
	}
	if t.BestNodeID != "" {
		if _, ok := t.Nodes[t.BestNodeID]; !ok {
			return &ValidationError{Level: level, NodeID: t.BestNodeID, Reason: "best node id not in nodes"}
		}
	}
	for _, id := range t.Frontier {
		if _, ok := t.Nodes[id]; !ok {
			return &ValidationError{Level: level, NodeID: id, Reason: "frontier id not in nodes"}
		}
	}
	if level.rank() < 2 {
		return nil
	}

	for id, n := range t.Nodes {
		for _, childID := range n.Children {
			child, ok := t.Nodes[childID]
			if !ok || child.ParentID != id {
				return &ValidationError{Level: level, NodeID: id, Reason: fmt.Sprintf("child %s does not point back", childID)}
			}
		}
		if n.ParentID == "" {
			if n.Depth != 0 {
				return &ValidationError{Level: level, NodeID: id, Reason: "parentless node must have depth 0"}
			}
			continue
		}
		parent, ok := t.Nodes[n.ParentID]
		if !ok {
			return &ValidationError{Level: level, NodeID: id, Reason: "parent does not exist"}
		}
		if n.Depth != parent.Depth+1 {
			return &ValidationError{Level: level, NodeID: id, Reason: fmt.Sprintf("depth %d, parent depth %d", n.Depth, parent.Depth)}
		}
		if !contains(parent.Children, id) {
			return &ValidationError{Level: level, NodeID: id, Reason: "missing from parent's children"}
		}
	}
	return nil
}

// Snapshot returns a deep copy that shares nothing with t.
func (t *Tree) Snapshot() *Tree {
	c := *t
	c.Nodes = make(map[string]*Node, len(t.Nodes))
	for id, n := range t.Nodes {
		c.Nodes[id] = n.clone()
	}
	c.Frontier = append([]string{}, t.Frontier...)
	c.Task.History = append([]string(nil), t.Task.History...)
	c.Metrics = make(map[string]interface{}, len(t.Metrics))
	for k, v := range t.Metrics {
		c.Metrics[k] = v
	}
	return &c
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
