package tot

import (
	"errors"
	"reflect"
	"testing"
)

func newStrictTree(t *testing.T) (*Tree, *Node) {
	t.Helper()
	cfg := DefaultRunConfig()
	cfg.Validation = ValidationStrict
	tree := NewTree("run-1", Task{Instruction: "solve"}, cfg)
	root, err := tree.CreateRoot("solve")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	return tree, root
}

func TestCreateRootAndChildren(t *testing.T) {
	tree, root := newStrictTree(t)

	if root.Depth != 0 || tree.RootID != root.ID {
		t.Fatalf("unexpected root %+v", root)
	}
	if !reflect.DeepEqual(tree.Frontier, []string{root.ID}) {
		t.Errorf("frontier = %v, want [root]", tree.Frontier)
	}
	if _, err := tree.CreateRoot("again"); !errors.Is(err, ErrValidation) {
		t.Errorf("second root: %v", err)
	}

	a, err := tree.AddChild(root.ID, "step a")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := tree.AddChild(a.ID, "step b")
	if a.Depth != 1 || b.Depth != 2 {
		t.Errorf("depths = %d, %d", a.Depth, b.Depth)
	}
	if a.Seq >= b.Seq || root.Seq >= a.Seq {
		t.Error("sequence numbers must follow creation order")
	}
	if !reflect.DeepEqual(tree.Node(root.ID).Children, []string{a.ID}) {
		t.Errorf("root children = %v", tree.Node(root.ID).Children)
	}

	if got := tree.Path(b.ID); !reflect.DeepEqual(got, []string{"solve", "step a", "step b"}) {
		t.Errorf("Path = %v", got)
	}
	if got := tree.PathString(b.ID); got != "solve -> step a -> step b" {
		t.Errorf("PathString = %q", got)
	}
	if err := tree.Validate(ValidationStrict); err != nil {
		t.Errorf("valid tree failed validation: %v", err)
	}

	if _, err := tree.AddChild("missing", "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown parent: %v", err)
	}
}

func TestMarkEvaluated(t *testing.T) {
	tree, root := newStrictTree(t)
	if root.ScoreValue() != UnscoredSentinel {
		t.Error("unscored node should report the sentinel")
	}

	raw := ValueScore{Progress: 8, Promise: 6, Confidence: 7, Justification: "ok"}
	if err := tree.MarkEvaluated(root.ID, 7.1, raw); err != nil {
		t.Fatal(err)
	}
	if root.ScoreValue() != 7.1 || root.RawScores.Justification != "ok" {
		t.Errorf("score not recorded: %+v", root)
	}
	if err := tree.MarkEvaluated(root.ID, 11, raw); !errors.Is(err, ErrValidation) {
		t.Errorf("out-of-range score: %v", err)
	}
	if root.ScoreValue() != 7.1 {
		t.Error("rejected score must not overwrite the previous one")
	}
}

func TestWeightedScore(t *testing.T) {
	v := ValueScore{Progress: 10, Promise: 5, Confidence: 0}
	w := EvaluationWeights{Progress: 0.4, Promise: 0.3, Confidence: 0.3}
	if got := v.Weighted(w); got < 5.49 || got > 5.51 {
		t.Errorf("Weighted = %f, want 5.5", got)
	}
}

func TestRollbackOnViolation(t *testing.T) {
	tree, root := newStrictTree(t)

	t.Run("FrontierWithUnknownID", func(t *testing.T) {
		prev := append([]string(nil), tree.Frontier...)
		err := tree.SetFrontier([]string{root.ID, "ghost"})
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.NodeID != "ghost" {
			t.Fatalf("expected ValidationError for ghost, got %v", err)
		}
		if !reflect.DeepEqual(tree.Frontier, prev) {
			t.Errorf("frontier not rolled back: %v", tree.Frontier)
		}
	})

	t.Run("BestWithUnknownID", func(t *testing.T) {
		if err := tree.SetBest("ghost"); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if tree.BestNodeID != "" {
			t.Error("best node not rolled back")
		}
	})

	t.Run("AddChildOnCorruptedTree", func(t *testing.T) {
		a, _ := tree.AddChild(root.ID, "a")
		// Break the back-reference, then any strict mutation must fail and undo itself.
		tree.Node(root.ID).Children = nil
		before := len(tree.Nodes)

		if _, err := tree.AddChild(a.ID, "b"); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if len(tree.Nodes) != before {
			t.Errorf("node count %d, want %d after rollback", len(tree.Nodes), before)
		}
		if len(tree.Node(a.ID).Children) != 0 {
			t.Error("parent children not rolled back")
		}
	})
}

func TestValidationLevels(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Validation = ValidationNone
	tree := NewTree("run", Task{Instruction: "x"}, cfg)
	root, _ := tree.CreateRoot("x")

	if err := tree.SetFrontier([]string{"ghost"}); err != nil {
		t.Errorf("level none must not validate: %v", err)
	}
	if err := tree.Validate(ValidationBasic); !errors.Is(err, ErrValidation) {
		t.Errorf("basic validation should catch the ghost frontier id: %v", err)
	}
	_ = tree.SetFrontier([]string{root.ID})

	// Basic does not look at parent links.
	child, _ := tree.AddChild(root.ID, "c")
	child.ParentID = "ghost"
	if err := tree.Validate(ValidationBasic); err != nil {
		t.Errorf("basic should ignore parent links: %v", err)
	}
	if err := tree.Validate(ValidationStrict); !errors.Is(err, ErrValidation) {
		t.Errorf("strict should catch the dangling parent: %v", err)
	}

	for _, tc := range []struct {
		in   string
		want ValidationLevel
	}{
		{"NONE", ValidationNone},
		{"", ValidationBasic},
		{" strict ", ValidationStrict},
	} {
		got, err := ParseValidationLevel(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseValidationLevel(%q) = %v, %v", tc.in, got, err)
		}
	}
	if _, err := ParseValidationLevel("paranoid"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unknown level: %v", err)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	tree, root := newStrictTree(t)
	_ = tree.MarkEvaluated(root.ID, 5, ValueScore{})
	tree.Metrics["k"] = 1

	snap := tree.Snapshot()
	_, _ = tree.AddChild(root.ID, "later")
	*tree.Node(root.ID).Score = 9
	tree.Metrics["k"] = 2

	if len(snap.Nodes) != 1 || len(snap.Node(root.ID).Children) != 0 {
		t.Error("snapshot shares node state")
	}
	if snap.Node(root.ID).ScoreValue() != 5 {
		t.Error("snapshot shares score pointer")
	}
	if snap.Metrics["k"] != 1 {
		t.Error("snapshot shares metrics")
	}
}

func TestRunConfigValidate(t *testing.T) {
	if err := DefaultRunConfig().Validate(); err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*RunConfig)
		field  string
	}{
		{"UnknownStrategy", func(c *RunConfig) { c.Strategy = "random_walk" }, "strategy"},
		{"ZeroBranching", func(c *RunConfig) { c.BranchingFactor = 0 }, "branching_factor"},
		{"ZeroDepth", func(c *RunConfig) { c.MaxDepth = 0 }, "max_depth"},
		{"ZeroBeam", func(c *RunConfig) { c.BeamWidth = 0 }, "beam_width"},
		{"ZeroDim", func(c *RunConfig) { c.EmbeddingDim = 0 }, "embedding_dim"},
		{"NegativeWeight", func(c *RunConfig) { c.Weights.Promise = -1 }, "evaluation_weights"},
		{"NoTimeLimit", func(c *RunConfig) { c.StopConditions.MaxTimeSeconds = 0 }, "stop_conditions.max_time_seconds"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			var ce *ConfigurationError
			if !errors.As(err, &ce) || ce.Field != tc.field {
				t.Errorf("got %v, want ConfigurationError on %s", err, tc.field)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Error("error should match ErrConfiguration")
			}
		})
	}
}
