// Package run drives a single Tree-of-Thoughts search: it proposes thoughts,
// scores them, lets a strategy prune the frontier and finally synthesizes an
// answer from the best path.
//
// A Controller owns its tree exclusively. Other goroutines only ever see the
// Summary it publishes between stages, or the tree snapshot once the run is done.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/strategy"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Stop reasons recorded in the tree and in the final metrics.
const (
	StopMaxNodes          = "max_nodes"
	StopMaxTime           = "max_time"
	StopHighScore         = "high_score"
	StopFrontierEmpty     = "frontier_empty"
	StopMaxDepth          = "max_depth"
	StopFrontierExhausted = "frontier_exhausted"
	StopCancelled         = "cancelled"
)

// HighScoreThreshold ends the search early once the best node reaches it.
const HighScoreThreshold = 9.5

// NoSolutionAnswer is the final answer when no node was ever scored.
const NoSolutionAnswer = "No solution found."

// Summary is the externally visible state of a run.
type Summary struct {
	RunID       string                 `json:"run_id"`
	Status      Status                 `json:"status"`
	Strategy    string                 `json:"strategy"`
	Instruction string                 `json:"instruction"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time,omitempty"`
	NodesTotal  int                    `json:"nodes_total"`
	Expanded    int                    `json:"nodes_expanded"`
	Frontier    int                    `json:"frontier_size"`
	BestScore   *float64               `json:"best_score,omitempty"`
	StopReason  string                 `json:"stop_reason,omitempty"`
	FinalAnswer string                 `json:"final_answer,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Stack       string                 `json:"-"`
}

// Controller runs one search loop.
type Controller struct {
	tree     *tot.Tree
	strategy strategy.Strategy
	deps     Collaborators
	logger   *slog.Logger

	cancelRequested atomic.Bool
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64

	mu      sync.RWMutex
	summary Summary
	done    chan struct{}
	started atomic.Bool
}

// New validates cfg, builds the strategy it names from registry and returns a
// controller ready to Run. Generator, Evaluator and Synthesizer are required.
func New(runID string, task tot.Task, cfg tot.RunConfig, registry *strategy.Registry, deps Collaborators, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Generator == nil:
		return nil, &tot.ConfigurationError{Field: "generator", Reason: "a thought generator is required"}
	case deps.Evaluator == nil:
		return nil, &tot.ConfigurationError{Field: "evaluator", Reason: "an evaluator is required"}
	case deps.Synthesizer == nil:
		return nil, &tot.ConfigurationError{Field: "synthesizer", Reason: "a synthesizer is required"}
	}
	if registry == nil {
		registry = strategy.NewRegistry()
	}
	strat, err := registry.New(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	tree := tot.NewTree(runID, task, cfg)
	c := &Controller{
		tree:     tree,
		strategy: strat,
		deps:     deps,
		logger:   logger.With("run_id", runID),
		done:     make(chan struct{}),
	}
	c.summary = Summary{
		RunID:       runID,
		Status:      StatusRunning,
		Strategy:    strat.Name(),
		Instruction: task.Instruction,
		StartTime:   tree.StartTime,
	}
	return c, nil
}

// RunID returns the id of the run.
func (c *Controller) RunID() string {
	return c.tree.RunID
}

// Cancel asks the loop to stop at its next checkpoint. In-flight external
// calls are not interrupted.
func (c *Controller) Cancel() {
	c.cancelRequested.Store(true)
}

// Done is closed once the run reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Summary returns a copy of the last published state.
func (c *Controller) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.summary
	if c.summary.Metrics != nil {
		s.Metrics = make(map[string]interface{}, len(c.summary.Metrics))
		for k, v := range c.summary.Metrics {
			s.Metrics[k] = v
		}
	}
	if c.summary.BestScore != nil {
		b := *c.summary.BestScore
		s.BestScore = &b
	}
	return s
}

// Tree returns a deep copy of the tree once the run is over, nil before.
func (c *Controller) Tree() *tot.Tree {
	select {
	case <-c.done:
		return c.tree.Snapshot()
	default:
		return nil
	}
}

// Run executes the loop until a stop condition, cancellation or failure.
// It may be called once; the returned error is also recorded in the Summary.
func (c *Controller) Run(ctx context.Context) (err error) {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("run: controller already started")
	}
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = &tot.GraphExecutionError{Stage: "panic", Err: fmt.Errorf("%v", r), Stack: stack}
			c.logger.Error("[Run] Panic in search loop", "panic", r)
			c.finish(StatusFailed, err, stack)
		}
	}()

	cfg := c.tree.Config
	c.logger.Info("[Run] Starting", "strategy", c.strategy.Name(), "max_depth", cfg.MaxDepth, "branching_factor", cfg.BranchingFactor)

	if _, err := c.tree.CreateRoot(c.tree.Task.Instruction); err != nil {
		return c.fail("initialize", err)
	}
	c.publish()

	for {
		if c.checkpoint(ctx) {
			return c.cancelled()
		}
		newNodes, err := c.propose(ctx)
		if err != nil {
			return c.failOrCancel(ctx, "propose", err)
		}

		if c.checkpoint(ctx) {
			return c.cancelled()
		}
		newNodes = c.rerank(ctx, newNodes)

		if c.checkpoint(ctx) {
			return c.cancelled()
		}
		if err := c.evaluate(ctx, newNodes); err != nil {
			return c.failOrCancel(ctx, "evaluate", err)
		}

		if c.checkpoint(ctx) {
			return c.cancelled()
		}
		if err := c.strategy.UpdateFrontier(c.tree, newNodes); err != nil {
			return c.fail("select", err)
		}
		c.publish()

		if reason := c.stopReason(); reason != "" {
			c.tree.StopReason = reason
			c.logger.Info("[Run] Stop condition met", "reason", reason, "nodes_expanded", c.tree.NodesExpanded)
			break
		}
	}

	if err := c.finalize(ctx); err != nil {
		return c.failOrCancel(ctx, "finalize", err)
	}
	c.finish(StatusCompleted, nil, "")
	return nil
}

// checkpoint reports whether the run should stop before the next stage.
func (c *Controller) checkpoint(ctx context.Context) bool {
	return c.cancelRequested.Load() || ctx.Err() != nil
}

func (c *Controller) stopReason() string {
	t := c.tree
	cfg := t.Config
	if t.NodesExpanded >= cfg.StopConditions.MaxNodes {
		return StopMaxNodes
	}
	if time.Since(t.StartTime) >= cfg.StopConditions.MaxTime() {
		return StopMaxTime
	}
	if best := c.strategy.Best(t); best != nil && best.ScoreValue() >= HighScoreThreshold {
		return StopHighScore
	}
	frontier := t.FrontierNodes()
	if len(frontier) == 0 {
		return StopFrontierEmpty
	}
	atDepth := true
	for _, n := range frontier {
		if n.Depth < cfg.MaxDepth {
			atDepth = false
			break
		}
	}
	if atDepth {
		return StopMaxDepth
	}
	if len(c.strategy.SelectForExpansion(t)) == 0 {
		return StopFrontierExhausted
	}
	return ""
}

func (c *Controller) finalize(ctx context.Context) error {
	t := c.tree
	best := c.strategy.Best(t)
	if best == nil {
		t.FinalAnswer = NoSolutionAnswer
		c.logger.Warn("[Finalize] No scored node, returning without synthesis")
	} else {
		answer, err := c.deps.Synthesizer.Synthesize(ctx, t.Task, t.Path(best.ID))
		if err != nil {
			return err
		}
		t.FinalAnswer = answer
		if err := t.MarkSolution(best.ID); err != nil {
			return err
		}
	}
	c.recordMetrics()
	c.logger.Info("[Finalize] Run complete", "stop_reason", t.StopReason, "final_score", best.ScoreValue(), "nodes_total", len(t.Nodes))
	return nil
}

func (c *Controller) recordMetrics() {
	t := c.tree
	var finalScore interface{}
	if best := c.strategy.Best(t); best != nil {
		finalScore = best.ScoreValue()
	}
	t.Metrics["nodes_expanded"] = t.NodesExpanded
	t.Metrics["nodes_total"] = len(t.Nodes)
	t.Metrics["final_score"] = finalScore
	t.Metrics["elapsed_seconds"] = time.Since(t.StartTime).Seconds()
	t.Metrics["stop_reason"] = t.StopReason
	t.Metrics["strategy"] = c.strategy.Name()
	t.Metrics["cache_hits"] = c.cacheHits.Load()
	t.Metrics["cache_misses"] = c.cacheMisses.Load()
}

func (c *Controller) cancelled() error {
	c.tree.StopReason = StopCancelled
	c.recordMetrics()
	c.logger.Info("[Run] Cancelled", "nodes_expanded", c.tree.NodesExpanded)
	c.finish(StatusCancelled, nil, "")
	return context.Canceled
}

// failOrCancel treats an error caused by cancellation as a cancelled run.
func (c *Controller) failOrCancel(ctx context.Context, stage string, err error) error {
	if c.checkpoint(ctx) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return c.cancelled()
	}
	return c.fail(stage, err)
}

func (c *Controller) fail(stage string, err error) error {
	stack := string(debug.Stack())
	gerr := &tot.GraphExecutionError{Stage: stage, Err: err, Stack: stack}
	c.logger.Error("[Run] Failed", "stage", stage, "error", err)
	c.recordMetrics()
	c.finish(StatusFailed, gerr, stack)
	return gerr
}

// publish copies the progress counters into the summary.
func (c *Controller) publish() {
	t := c.tree
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.NodesTotal = len(t.Nodes)
	c.summary.Expanded = t.NodesExpanded
	c.summary.Frontier = len(t.Frontier)
	if best := c.strategy.Best(t); best != nil && best.Evaluated() {
		s := best.ScoreValue()
		c.summary.BestScore = &s
	}
}

func (c *Controller) finish(status Status, err error, stack string) {
	c.publish()
	t := c.tree
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Status = status
	c.summary.EndTime = time.Now()
	c.summary.StopReason = t.StopReason
	c.summary.FinalAnswer = t.FinalAnswer
	c.summary.Metrics = make(map[string]interface{}, len(t.Metrics))
	for k, v := range t.Metrics {
		c.summary.Metrics[k] = v
	}
	if err != nil {
		c.summary.Error = err.Error()
		c.summary.Stack = stack
	}
}
