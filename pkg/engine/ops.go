// This file implements the run lifecycle operations of the Engine: starting
// runs, querying and cancelling them, and retiring finished ones.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/metrics"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/run"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

// PreviewLength is the number of characters of the final answer shown by List.
const PreviewLength = 100

// Result is the full outcome of a run. Tree is nil while the run is still in
// progress and for runs restored from the journal.
type Result struct {
	Summary run.Summary `json:"summary"`
	Tree    *tot.Tree   `json:"tree,omitempty"`
}

// RunInfo is one row of List.
type RunInfo struct {
	RunID     string     `json:"run_id"`
	Status    run.Status `json:"status"`
	Strategy  string     `json:"strategy"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time,omitempty"`
	BestScore *float64   `json:"best_score,omitempty"`
	Preview   string     `json:"final_answer_preview,omitempty"`
}

// Start launches a run on its own goroutine and returns its id. An empty
// runID gets a fresh UUID. ctx bounds nothing but the start itself; the run
// keeps going after the caller returns and stops on Cancel or Close.
func (e *Engine) Start(ctx context.Context, task tot.Task, cfg tot.RunConfig, runID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(task.Instruction) == "" {
		return "", &tot.ConfigurationError{Field: "instruction", Reason: "must not be empty"}
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	ctrl, err := run.New(runID, task, cfg, e.strategies, e.deps, e.logger)
	if err != nil {
		return "", err
	}
	if err := e.checkEmbedding(cfg); err != nil {
		return "", err
	}

	e.mu.Lock()
	select {
	case <-e.closed:
		e.mu.Unlock()
		return "", ErrClosed
	default:
	}
	if h, ok := e.runs[runID]; ok && !h.snapshot().Status.Terminal() {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateRunID, runID)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(e.baseCtx, cancel)
	h := &runHandle{ctrl: ctrl}
	e.runs[runID] = h
	e.runWG.Add(1)
	e.mu.Unlock()

	metrics.RunsActive.Inc()
	e.logger.Info("[Engine] Run started", "run_id", runID, "strategy", cfg.Strategy)

	go func() {
		defer e.runWG.Done()
		defer stop()
		defer cancel()
		e.execute(runCtx, h)
	}()

	return runID, nil
}

// checkEmbedding rejects runs whose embedding settings disagree with the
// shared cache, whose vectors all come from one model at one width.
func (e *Engine) checkEmbedding(cfg tot.RunConfig) error {
	if e.cache == nil {
		return nil
	}
	if dim := e.cache.Dimension(); cfg.EmbeddingDim != dim {
		return &tot.ConfigurationError{
			Field:  "embedding_dim",
			Reason: fmt.Sprintf("%d does not match the cache dimension %d", cfg.EmbeddingDim, dim),
		}
	}
	if model := e.opts.EmbeddingModel; model != "" && cfg.EmbeddingModel != model {
		return &tot.ConfigurationError{
			Field:  "embedding_model",
			Reason: fmt.Sprintf("%q does not match the cache embedder %q", cfg.EmbeddingModel, model),
		}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, h *runHandle) {
	_ = h.ctrl.Run(ctx)

	s := h.ctrl.Summary()
	metrics.RunsActive.Dec()
	metrics.RunsTotal.WithLabelValues(string(s.Status), s.Strategy).Inc()
	metrics.RunDuration.WithLabelValues(s.Strategy).Observe(s.EndTime.Sub(s.StartTime).Seconds())
	metrics.NodesExpanded.Observe(float64(s.Expanded))

	e.logger.Info("[Engine] Run finished", "run_id", s.RunID, "status", s.Status, "stop_reason", s.StopReason)
	e.record(s)
}

// record appends a terminal summary to the journal.
func (e *Engine) record(s run.Summary) {
	if e.journal == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		e.logger.Error("[Engine] Failed to encode run summary", "run_id", s.RunID, "error", err)
		return
	}
	if err := e.journal.Append(payload); err != nil {
		e.logger.Error("[Engine] Journal append failed", "run_id", s.RunID, "error", err)
	}
}

func (e *Engine) lookup(runID string) (*runHandle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return h, nil
}

// Status returns the current summary of a run.
func (e *Engine) Status(runID string) (run.Summary, error) {
	h, err := e.lookup(runID)
	if err != nil {
		return run.Summary{}, err
	}
	return h.snapshot(), nil
}

// Result returns the summary and, once the run is over, a copy of its tree.
func (e *Engine) Result(runID string) (*Result, error) {
	h, err := e.lookup(runID)
	if err != nil {
		return nil, err
	}
	res := &Result{Summary: h.snapshot()}
	if h.ctrl != nil {
		res.Tree = h.ctrl.Tree()
	}
	return res, nil
}

// Cancel asks a running run to stop at its next checkpoint.
func (e *Engine) Cancel(runID string) error {
	h, err := e.lookup(runID)
	if err != nil {
		return err
	}
	if h.ctrl == nil || h.snapshot().Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrRunNotRunning, runID)
	}
	h.ctrl.Cancel()
	e.logger.Info("[Engine] Cancellation requested", "run_id", runID)
	return nil
}

// Wait blocks until the run reaches a terminal state or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (run.Summary, error) {
	h, err := e.lookup(runID)
	if err != nil {
		return run.Summary{}, err
	}
	if h.ctrl == nil {
		return h.summary, nil
	}
	select {
	case <-h.ctrl.Done():
		return h.ctrl.Summary(), nil
	case <-ctx.Done():
		return h.ctrl.Summary(), ctx.Err()
	}
}

// List returns every known run, oldest first.
func (e *Engine) List() []RunInfo {
	e.mu.RLock()
	out := make([]RunInfo, 0, len(e.runs))
	for _, h := range e.runs {
		s := h.snapshot()
		out = append(out, RunInfo{
			RunID:     s.RunID,
			Status:    s.Status,
			Strategy:  s.Strategy,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			BestScore: s.BestScore,
			Preview:   preview(s.FinalAnswer, PreviewLength),
		})
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}

// Sweep forgets terminal runs that ended more than olderThan ago and returns
// how many were removed. Running runs are never swept.
func (e *Engine) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, h := range e.runs {
		s := h.snapshot()
		if s.Status.Terminal() && !s.EndTime.After(cutoff) {
			delete(e.runs, id)
			removed++
		}
	}
	return removed
}

// preview truncates s to n characters, appending "..." when it was cut.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
