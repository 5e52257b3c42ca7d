package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/cache"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/embeddings"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/run"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/tot"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeGenerator struct {
	calls atomic.Int32
	// gate, when set, blocks every call until it is closed or ctx is done.
	gate chan struct{}
}

func (g *fakeGenerator) Propose(ctx context.Context, task tot.Task, path string, k int) ([]string, error) {
	g.calls.Add(1)
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	depth := strings.Count(path, tot.PathSeparator) + 1
	out := make([]string, k)
	for i := range out {
		out[i] = fmt.Sprintf("candidate number %d on level %d", i+1, depth)
	}
	return out, nil
}

type fakeEvaluator struct{}

func (fakeEvaluator) Score(ctx context.Context, task tot.Task, candidate, path string) (tot.ValueScore, error) {
	s := 5.0
	if strings.Contains(candidate, "number 1") {
		s = 7
	}
	return tot.ValueScore{Progress: s, Promise: s, Confidence: s}, nil
}

type fakeSynthesizer struct{}

func (fakeSynthesizer) Synthesize(ctx context.Context, task tot.Task, chain []string) (string, error) {
	return strings.Repeat("final ", 30) + chain[len(chain)-1], nil
}

func testDeps(gen *fakeGenerator) run.Collaborators {
	return run.Collaborators{Generator: gen, Evaluator: fakeEvaluator{}, Synthesizer: fakeSynthesizer{}}
}

func testRunConfig() tot.RunConfig {
	cfg := tot.DefaultRunConfig()
	cfg.MaxDepth = 2
	cfg.BranchingFactor = 2
	cfg.BeamWidth = 2
	return cfg
}

func openEngine(t *testing.T, dir string, semCache *cache.SemanticCache, gen *fakeGenerator) *Engine {
	t.Helper()
	opts := DefaultOptions(dir)
	opts.Logger = quietLogger
	opts.MaintenanceInterval = time.Hour
	e, err := Open(opts, semCache, testDeps(gen))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func waitFor(t *testing.T, e *Engine, id string) run.Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := e.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return s
}

func TestStartAndQuery(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil, &fakeGenerator{})

	id, err := e.Start(context.Background(), tot.Task{Instruction: "write a haiku"}, testRunConfig(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("empty run id")
	}

	s := waitFor(t, e, id)
	if s.Status != run.StatusCompleted {
		t.Fatalf("status = %s (%s)", s.Status, s.Error)
	}

	res, err := e.Result(id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tree == nil || res.Tree.Best() == nil {
		t.Fatal("result should carry the final tree")
	}
	if res.Summary.FinalAnswer == "" {
		t.Error("missing final answer")
	}

	list := e.List()
	if len(list) != 1 || list[0].RunID != id {
		t.Fatalf("List = %+v", list)
	}
	if got := []rune(list[0].Preview); len(got) != PreviewLength+3 || !strings.HasSuffix(list[0].Preview, "...") {
		t.Errorf("preview = %q", list[0].Preview)
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil, &fakeGenerator{})

	if _, err := e.Start(context.Background(), tot.Task{Instruction: "  "}, testRunConfig(), ""); !errors.Is(err, tot.ErrConfiguration) {
		t.Errorf("empty instruction: %v", err)
	}
	cfg := testRunConfig()
	cfg.Strategy = "depth_first"
	if _, err := e.Start(context.Background(), tot.Task{Instruction: "x"}, cfg, ""); !errors.Is(err, tot.ErrConfiguration) {
		t.Errorf("unknown strategy: %v", err)
	}
}

func TestCancelLifecycle(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	e := openEngine(t, t.TempDir(), nil, gen)
	task := tot.Task{Instruction: "long task"}

	id, err := e.Start(context.Background(), task, testRunConfig(), "fixed-id")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Start(context.Background(), task, testRunConfig(), "fixed-id"); !errors.Is(err, ErrDuplicateRunID) {
		t.Errorf("duplicate start: %v", err)
	}
	if s, _ := e.Status(id); s.Status != run.StatusRunning {
		t.Errorf("status = %s, want running", s.Status)
	}

	if err := e.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(gen.gate)

	s := waitFor(t, e, id)
	if s.Status != run.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", s.Status)
	}
	res, err := e.Result(id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.FinalAnswer != "" {
		t.Errorf("cancelled run has final answer %q", res.Summary.FinalAnswer)
	}
	if res.Tree == nil {
		t.Fatal("cancelled run should keep its partial tree")
	}
	if res.Tree.FinalAnswer != "" {
		t.Errorf("cancelled tree has final answer %q", res.Tree.FinalAnswer)
	}
	if err := e.Cancel(id); !errors.Is(err, ErrRunNotRunning) {
		t.Errorf("second cancel: %v", err)
	}
	if err := e.Cancel("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("unknown run: %v", err)
	}

	// A finished id can be reused.
	if _, err := e.Start(context.Background(), task, testRunConfig(), "fixed-id"); err != nil {
		t.Errorf("restart finished id: %v", err)
	}
	waitFor(t, e, id)
}

func TestSweep(t *testing.T) {
	e := openEngine(t, t.TempDir(), nil, &fakeGenerator{})
	id, _ := e.Start(context.Background(), tot.Task{Instruction: "x"}, testRunConfig(), "")
	waitFor(t, e, id)

	if n := e.Sweep(time.Hour); n != 0 {
		t.Errorf("fresh run swept: %d", n)
	}
	if n := e.Sweep(0); n != 1 {
		t.Errorf("Sweep(0) = %d, want 1", n)
	}
	if _, err := e.Status(id); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("swept run still visible: %v", err)
	}
}

func TestCloseCancelsRunningRuns(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	opts := DefaultOptions(t.TempDir())
	opts.Logger = quietLogger
	e, err := Open(opts, nil, testDeps(gen))
	if err != nil {
		t.Fatal(err)
	}
	id, _ := e.Start(context.Background(), tot.Task{Instruction: "x"}, testRunConfig(), "")

	done := make(chan error, 1)
	go func() { done <- e.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	if s, _ := e.Status(id); s.Status != run.StatusCancelled {
		t.Errorf("status after close = %s", s.Status)
	}
	if _, err := e.Start(context.Background(), tot.Task{Instruction: "x"}, testRunConfig(), ""); !errors.Is(err, ErrClosed) {
		t.Errorf("start after close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestJournalSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(dir)
	opts.Logger = quietLogger

	e, err := Open(opts, nil, testDeps(&fakeGenerator{}))
	if err != nil {
		t.Fatal(err)
	}
	id, _ := e.Start(context.Background(), tot.Task{Instruction: "remember me"}, testRunConfig(), "")
	first := waitFor(t, e, id)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2 := openEngine(t, dir, nil, &fakeGenerator{})
	s, err := e2.Status(id)
	if err != nil {
		t.Fatalf("journaled run lost: %v", err)
	}
	if s.Status != run.StatusCompleted || s.FinalAnswer != first.FinalAnswer || s.Instruction != "remember me" {
		t.Errorf("restored summary = %+v", s)
	}
	res, _ := e2.Result(id)
	if res.Tree != nil {
		t.Error("restored runs have no tree")
	}
	if err := e2.Cancel(id); !errors.Is(err, ErrRunNotRunning) {
		t.Errorf("cancel restored run: %v", err)
	}
}

func TestJournalTornTailKeepsLaterRuns(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(dir)
	opts.Logger = quietLogger

	e, err := Open(opts, nil, testDeps(&fakeGenerator{}))
	if err != nil {
		t.Fatal(err)
	}
	first, _ := e.Start(context.Background(), tot.Task{Instruction: "before the crash"}, testRunConfig(), "")
	waitFor(t, e, first)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	// A crash mid-append leaves a partial frame header behind.
	path := filepath.Join(dir, opts.JournalFilename)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0xA5, 0x03, 0x40}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	e2, err := Open(opts, nil, testDeps(&fakeGenerator{}))
	if err != nil {
		t.Fatal(err)
	}
	second, _ := e2.Start(context.Background(), tot.Task{Instruction: "after the crash"}, testRunConfig(), "")
	waitFor(t, e2, second)
	if err := e2.Close(); err != nil {
		t.Fatal(err)
	}

	e3 := openEngine(t, dir, nil, &fakeGenerator{})
	for _, id := range []string{first, second} {
		s, err := e3.Status(id)
		if err != nil {
			t.Fatalf("run %s lost after restart: %v", id, err)
		}
		if s.Status != run.StatusCompleted {
			t.Errorf("run %s status = %s", id, s.Status)
		}
	}
}

func TestSharedCacheAcrossRuns(t *testing.T) {
	semCache, err := cache.New(embeddings.NewHashEmbedder(64), cache.DefaultOptions("", 64))
	if err != nil {
		t.Fatal(err)
	}
	gen := &fakeGenerator{}
	e := openEngine(t, t.TempDir(), semCache, gen)
	task := tot.Task{Instruction: "reuse the cache"}
	// Only exact repeats may hit, so the outcome does not depend on how close
	// the hashed keys of sibling nodes happen to be.
	cfg := testRunConfig()
	cfg.EmbeddingDim = 64
	cfg.CacheMinScore = 0.999

	id1, _ := e.Start(context.Background(), task, cfg, "")
	waitFor(t, e, id1)
	firstCalls := gen.calls.Load()
	if firstCalls == 0 || semCache.Size() == 0 {
		t.Fatalf("first run: %d generator calls, cache size %d", firstCalls, semCache.Size())
	}

	id2, _ := e.Start(context.Background(), task, cfg, "")
	s := waitFor(t, e, id2)
	if s.Status != run.StatusCompleted {
		t.Fatalf("status = %s", s.Status)
	}
	if got := gen.calls.Load(); got != firstCalls {
		t.Errorf("second run called the generator %d times", got-firstCalls)
	}
}

func TestStartRejectsEmbeddingMismatch(t *testing.T) {
	semCache, err := cache.New(embeddings.NewHashEmbedder(64), cache.DefaultOptions("", 64))
	if err != nil {
		t.Fatal(err)
	}
	gen := &fakeGenerator{}
	opts := DefaultOptions(t.TempDir())
	opts.Logger = quietLogger
	opts.MaintenanceInterval = time.Hour
	opts.EmbeddingModel = "hash"
	e, err := Open(opts, semCache, testDeps(gen))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	task := tot.Task{Instruction: "mixed vectors"}

	cfg := testRunConfig()
	cfg.EmbeddingModel = "hash"
	var cerr *tot.ConfigurationError
	if _, err := e.Start(context.Background(), task, cfg, ""); !errors.As(err, &cerr) || cerr.Field != "embedding_dim" {
		t.Errorf("dimension %d against a 64-wide cache: %v", cfg.EmbeddingDim, err)
	}

	cfg.EmbeddingDim = 64
	cfg.EmbeddingModel = "text-embedding-3-large"
	if _, err := e.Start(context.Background(), task, cfg, ""); !errors.As(err, &cerr) || cerr.Field != "embedding_model" {
		t.Errorf("foreign model: %v", err)
	}
	if len(e.List()) != 0 || gen.calls.Load() != 0 || semCache.Size() != 0 {
		t.Error("rejected runs must not register or touch the cache")
	}

	cfg.EmbeddingModel = "hash"
	id, err := e.Start(context.Background(), task, cfg, "")
	if err != nil {
		t.Fatalf("matching settings: %v", err)
	}
	waitFor(t, e, id)
}

func TestPreview(t *testing.T) {
	if got := preview("short", 10); got != "short" {
		t.Errorf("preview = %q", got)
	}
	if got := preview("héllo wörld", 5); got != "héllo..." {
		t.Errorf("preview = %q", got)
	}
}
