// Package engine provides the run registry of the Tree-of-Thoughts server.
//
// It owns the shared semantic cache and the strategy registry, starts each run
// on its own goroutine and keeps track of it until it is swept. Terminal run
// summaries are appended to an optional journal so they survive restarts.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	eng, err := engine.Open(opts, semCache, collaborators)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	id, err := eng.Start(ctx, tot.Task{Instruction: "..."}, tot.DefaultRunConfig(), "")
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/cache"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/persistence"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/run"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/strategy"
)

// Options configures the registry and its background maintenance.
type Options struct {
	// DataDir holds the run journal. It is created if missing.
	DataDir string `yaml:"data_dir"`

	// JournalFilename is the name of the run journal inside DataDir.
	// Empty disables the journal.
	JournalFilename string `yaml:"journal_filename"`

	// RetainFinished is how long terminal runs stay queryable before the
	// maintenance loop sweeps them. Zero keeps them until Sweep is called.
	RetainFinished time.Duration `yaml:"retain_finished"`

	// MaintenanceInterval is the period of the cache auto-save tick and the sweep.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// EmbeddingModel names the model behind the cache vectors. When set,
	// runs asking for another model are rejected.
	EmbeddingModel string `yaml:"-"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns the standard configuration.
//
// Defaults:
//   - JournalFilename: "runs.journal"
//   - RetainFinished: 1 hour
//   - MaintenanceInterval: 10 seconds
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:             dataDir,
		JournalFilename:     "runs.journal",
		RetainFinished:      time.Hour,
		MaintenanceInterval: 10 * time.Second,
	}
}

// runHandle is the registry entry of one run. Either ctrl is set (the run
// belongs to this process) or only summary is (it was replayed from the journal).
type runHandle struct {
	ctrl    *run.Controller
	summary run.Summary
}

func (h *runHandle) snapshot() run.Summary {
	if h.ctrl != nil {
		return h.ctrl.Summary()
	}
	return h.summary
}

// Engine is the run registry.
//
// Use Open() to create an Engine and Close() to cancel outstanding runs and
// release the cache.
type Engine struct {
	opts       Options
	cache      *cache.SemanticCache
	strategies *strategy.Registry
	deps       run.Collaborators
	logger     *slog.Logger
	journal    *persistence.Journal

	mu   sync.RWMutex
	runs map[string]*runHandle

	baseCtx    context.Context
	baseCancel context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	runWG     sync.WaitGroup
}

// Open creates the registry. semCache may be nil, in which case runs go
// straight to the collaborators. When set, the engine owns it and closes it on
// Close.
func Open(opts Options, semCache *cache.SemanticCache, deps run.Collaborators) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if semCache != nil {
		deps.Cache = semCache
	}

	e := &Engine{
		opts:       opts,
		cache:      semCache,
		strategies: strategy.NewRegistry(),
		deps:       deps,
		logger:     logger,
		runs:       make(map[string]*runHandle),
		closed:     make(chan struct{}),
	}
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())

	if opts.JournalFilename != "" {
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(opts.DataDir, opts.JournalFilename)
		n, intact, err := persistence.ReplayJournal(path, e.restore)
		if err != nil {
			return nil, fmt.Errorf("failed to replay run journal: %w", err)
		}
		if err := persistence.TrimJournal(path, intact); err != nil {
			return nil, err
		}
		journal, err := persistence.OpenJournal(path)
		if err != nil {
			return nil, err
		}
		e.journal = journal
		logger.Info("[Engine] Run journal loaded", "path", path, "records", n, "runs", len(e.runs))
	}

	e.wg.Add(1)
	go e.backgroundTasks()

	return e, nil
}

// restore registers a journaled summary. Later records for the same id win.
func (e *Engine) restore(payload []byte) error {
	var s run.Summary
	if err := json.Unmarshal(payload, &s); err != nil {
		e.logger.Warn("[Engine] Skipping unreadable journal record", "error", err)
		return nil
	}
	if s.RunID == "" || !s.Status.Terminal() {
		return nil
	}
	e.runs[s.RunID] = &runHandle{summary: s}
	return nil
}

// Strategies returns the strategy registry used for new runs.
func (e *Engine) Strategies() *strategy.Registry {
	return e.strategies
}

// Cache returns the shared semantic cache, or nil.
func (e *Engine) Cache() *cache.SemanticCache {
	return e.cache
}

// Close cancels outstanding runs, waits for them, then closes the journal and
// the cache. It is safe to call more than once.
func (e *Engine) Close() error {
	var err error

	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()

		e.mu.RLock()
		for _, h := range e.runs {
			if h.ctrl != nil {
				h.ctrl.Cancel()
			}
		}
		e.mu.RUnlock()
		e.baseCancel()
		e.runWG.Wait()

		var errs []error
		if e.journal != nil {
			errs = append(errs, e.journal.Close())
		}
		if e.cache != nil {
			errs = append(errs, e.cache.Close())
		}
		err = errors.Join(errs...)
	})

	return err
}

// backgroundTasks drives the cache auto-save tick and the sweep of old runs.
func (e *Engine) backgroundTasks() {
	defer e.wg.Done()

	interval := e.opts.MaintenanceInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.maintain()
		}
	}
}

func (e *Engine) maintain() {
	if e.cache != nil {
		e.cache.Maintain()
	}
	if e.opts.RetainFinished > 0 {
		if n := e.Sweep(e.opts.RetainFinished); n > 0 {
			e.logger.Debug("[Engine] Swept finished runs", "count", n)
		}
	}
	if e.journal != nil {
		if err := e.journal.Flush(); err != nil {
			e.logger.Error("[Engine] Journal flush failed", "error", err)
		}
	}
}
