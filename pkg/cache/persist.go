package cache

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/index"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/metrics"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/persistence"
)

const metaVersion = 1

// metaSnapshot is the gob-encoded companion of the index artifact.
type metaSnapshot struct {
	Version    int
	Generation uint64
	Dimension  int
	NextSeq    uint64
	Clock      uint64
	Entries    []metaEntry
	LargeTexts map[string]string
}

type metaEntry struct {
	Seq         uint64
	Text        string
	Metadata    map[string]string
	AccessCount int
	Tick        uint64
	LastAccess  time.Time
}

// ForceSave writes both artifacts regardless of the auto-save heuristic.
func (c *SemanticCache) ForceSave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.persistent() {
		return nil
	}
	return c.saveLocked()
}

// maybeSaveLocked saves after AutoSaveEvery inserts or AutoSaveInterval,
// whichever comes first. Failures are logged and the cache stays in memory.
func (c *SemanticCache) maybeSaveLocked() {
	if !c.persistent() {
		return
	}
	byCount := c.opts.AutoSaveEvery > 0 && c.dirty >= c.opts.AutoSaveEvery
	byTime := c.opts.AutoSaveInterval > 0 && (c.dirty > 0 || c.touched) && time.Since(c.lastSave) >= c.opts.AutoSaveInterval
	if !byCount && !byTime {
		return
	}
	_ = c.saveLocked()
}

// saveLocked stages both artifacts as temp files, then publishes the index
// followed by the metadata. Both carry the same generation stamp, so a crash
// between the two renames is detected on load. Stamps come from the wall clock
// and never go backwards, so a cache that started empty after a failed load
// cannot reuse a stamp still present in an older artifact.
func (c *SemanticCache) saveLocked() error {
	start := time.Now()
	gen := max(c.generation+1, uint64(start.UnixNano()))

	err := c.writeArtifacts(gen)
	if err != nil {
		metrics.CacheSavesTotal.WithLabelValues("error").Inc()
		c.logger.Warn("[Cache] Save failed, continuing in memory", "error", err)
		// dirty is kept; the next interval retries.
		c.lastSave = time.Now()
		return err
	}

	c.generation = gen
	c.dirty = 0
	c.touched = false
	c.lastSave = time.Now()
	metrics.CacheSavesTotal.WithLabelValues("ok").Inc()
	c.logger.Debug("[Cache] Saved", "entries", len(c.entries), "generation", gen, "duration", time.Since(start))
	return nil
}

func (c *SemanticCache) writeArtifacts(gen uint64) error {
	idxFile, err := persistence.CreateAtomic(c.opts.IndexPath)
	if err != nil {
		return &CacheError{Op: "save", Path: c.opts.IndexPath, Err: err}
	}
	defer idxFile.Abort()

	if err := c.index.WriteIndex(idxFile, gen); err != nil {
		return &CacheError{Op: "save", Path: c.opts.IndexPath, Err: err}
	}

	metaFile, err := persistence.CreateAtomic(c.opts.MetaPath)
	if err != nil {
		return &CacheError{Op: "save", Path: c.opts.MetaPath, Err: err}
	}
	defer metaFile.Abort()

	snap := metaSnapshot{
		Version:    metaVersion,
		Generation: gen,
		Dimension:  c.opts.Dimension,
		NextSeq:    c.nextSeq,
		Clock:      c.clock,
		Entries:    make([]metaEntry, len(c.entries)),
		LargeTexts: c.largeTexts,
	}
	for i, e := range c.entries {
		snap.Entries[i] = metaEntry{
			Seq:         e.seq,
			Text:        e.text,
			Metadata:    e.metadata,
			AccessCount: e.accessCount,
			Tick:        e.tick,
			LastAccess:  e.lastAccess,
		}
	}
	if err := gob.NewEncoder(metaFile).Encode(&snap); err != nil {
		return &CacheError{Op: "save", Path: c.opts.MetaPath, Err: err}
	}

	// Make both staged files durable before publishing either one.
	if err := idxFile.Sync(); err != nil {
		return &CacheError{Op: "save", Path: c.opts.IndexPath, Err: err}
	}
	if err := metaFile.Sync(); err != nil {
		return &CacheError{Op: "save", Path: c.opts.MetaPath, Err: err}
	}
	if err := idxFile.Commit(); err != nil {
		return &CacheError{Op: "save", Path: c.opts.IndexPath, Err: err}
	}
	if err := metaFile.Commit(); err != nil {
		return &CacheError{Op: "save", Path: c.opts.MetaPath, Err: err}
	}
	return nil
}

// load restores both artifacts. Missing artifacts on both sides mean a fresh
// cache; anything else that does not line up is an error.
func (c *SemanticCache) load() error {
	idxExists, err := fileExists(c.opts.IndexPath)
	if err != nil {
		return &CacheError{Op: "load", Path: c.opts.IndexPath, Err: err}
	}
	metaExists, err := fileExists(c.opts.MetaPath)
	if err != nil {
		return &CacheError{Op: "load", Path: c.opts.MetaPath, Err: err}
	}
	if !idxExists && !metaExists {
		return nil
	}
	if !idxExists || !metaExists {
		return &CacheError{Op: "load", Err: errors.New("only one of the two artifacts exists")}
	}

	idx, err := index.NewFlat(c.opts.Dimension, c.opts.Precision)
	if err != nil {
		return err
	}
	f, err := os.Open(c.opts.IndexPath)
	if err != nil {
		return &CacheError{Op: "load", Path: c.opts.IndexPath, Err: err}
	}
	gen, count, err := idx.ReadIndex(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return &CacheError{Op: "load", Path: c.opts.IndexPath, Err: err}
	}

	mf, err := os.Open(c.opts.MetaPath)
	if err != nil {
		return &CacheError{Op: "load", Path: c.opts.MetaPath, Err: err}
	}
	var snap metaSnapshot
	err = gob.NewDecoder(bufio.NewReader(mf)).Decode(&snap)
	mf.Close()
	if err != nil {
		return &CacheError{Op: "load", Path: c.opts.MetaPath, Err: err}
	}

	switch {
	case snap.Version != metaVersion:
		return &CacheError{Op: "load", Path: c.opts.MetaPath, Err: fmt.Errorf("unsupported version %d", snap.Version)}
	case snap.Generation != gen:
		return &CacheError{Op: "load", Err: fmt.Errorf("generation mismatch: index %d, metadata %d", gen, snap.Generation)}
	case len(snap.Entries) != count:
		return &CacheError{Op: "load", Err: fmt.Errorf("count mismatch: index %d, metadata %d", count, len(snap.Entries))}
	case snap.Dimension != c.opts.Dimension:
		return &CacheError{Op: "load", Err: fmt.Errorf("dimension mismatch: configured %d, stored %d", c.opts.Dimension, snap.Dimension)}
	}

	c.index = idx
	c.entries = make([]*entry, len(snap.Entries))
	c.evict.clear()
	for i, me := range snap.Entries {
		e := &entry{
			seq:         me.Seq,
			text:        me.Text,
			metadata:    me.Metadata,
			accessCount: me.AccessCount,
			tick:        me.Tick,
			lastAccess:  me.LastAccess,
		}
		c.entries[i] = e
		c.evict.push(e)
	}
	c.largeTexts = snap.LargeTexts
	if c.largeTexts == nil {
		c.largeTexts = make(map[string]string)
	}
	c.rebuildTextPosLocked()
	c.nextSeq = snap.NextSeq
	c.clock = snap.Clock
	c.generation = gen

	// Artifacts written with a larger capacity are trimmed on load.
	for c.opts.MaxSize > 0 && len(c.entries) > c.opts.MaxSize {
		if err := c.evictOneLocked(); err != nil {
			return err
		}
	}
	c.dirty = 0
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
