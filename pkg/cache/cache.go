// Package cache implements a semantic memoization cache: entries are found by
// embedding similarity rather than exact key match, so paraphrased repeats of
// an expensive request can reuse earlier work.
//
// Concurrency: one mutex serializes every operation, Search included, because
// lookups update access statistics. Embedding calls happen while the lock is
// held. This bounds throughput to one cache operation at a time across all runs.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/distance"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/index"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/types"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/embeddings"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/metrics"
)

// placeholderPrefix marks a stored text that lives in the large-text table.
const placeholderPrefix = "@sha256:"

// Options configures a SemanticCache.
type Options struct {
	Dimension int                    `yaml:"dimension"`
	Precision distance.PrecisionType `yaml:"precision"`
	MaxSize   int                    `yaml:"max_size"`

	// Texts longer than this many characters are stored once in a side table.
	LargeTextThreshold int `yaml:"large_text_threshold"`

	// Both paths empty disables persistence.
	IndexPath string `yaml:"index_path"`
	MetaPath  string `yaml:"meta_path"`

	// Auto-save after this many inserts or this much time, whichever comes first.
	AutoSaveEvery    int           `yaml:"auto_save_every"`
	AutoSaveInterval time.Duration `yaml:"auto_save_interval"`

	EmbedRetries    int           `yaml:"embed_retries"`
	EmbedBackoff    time.Duration `yaml:"embed_backoff"`
	EmbedMaxBackoff time.Duration `yaml:"embed_max_backoff"`

	EmbeddingMemoSize int `yaml:"embedding_memo_size"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns the default configuration, persisting under dataDir
// when it is not empty.
func DefaultOptions(dataDir string, dim int) Options {
	opts := Options{
		Dimension:          dim,
		Precision:          distance.Float32,
		MaxSize:            1000,
		LargeTextThreshold: 1000,
		AutoSaveEvery:      10,
		AutoSaveInterval:   30 * time.Second,
		EmbedRetries:       3,
		EmbedBackoff:       100 * time.Millisecond,
		EmbedMaxBackoff:    2 * time.Second,
		EmbeddingMemoSize:  4096,
	}
	if dataDir != "" {
		opts.IndexPath = filepath.Join(dataDir, "semantic_cache.index")
		opts.MetaPath = filepath.Join(dataDir, "semantic_cache.meta")
	}
	return opts
}

// Hit is one search result.
type Hit struct {
	Text     string
	Metadata map[string]string
	Score    float64
}

// Stats is a point-in-time summary of the cache.
type Stats struct {
	Size           int       `json:"size"`
	MaxSize        int       `json:"max_size"`
	Dimension      int       `json:"dimension"`
	Metric         string    `json:"metric"`
	Precision      string    `json:"precision"`
	Backend        string    `json:"backend"`
	EvictionPolicy string    `json:"eviction_policy"`
	LargeTexts     int       `json:"large_texts"`
	Inserts        int64     `json:"inserts"`
	Duplicates     int64     `json:"duplicates"`
	Hits           int64     `json:"hits"`
	Misses         int64     `json:"misses"`
	Evictions      int64     `json:"evictions"`
	PendingWrites  int       `json:"pending_writes"`
	LastSave       time.Time `json:"last_save"`
	Persistent     bool      `json:"persistent"`
}

// entry is one cached item. Its position in entries equals its vector position.
type entry struct {
	seq         uint64
	text        string // original text, or a placeholder for large texts
	metadata    map[string]string
	accessCount int
	tick        uint64 // logical last-access clock, orders recency
	lastAccess  time.Time
}

func (e *entry) key() evictKey {
	return evictKey{count: e.accessCount, tick: e.tick, seq: e.seq}
}

// SemanticCache is the shared memoization store. Use New to create one.
type SemanticCache struct {
	mu       sync.Mutex
	opts     Options
	logger   *slog.Logger
	embedder embeddings.Embedder

	index      *index.Flat
	entries    []*entry
	textPos    map[string]int
	largeTexts map[string]string
	evict      *evictionQueue
	memo       *vectorMemo

	nextSeq    uint64
	clock      uint64
	generation uint64

	dirty    int
	touched  bool
	lastSave time.Time
	closed   bool

	inserts, duplicates, hits, misses, evictions int64
}

// New creates a cache and loads persisted artifacts if both exist. Load
// failures are logged and leave the cache empty.
func New(embedder embeddings.Embedder, opts Options) (*SemanticCache, error) {
	if embedder == nil {
		return nil, &types.ConfigurationError{Field: "embedder", Reason: "must not be nil"}
	}
	if opts.MaxSize < 0 {
		return nil, &types.ConfigurationError{Field: "max_size", Reason: "must not be negative"}
	}
	if (opts.IndexPath == "") != (opts.MetaPath == "") {
		return nil, &types.ConfigurationError{Field: "index_path/meta_path", Reason: "set both or neither"}
	}
	if opts.Precision == "" {
		opts.Precision = distance.Float32
	}
	if opts.EmbedBackoff <= 0 {
		opts.EmbedBackoff = 100 * time.Millisecond
	}
	if opts.EmbedMaxBackoff < opts.EmbedBackoff {
		opts.EmbedMaxBackoff = opts.EmbedBackoff
	}
	if opts.EmbedRetries <= 0 {
		opts.EmbedRetries = 1
	}

	idx, err := index.NewFlat(opts.Dimension, opts.Precision)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &SemanticCache{
		opts:       opts,
		logger:     logger,
		embedder:   embedder,
		index:      idx,
		textPos:    make(map[string]int),
		largeTexts: make(map[string]string),
		evict:      newEvictionQueue(),
		memo:       newVectorMemo(opts.EmbeddingMemoSize),
		lastSave:   time.Now(),
	}

	if c.persistent() {
		if err := c.load(); err != nil {
			c.logger.Warn("[Cache] Failed to load persisted cache, starting empty", "error", err)
			c.resetLocked()
		} else if len(c.entries) > 0 {
			c.logger.Info("[Cache] Loaded persisted cache", "entries", len(c.entries), "generation", c.generation)
		}
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return c, nil
}

func (c *SemanticCache) persistent() bool {
	return c.opts.IndexPath != "" && c.opts.MetaPath != ""
}

// storedForm returns the text as it is held in the aligned arrays.
func (c *SemanticCache) storedForm(text string) string {
	if c.opts.LargeTextThreshold > 0 && utf8.RuneCountInString(text) > c.opts.LargeTextThreshold {
		return placeholderPrefix + contentHash(text)
	}
	return text
}

// originalText resolves a stored form back to the full text.
func (c *SemanticCache) originalText(stored string) string {
	if len(stored) > len(placeholderPrefix) && stored[:len(placeholderPrefix)] == placeholderPrefix {
		if full, ok := c.largeTexts[stored[len(placeholderPrefix):]]; ok {
			return full
		}
	}
	return stored
}

func (c *SemanticCache) touchLocked(e *entry) {
	c.evict.touch(e, func() {
		c.clock++
		e.accessCount++
		e.tick = c.clock
		e.lastAccess = time.Now()
	})
	c.touched = true
}

// Add stores text with its metadata. It returns false without inserting when
// the exact text is already present; that entry's access stats are bumped instead.
// At capacity exactly one entry is evicted before the insert.
func (c *SemanticCache) Add(ctx context.Context, text string, metadata map[string]string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}

	stored := c.storedForm(text)
	if pos, ok := c.textPos[stored]; ok {
		c.touchLocked(c.entries[pos])
		c.duplicates++
		return false, nil
	}

	// Embed first so a provider failure leaves the cache untouched.
	vec, err := c.embedLocked(ctx, text)
	if err != nil {
		return false, err
	}

	if c.opts.MaxSize > 0 && len(c.entries) >= c.opts.MaxSize {
		if err := c.evictOneLocked(); err != nil {
			return false, err
		}
	}

	pos, err := c.index.Add(vec)
	if err != nil {
		return false, err
	}

	c.clock++
	c.nextSeq++
	e := &entry{
		seq:         c.nextSeq,
		text:        stored,
		metadata:    copyMetadata(metadata),
		accessCount: 1,
		tick:        c.clock,
		lastAccess:  time.Now(),
	}
	if stored != text {
		c.largeTexts[stored[len(placeholderPrefix):]] = text
	}
	c.entries = append(c.entries, e)
	c.textPos[stored] = pos
	c.evict.push(e)

	c.inserts++
	c.dirty++
	metrics.CacheEntries.Set(float64(len(c.entries)))

	c.maybeSaveLocked()
	return true, nil
}

// Search embeds query and returns up to k entries whose similarity is at least
// minScore, highest first. Every returned entry has its access stats bumped.
// An empty cache returns no hits without calling the embedder.
func (c *SemanticCache) Search(ctx context.Context, query string, k int, minScore float64) ([]Hit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if len(c.entries) == 0 || k <= 0 {
		c.misses++
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return []Hit{}, nil
	}

	vec, err := c.embedLocked(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := c.index.Search(vec, k)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if r.Score < minScore {
			continue
		}
		e := c.entries[r.Position]
		c.touchLocked(e)
		hits = append(hits, Hit{
			Text:     c.originalText(e.text),
			Metadata: copyMetadata(e.metadata),
			Score:    r.Score,
		})
	}

	if len(hits) == 0 {
		c.misses++
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	} else {
		c.hits++
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	}
	return hits, nil
}

// evictOneLocked removes the entry ranked lowest by (access count, last access)
// and re-syncs the index and the aligned arrays.
func (c *SemanticCache) evictOneLocked() error {
	seq, ok := c.evict.victim()
	if !ok {
		return nil
	}
	pos := -1
	for i, e := range c.entries {
		if e.seq == seq {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("eviction queue references unknown entry %d", seq)
	}

	if err := c.index.RemoveAt(pos); err != nil {
		return err
	}
	victim := c.entries[pos]
	c.evict.remove(victim)
	c.entries = append(c.entries[:pos], c.entries[pos+1:]...)
	if victim.text != c.originalText(victim.text) {
		delete(c.largeTexts, victim.text[len(placeholderPrefix):])
	}
	c.rebuildTextPosLocked()

	c.evictions++
	c.dirty++
	metrics.CacheEvictionsTotal.Inc()
	c.logger.Debug("[Cache] Evicted entry", "access_count", victim.accessCount, "policy", EvictLFUWithLRUTiebreak)
	return nil
}

func (c *SemanticCache) rebuildTextPosLocked() {
	c.textPos = make(map[string]int, len(c.entries))
	for i, e := range c.entries {
		c.textPos[e.text] = i
	}
}

// Size returns the number of entries.
func (c *SemanticCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// AccessCount returns the access count of the exact text, or 0 if absent.
func (c *SemanticCache) AccessCount(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos, ok := c.textPos[c.storedForm(text)]; ok {
		return c.entries[pos].accessCount
	}
	return 0
}

// Contains reports whether the exact text is cached. It does not touch access stats.
func (c *SemanticCache) Contains(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.textPos[c.storedForm(text)]
	return ok
}

// Clear removes every entry and persists the empty state.
func (c *SemanticCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	metrics.CacheEntries.Set(0)
	if !c.persistent() {
		return nil
	}
	return c.saveLocked()
}

func (c *SemanticCache) resetLocked() {
	c.index.Reset()
	c.entries = nil
	c.textPos = make(map[string]int)
	c.largeTexts = make(map[string]string)
	c.evict.clear()
	c.dirty = 0
	c.touched = false
}

// Dimension returns the vector width every cached embedding must have.
func (c *SemanticCache) Dimension() int {
	return c.opts.Dimension
}

// Stats returns counters and configuration.
func (c *SemanticCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.index.Info()
	return Stats{
		Size:           info.VectorCount,
		MaxSize:        c.opts.MaxSize,
		Dimension:      info.Dimension,
		Metric:         string(info.Metric),
		Precision:      string(info.Precision),
		Backend:        info.Backend,
		EvictionPolicy: EvictLFUWithLRUTiebreak,
		LargeTexts:     len(c.largeTexts),
		Inserts:        c.inserts,
		Duplicates:     c.duplicates,
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
		PendingWrites:  c.dirty,
		LastSave:       c.lastSave,
		Persistent:     c.persistent(),
	}
}

// Maintain runs the time-based half of the auto-save heuristic. It is meant
// to be called periodically by the owner of the cache.
func (c *SemanticCache) Maintain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.maybeSaveLocked()
}

// Close persists pending changes and rejects further operations.
func (c *SemanticCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.persistent() && (c.dirty > 0 || c.touched) {
		return c.saveLocked()
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
