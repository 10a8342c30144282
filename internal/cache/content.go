package cache

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/parser"
	"golang.org/x/sync/singleflight"
)

// Memory pressure thresholds as fractions of the configured maximum
const (
	SoftPressureRatio       = 0.80
	AggressivePressureRatio = 0.90

	// AggressiveEvictionFraction of entries is dropped in one pass above aggressive pressure
	AggressiveEvictionFraction = 4

	// DefaultParsedCapacity bounds the number of parse trees kept per cache
	DefaultParsedCapacity = 2048
)

// ParseFunc turns file content into a parsed handle
type ParseFunc func(path string, content []byte) (domain.ParsedFile, error)

// CacheEntry holds one file's cached content.
// Size is derived from Content when the entry is built and never set on its own.
type CacheEntry struct {
	Content      []byte
	Hash         string
	ModTime      time.Time
	LastAccessed time.Time
	Parsed       domain.ParsedFile
	size         int64
}

func newCacheEntry(content []byte, modTime, now time.Time) *CacheEntry {
	return &CacheEntry{
		Content:      content,
		Hash:         HashContent(content),
		ModTime:      modTime,
		LastAccessed: now,
		size:         int64(len(content)),
	}
}

// Size returns the number of bytes accounted for this entry
func (e *CacheEntry) Size() int64 {
	return e.size
}

// ContentCache is a memory-bounded LRU of file contents with a secondary
// cache of parse trees keyed by content hash.
type ContentCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, *CacheEntry]
	parsed  *simplelru.LRU[string, domain.ParsedFile]
	group   singleflight.Group

	maxMemory       int64
	softLimit       int64
	aggressiveLimit int64
	memoryUsage     int64

	hits          int64
	misses        int64
	evictions     int64
	parseHits     int64
	parseMisses   int64
	parseFailures int64
	readFailures  int64

	parse  ParseFunc
	logger logr.Logger
	now    func() time.Time
}

// ContentOption configures a ContentCache
type ContentOption func(*contentOptions)

type contentOptions struct {
	parse          ParseFunc
	parsedCapacity int
	logger         logr.Logger
	now            func() time.Time
}

// WithParseFunc replaces the default tree-sitter parser
func WithParseFunc(fn ParseFunc) ContentOption {
	return func(o *contentOptions) {
		o.parse = fn
	}
}

// WithParsedCapacity sets how many parse trees are retained
func WithParsedCapacity(n int) ContentOption {
	return func(o *contentOptions) {
		if n > 0 {
			o.parsedCapacity = n
		}
	}
}

// WithContentLogger sets the logger
func WithContentLogger(logger logr.Logger) ContentOption {
	return func(o *contentOptions) {
		o.logger = logger
	}
}

// WithContentClock overrides time.Now, used by tests
func WithContentClock(now func() time.Time) ContentOption {
	return func(o *contentOptions) {
		o.now = now
	}
}

// NewContentCache creates a cache bounded to maxMemoryBytes of content
func NewContentCache(maxMemoryBytes int64, opts ...ContentOption) (*ContentCache, error) {
	if maxMemoryBytes <= 0 {
		return nil, domain.NewConfigError("max_memory_bytes must be positive", nil)
	}

	o := contentOptions{
		parse:          defaultParse,
		parsedCapacity: DefaultParsedCapacity,
		logger:         logr.Discard(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Memory, not entry count, bounds this LRU; eviction is driven manually.
	entries, err := simplelru.NewLRU[string, *CacheEntry](math.MaxInt32, nil)
	if err != nil {
		return nil, domain.NewConfigError("failed to create content LRU", err)
	}
	parsed, err := simplelru.NewLRU[string, domain.ParsedFile](o.parsedCapacity, nil)
	if err != nil {
		return nil, domain.NewConfigError("failed to create parse LRU", err)
	}

	return &ContentCache{
		entries:         entries,
		parsed:          parsed,
		maxMemory:       maxMemoryBytes,
		softLimit:       int64(float64(maxMemoryBytes) * SoftPressureRatio),
		aggressiveLimit: int64(float64(maxMemoryBytes) * AggressivePressureRatio),
		parse:           o.parse,
		logger:          o.logger,
		now:             o.now,
	}, nil
}

func defaultParse(path string, content []byte) (domain.ParsedFile, error) {
	return parser.Parse(path, content)
}

// Get returns the current content of path. The returned slice is shared
// with the cache and must not be modified.
func (c *ContentCache) Get(path string) ([]byte, bool) {
	entry, ok := c.load(path)
	if !ok {
		return nil, false
	}
	return entry.Content, true
}

// GetEntry is Get returning the content together with its hash and mtime
func (c *ContentCache) GetEntry(path string) (CacheEntry, bool) {
	entry, ok := c.load(path)
	if !ok {
		return CacheEntry{}, false
	}
	return entry, true
}

func (c *ContentCache) load(path string) (CacheEntry, bool) {
	if path == "" {
		return CacheEntry{}, false
	}

	info, err := os.Stat(path)
	if err != nil {
		c.recordReadFailure(path, err)
		c.Invalidate(path)
		return CacheEntry{}, false
	}
	if info.IsDir() {
		return CacheEntry{}, false
	}
	modTime := info.ModTime()

	c.mu.Lock()
	if e, ok := c.entries.Get(path); ok && e.ModTime.Equal(modTime) {
		e.LastAccessed = c.now()
		c.hits++
		snapshot := *e
		c.mu.Unlock()
		return snapshot, true
	}
	c.misses++
	c.mu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		c.recordReadFailure(path, err)
		c.Invalidate(path)
		return CacheEntry{}, false
	}

	entry := newCacheEntry(content, modTime, c.now())

	c.mu.Lock()
	c.insertLocked(path, entry)
	c.mu.Unlock()

	return *entry, true
}

// Put stores content for path as of modTime
func (c *ContentCache) Put(path string, content []byte, modTime time.Time) {
	if path == "" {
		return
	}
	entry := newCacheEntry(content, modTime, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(path, entry)
}

// GetParsed returns the parse tree for the current content of path.
// Identical content in the same language shares one parse.
func (c *ContentCache) GetParsed(path string) (domain.ParsedFile, bool) {
	entry, ok := c.load(path)
	if !ok {
		return nil, false
	}
	return c.ParsedFor(path, entry.Content, entry.Hash)
}

// ParsedFor returns the parse tree for content already loaded by the caller
func (c *ContentCache) ParsedFor(path string, content []byte, hash string) (domain.ParsedFile, bool) {
	if hash == "" {
		hash = HashContent(content)
	}
	key := parseKey(path, hash)

	c.mu.Lock()
	if tree, ok := c.parsed.Get(key); ok {
		c.parseHits++
		c.mu.Unlock()
		return tree, true
	}
	c.parseMisses++
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if tree, ok := c.parsed.Peek(key); ok {
			c.mu.Unlock()
			return tree, nil
		}
		c.mu.Unlock()

		tree, err := c.parse(path, content)
		if err != nil {
			return nil, err
		}
		if tree == nil {
			return nil, domain.NewParseError(path, nil)
		}

		c.mu.Lock()
		c.parsed.Add(key, tree)
		if e, ok := c.entries.Peek(path); ok && e.Hash == hash {
			e.Parsed = tree
		}
		c.mu.Unlock()
		return tree, nil
	})
	if err != nil {
		c.mu.Lock()
		c.parseFailures++
		c.mu.Unlock()
		c.logger.V(1).Info("parse failed", "path", path, "hash", hash, "error", err.Error())
		return nil, false
	}
	return v.(domain.ParsedFile), true
}

// Invalidate drops the cached content for path
func (c *ContentCache) Invalidate(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(path)
	if !ok {
		return false
	}
	c.entries.Remove(path)
	c.memoryUsage -= e.size
	return true
}

// Clear drops all cached content and parse trees
func (c *ContentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
	c.parsed.Purge()
	c.memoryUsage = 0
}

// Len returns the number of cached files
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Contains reports whether path is cached without touching recency
func (c *ContentCache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(path)
}

// Keys returns cached paths from least to most recently used
func (c *ContentCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

// Stats returns a snapshot of the cache counters
func (c *ContentCache) Stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := domain.CacheStats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		ParseHits:     c.parseHits,
		ParseMisses:   c.parseMisses,
		ParseFailures: c.parseFailures,
		ReadFailures:  c.readFailures,
		MemoryUsage:   c.memoryUsage,
		MaxMemory:     c.maxMemory,
		Entries:       c.entries.Len(),
		ParsedEntries: c.parsed.Len(),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

func (c *ContentCache) insertLocked(path string, entry *CacheEntry) {
	if old, ok := c.entries.Peek(path); ok {
		c.memoryUsage -= old.size
	}
	c.entries.Add(path, entry)
	c.memoryUsage += entry.size
	c.enforceBoundsLocked()
}

func (c *ContentCache) enforceBoundsLocked() {
	if c.memoryUsage > c.aggressiveLimit {
		n := c.entries.Len() / AggressiveEvictionFraction
		if n < 1 {
			n = 1
		}
		for i := 0; i < n && c.entries.Len() > 0; i++ {
			c.evictOldestLocked()
		}
	}
	for c.memoryUsage > c.softLimit && c.entries.Len() > 0 {
		c.evictOldestLocked()
	}
	for c.memoryUsage > c.maxMemory && c.entries.Len() > 0 {
		c.evictOldestLocked()
	}
}

func (c *ContentCache) evictOldestLocked() {
	path, e, ok := c.entries.RemoveOldest()
	if !ok {
		return
	}
	c.memoryUsage -= e.size
	c.evictions++
	c.logger.V(2).Info("evicted content", "path", path, "size", e.size, "usage", c.memoryUsage)
}

func (c *ContentCache) recordReadFailure(path string, err error) {
	c.mu.Lock()
	c.readFailures++
	c.mu.Unlock()
	c.logger.V(1).Info("cannot read file", "path", path, "error", err.Error())
}

func parseKey(path, hash string) string {
	return strings.ToLower(filepath.Ext(path)) + ":" + hash
}
