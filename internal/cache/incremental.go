package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/ludo-technologies/connscan/domain"
)

// Incremental cache limits
const (
	MinPartialResults     = 100
	MaxPartialResultsCap  = 100000
	MinDependencyNodes    = 100
	MaxDependencyNodesCap = 100000
	MinRetentionHours     = 0.1
	MaxRetentionHours     = 168
	MinDeltaHistory       = 100
	MaxDeltaHistoryCap    = 10000

	// PartialEvictionFraction of partial results is dropped when the store is full
	PartialEvictionFraction = 5

	// KindViolations is the partial-result kind holding analyzer violations
	KindViolations = "violations"
)

// IncrementalConfig bounds an IncrementalCache
type IncrementalConfig struct {
	MaxPartialResults  int
	MaxDependencyNodes int
	RetentionHours     float64
	MaxDeltaHistory    int
}

// DefaultIncrementalConfig returns the default limits
func DefaultIncrementalConfig() IncrementalConfig {
	return IncrementalConfig{
		MaxPartialResults:  10000,
		MaxDependencyNodes: 50000,
		RetentionHours:     24,
		MaxDeltaHistory:    1000,
	}
}

// Validate checks the configured ranges
func (c IncrementalConfig) Validate() error {
	if c.MaxPartialResults < MinPartialResults || c.MaxPartialResults > MaxPartialResultsCap {
		return domain.NewConfigError(fmt.Sprintf("max_partial_results must be between %d and %d, got %d",
			MinPartialResults, MaxPartialResultsCap, c.MaxPartialResults), nil)
	}
	if c.MaxDependencyNodes < MinDependencyNodes || c.MaxDependencyNodes > MaxDependencyNodesCap {
		return domain.NewConfigError(fmt.Sprintf("max_dependency_nodes must be between %d and %d, got %d",
			MinDependencyNodes, MaxDependencyNodesCap, c.MaxDependencyNodes), nil)
	}
	if c.RetentionHours < MinRetentionHours || c.RetentionHours > MaxRetentionHours {
		return domain.NewConfigError(fmt.Sprintf("cache_retention_hours must be between %g and %d, got %g",
			MinRetentionHours, MaxRetentionHours, c.RetentionHours), nil)
	}
	if c.MaxDeltaHistory < MinDeltaHistory || c.MaxDeltaHistory > MaxDeltaHistoryCap {
		return domain.NewConfigError(fmt.Sprintf("max_delta_history must be between %d and %d, got %d",
			MinDeltaHistory, MaxDeltaHistoryCap, c.MaxDeltaHistory), nil)
	}
	return nil
}

// InvalidationHook is called, outside the cache lock, with the paths whose
// partial results were dropped by a cascade starting at origin.
type InvalidationHook func(origin string, paths []string)

// IncrementalOption configures an IncrementalCache
type IncrementalOption func(*IncrementalCache)

// WithIncrementalLogger sets the logger
func WithIncrementalLogger(logger logr.Logger) IncrementalOption {
	return func(c *IncrementalCache) {
		c.logger = logger
	}
}

// WithIncrementalClock overrides time.Now, used by tests
func WithIncrementalClock(now func() time.Time) IncrementalOption {
	return func(c *IncrementalCache) {
		c.now = now
	}
}

// WithFileReader overrides how TrackChange reads file content from disk
func WithFileReader(read func(path string) ([]byte, error)) IncrementalOption {
	return func(c *IncrementalCache) {
		c.readFile = read
	}
}

// WithInvalidationHook registers a hook run after every cascade
func WithInvalidationHook(hook InvalidationHook) IncrementalOption {
	return func(c *IncrementalCache) {
		c.hook = hook
	}
}

// IncrementalCache tracks content transitions, a symmetric dependency graph
// and hash-scoped partial results.
type IncrementalCache struct {
	mu        sync.Mutex
	cfg       IncrementalConfig
	retention time.Duration

	hashes   map[string]string
	sizes    map[string]int64
	history  []domain.FileDelta
	partials map[string]map[string]*domain.PartialResult
	count    int
	graph    *dependencyGraph

	partialHits       int64
	partialMisses     int64
	invalidations     int64
	cascadeRuns       int64
	expiredRemoved    int64
	capacityEvictions int64
	readFailures      int64
	unchanged         int64
	deltasByKind      map[domain.DeltaKind]int

	hook     InvalidationHook
	logger   logr.Logger
	now      func() time.Time
	readFile func(path string) ([]byte, error)
}

// NewIncrementalCache creates an IncrementalCache after validating cfg
func NewIncrementalCache(cfg IncrementalConfig, opts ...IncrementalOption) (*IncrementalCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &IncrementalCache{
		cfg:          cfg,
		retention:    time.Duration(cfg.RetentionHours * float64(time.Hour)),
		hashes:       make(map[string]string),
		sizes:        make(map[string]int64),
		history:      make([]domain.FileDelta, 0, cfg.MaxDeltaHistory),
		partials:     make(map[string]map[string]*domain.PartialResult),
		graph:        newDependencyGraph(),
		deltasByKind: make(map[domain.DeltaKind]int),
		logger:       logr.Discard(),
		now:          time.Now,
		readFile:     os.ReadFile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetInvalidationHook replaces the cascade hook
func (c *IncrementalCache) SetInvalidationHook(hook InvalidationHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = hook
}

// TrackChange records the transition of path to its current on-disk content.
// oldContent is optional and only used for line counts. A missing file is a deletion.
// Returns nil when the content is unchanged or the file cannot be read.
func (c *IncrementalCache) TrackChange(path string, oldContent []byte) *domain.FileDelta {
	if path == "" {
		return nil
	}

	content, err := c.readFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.track(path, oldContent, nil, false)
		}
		c.mu.Lock()
		c.readFailures++
		c.mu.Unlock()
		c.logger.V(1).Info("cannot read file for change tracking", "path", path, "error", err.Error())
		return nil
	}
	return c.track(path, oldContent, content, true)
}

// TrackChangeTrusted records a transition using caller-supplied content.
// A nil newContent is a deletion.
func (c *IncrementalCache) TrackChangeTrusted(path string, oldContent, newContent []byte) *domain.FileDelta {
	if path == "" {
		return nil
	}
	return c.track(path, oldContent, newContent, newContent != nil)
}

func (c *IncrementalCache) track(path string, oldContent, newContent []byte, exists bool) *domain.FileDelta {
	var newHash string
	if exists {
		newHash = HashContent(newContent)
	}

	var added, removed int
	diffed := false
	if oldContent != nil && exists && !bytes.Equal(oldContent, newContent) {
		added, removed = LineDiff(oldContent, newContent)
		diffed = true
	}

	c.mu.Lock()
	prevHash, had := c.hashes[path]

	var kind domain.DeltaKind
	switch {
	case !had && exists:
		kind = domain.DeltaCreated
	case had && exists && prevHash != newHash:
		kind = domain.DeltaModified
	case had && !exists:
		kind = domain.DeltaDeleted
	default:
		c.unchanged++
		c.mu.Unlock()
		return nil
	}

	delta := domain.FileDelta{
		Path:       path,
		OldHash:    prevHash,
		NewHash:    newHash,
		Kind:       kind,
		Timestamp:  c.now(),
		SizeBefore: c.sizes[path],
	}
	if exists {
		delta.SizeAfter = int64(len(newContent))
	}
	switch {
	case diffed:
		delta.LinesAdded, delta.LinesRemoved = added, removed
	case kind == domain.DeltaCreated:
		delta.LinesAdded = countLines(newContent)
	case kind == domain.DeltaDeleted && oldContent != nil:
		delta.LinesRemoved = countLines(oldContent)
	}

	if exists {
		c.hashes[path] = newHash
		c.sizes[path] = delta.SizeAfter
	} else {
		delete(c.hashes, path)
		delete(c.sizes, path)
	}
	c.appendHistoryLocked(delta)
	c.deltasByKind[kind]++

	invalidated := c.cascadeLocked(path)
	hook := c.hook
	c.mu.Unlock()

	c.logger.V(2).Info("tracked change", "path", path, "kind", kind, "invalidated", len(invalidated))
	if hook != nil {
		hook(path, invalidated)
	}
	return &delta
}

// InvalidateCascade drops the partial results of path and of every
// transitive dependent. Returns the visited paths, path first.
func (c *IncrementalCache) InvalidateCascade(path string) []string {
	if path == "" {
		return nil
	}
	c.mu.Lock()
	visited := c.cascadeLocked(path)
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook(path, visited)
	}
	return visited
}

func (c *IncrementalCache) cascadeLocked(path string) []string {
	visited := c.graph.cascade(path)
	removed := 0
	for _, p := range visited {
		removed += c.dropPartialsLocked(p)
	}
	c.invalidations += int64(removed)
	c.cascadeRuns++
	return visited
}

// GetPartialResult returns the result of kind for path if it is still valid.
// A non-empty currentHash must match the stored hash. Stale entries are evicted.
func (c *IncrementalCache) GetPartialResult(path, kind, currentHash string) (*domain.PartialResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind, ok := c.partials[path]
	if !ok {
		c.partialMisses++
		return nil, false
	}
	p, ok := byKind[kind]
	if !ok {
		c.partialMisses++
		return nil, false
	}

	if !p.IsValid(currentHash, c.retention, c.now()) {
		c.deletePartialLocked(path, kind)
		c.partialMisses++
		return nil, false
	}

	c.partialHits++
	out := *p
	return &out, true
}

// StorePartialResult caches data computed for path at hash and records its
// declared dependencies.
func (c *IncrementalCache) StorePartialResult(path, kind string, data any, hash string, deps []string, metadata map[string]string) {
	if path == "" || kind == "" {
		return
	}

	now := c.now()
	result := &domain.PartialResult{
		Path:         path,
		Kind:         kind,
		Data:         data,
		ContentHash:  hash,
		CreatedAt:    now,
		Dependencies: append([]string(nil), deps...),
	}
	if metadata != nil {
		result.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			result.Metadata[k] = v
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byKind, ok := c.partials[path]
	if !ok {
		byKind = make(map[string]*domain.PartialResult)
		c.partials[path] = byKind
	}
	if _, exists := byKind[kind]; !exists {
		if c.count >= c.cfg.MaxPartialResults {
			c.evictOldestPartialsLocked()
			// eviction may have emptied and removed this path's map
			if byKind, ok = c.partials[path]; !ok {
				byKind = make(map[string]*domain.PartialResult)
				c.partials[path] = byKind
			}
		}
		c.count++
	}
	byKind[kind] = result

	c.graph.setDependencies(path, deps)
	node := c.graph.ensure(path)
	node.ContentHash = hash
	node.LastAnalyzed = now
	c.enforceNodeCapacityLocked(path)
}

// UpdateDependencies replaces the declared dependencies of path
func (c *IncrementalCache) UpdateDependencies(path string, deps []string) {
	if path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.graph.setDependencies(path, deps)
	c.enforceNodeCapacityLocked(path)
}

// GetFilesNeedingAnalysis returns the paths lacking a valid partial result of kind
func (c *IncrementalCache) GetFilesNeedingAnalysis(paths []string, kind string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var needing []string
	for _, path := range paths {
		p := c.partials[path][kind]
		if !p.IsValid(c.hashes[path], c.retention, now) {
			needing = append(needing, path)
		}
	}
	return needing
}

// RemoveFile forgets path entirely: hash, partial results and graph edges
func (c *IncrementalCache) RemoveFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.hashes, path)
	delete(c.sizes, path)
	c.dropPartialsLocked(path)
	c.graph.remove(path)
}

// CleanupExpired removes every partial result past the retention window
func (c *IncrementalCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for path, byKind := range c.partials {
		for kind, p := range byKind {
			if now.Sub(p.CreatedAt) > c.retention {
				c.deletePartialLocked(path, kind)
				removed++
			}
		}
	}
	c.expiredRemoved += int64(removed)
	if removed > 0 {
		c.logger.V(1).Info("removed expired partial results", "count", removed)
	}
	return removed
}

// CurrentHash returns the last tracked hash for path
func (c *IncrementalCache) CurrentHash(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hashes[path]
	return h, ok
}

// Dependents returns the paths that depend on path
func (c *IncrementalCache) Dependents(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.dependents(path)
}

// Dependencies returns the paths path depends on
func (c *IncrementalCache) Dependencies(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.dependencies(path)
}

// Node returns a copy of the dependency node for path
func (c *IncrementalCache) Node(path string) (domain.DependencyNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.graph.get(path)
	if !ok {
		return domain.DependencyNode{}, false
	}
	out := domain.DependencyNode{
		Path:         n.Path,
		ContentHash:  n.ContentHash,
		LastAnalyzed: n.LastAnalyzed,
		Dependencies: make(map[string]struct{}, len(n.Dependencies)),
		Dependents:   make(map[string]struct{}, len(n.Dependents)),
	}
	for k := range n.Dependencies {
		out.Dependencies[k] = struct{}{}
	}
	for k := range n.Dependents {
		out.Dependents[k] = struct{}{}
	}
	return out, true
}

// History returns up to limit most recent deltas, oldest first.
// A non-positive limit returns the whole history.
func (c *IncrementalCache) History(limit int) []domain.FileDelta {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(c.history) {
		start = len(c.history) - limit
	}
	out := make([]domain.FileDelta, len(c.history)-start)
	copy(out, c.history[start:])
	return out
}

// Clear resets all state but keeps counters
func (c *IncrementalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hashes = make(map[string]string)
	c.sizes = make(map[string]int64)
	c.history = c.history[:0]
	c.partials = make(map[string]map[string]*domain.PartialResult)
	c.count = 0
	c.graph = newDependencyGraph()
}

// Stats returns a snapshot of the cache counters
func (c *IncrementalCache) Stats() domain.IncrementalStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int, len(c.deltasByKind))
	for k, v := range c.deltasByKind {
		byKind[string(k)] = v
	}
	return domain.IncrementalStats{
		TrackedFiles:        len(c.hashes),
		PartialResults:      c.count,
		DependencyNodes:     c.graph.len(),
		DeltaHistory:        len(c.history),
		PartialHits:         c.partialHits,
		PartialMisses:       c.partialMisses,
		Invalidations:       c.invalidations,
		CascadeRuns:         c.cascadeRuns,
		ExpiredRemoved:      c.expiredRemoved,
		CapacityEvictions:   c.capacityEvictions,
		DeltasByKind:        byKind,
		MaxPartialResults:   c.cfg.MaxPartialResults,
		MaxDependencyNodes:  c.cfg.MaxDependencyNodes,
		RetentionHours:      c.cfg.RetentionHours,
		ReadFailures:        c.readFailures,
		UnchangedTransition: c.unchanged,
	}
}

func (c *IncrementalCache) appendHistoryLocked(delta domain.FileDelta) {
	if len(c.history) >= c.cfg.MaxDeltaHistory {
		n := copy(c.history, c.history[len(c.history)-c.cfg.MaxDeltaHistory+1:])
		c.history = c.history[:n]
	}
	c.history = append(c.history, delta)
}

func (c *IncrementalCache) dropPartialsLocked(path string) int {
	byKind, ok := c.partials[path]
	if !ok {
		return 0
	}
	n := len(byKind)
	c.count -= n
	delete(c.partials, path)
	return n
}

func (c *IncrementalCache) deletePartialLocked(path, kind string) {
	byKind, ok := c.partials[path]
	if !ok {
		return
	}
	if _, ok := byKind[kind]; !ok {
		return
	}
	delete(byKind, kind)
	c.count--
	if len(byKind) == 0 {
		delete(c.partials, path)
	}
}

type partialRef struct {
	path      string
	kind      string
	createdAt time.Time
}

// evictOldestPartialsLocked drops the oldest fifth of partial results by creation time
func (c *IncrementalCache) evictOldestPartialsLocked() {
	refs := make([]partialRef, 0, c.count)
	for path, byKind := range c.partials {
		for kind, p := range byKind {
			refs = append(refs, partialRef{path: path, kind: kind, createdAt: p.CreatedAt})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].createdAt.Equal(refs[j].createdAt) {
			if refs[i].path == refs[j].path {
				return refs[i].kind < refs[j].kind
			}
			return refs[i].path < refs[j].path
		}
		return refs[i].createdAt.Before(refs[j].createdAt)
	})

	n := len(refs) / PartialEvictionFraction
	if n < 1 {
		n = 1
	}
	if n > len(refs) {
		n = len(refs)
	}
	for _, r := range refs[:n] {
		c.deletePartialLocked(r.path, r.kind)
	}
	c.capacityEvictions += int64(n)
	c.logger.V(1).Info("evicted partial results", "count", n)
}

// enforceNodeCapacityLocked removes the least recently analyzed nodes once
// the graph exceeds its bound, preferring nodes without partial results.
func (c *IncrementalCache) enforceNodeCapacityLocked(keep string) {
	excess := c.graph.len() - c.cfg.MaxDependencyNodes
	if excess <= 0 {
		return
	}

	candidates := c.graph.oldestFirst()
	for _, p := range candidates {
		if excess == 0 {
			return
		}
		if p == keep {
			continue
		}
		if _, has := c.partials[p]; has {
			continue
		}
		c.graph.remove(p)
		excess--
	}
	for _, p := range candidates {
		if excess == 0 {
			return
		}
		if p == keep {
			continue
		}
		if _, live := c.graph.get(p); !live {
			continue
		}
		c.dropPartialsLocked(p)
		c.graph.remove(p)
		excess--
	}
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte{'\n'})
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
