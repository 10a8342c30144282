package service

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/ludo-technologies/connscan/domain"
)

// resultEvictionFraction is the share of entries dropped when the cache is full (1/5)
const resultEvictionFraction = 5

// ResultCacheStats is a snapshot of ResultCache counters
type ResultCacheStats struct {
	Entries   int   `json:"entries" yaml:"entries"`
	Capacity  int   `json:"capacity" yaml:"capacity"`
	Hits      int64 `json:"hits" yaml:"hits"`
	Misses    int64 `json:"misses" yaml:"misses"`
	Evictions int64 `json:"evictions" yaml:"evictions"`
}

// ResultKey identifies one cached analysis result
type ResultKey struct {
	Path string
	Hash string
	Kind domain.ChangeKind
}

func (k ResultKey) String() string {
	return k.Path + "\x00" + k.Hash + "\x00" + string(k.Kind)
}

// ResultCache holds analysis results keyed by path, content hash and change
// kind. When full it drops the least recently accessed fifth of its entries.
type ResultCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, domain.AnalysisResult]
	byPath   map[string]map[string]struct{}
	capacity int

	hits      int64
	misses    int64
	evictions int64
}

// NewResultCache creates a cache holding at most capacity results
func NewResultCache(capacity int) (*ResultCache, error) {
	if capacity <= 0 {
		return nil, domain.NewConfigError("result cache size must be positive", nil)
	}
	c := &ResultCache{
		byPath:   make(map[string]map[string]struct{}),
		capacity: capacity,
	}
	lru, err := simplelru.NewLRU[string, domain.AnalysisResult](capacity, c.onRemove)
	if err != nil {
		return nil, domain.NewConfigError("failed to create result cache", err)
	}
	c.lru = lru
	return c, nil
}

// onRemove keeps the path index in step with the LRU; it runs under c.mu
func (c *ResultCache) onRemove(key string, result domain.AnalysisResult) {
	keys, ok := c.byPath[result.FilePath]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byPath, result.FilePath)
	}
}

// Get returns a copy of the cached result for key
func (c *ResultCache) Get(key ResultKey) (domain.AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, ok := c.lru.Get(key.String())
	if !ok {
		c.misses++
		return domain.AnalysisResult{}, false
	}
	c.hits++
	return result.Clone(), true
}

// GetAll returns copies of the results for every key, or false if any key
// is missing. A partial match counts as one miss and refreshes nothing.
func (c *ResultCache) GetAll(keys []ResultKey) ([]domain.AnalysisResult, bool) {
	if len(keys) == 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if !c.lru.Contains(key.String()) {
			c.misses++
			return nil, false
		}
	}
	out := make([]domain.AnalysisResult, 0, len(keys))
	for _, key := range keys {
		result, _ := c.lru.Get(key.String())
		out = append(out, result.Clone())
	}
	c.hits++
	return out, true
}

// Put stores a copy of result under key
func (c *ResultCache) Put(key ResultKey, result domain.AnalysisResult) {
	k := key.String()
	result = result.Clone()
	result.FilePath = key.Path

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lru.Contains(k) && c.lru.Len() >= c.capacity {
		c.evictLocked()
	}
	c.lru.Add(k, result)

	keys, ok := c.byPath[key.Path]
	if !ok {
		keys = make(map[string]struct{})
		c.byPath[key.Path] = keys
	}
	keys[k] = struct{}{}
}

func (c *ResultCache) evictLocked() {
	n := c.lru.Len() / resultEvictionFraction
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			return
		}
		c.evictions++
	}
}

// InvalidatePaths drops every result cached for the given paths
func (c *ResultCache) InvalidatePaths(paths []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, path := range paths {
		keys := c.byPath[path]
		victims := make([]string, 0, len(keys))
		for k := range keys {
			victims = append(victims, k)
		}
		for _, k := range victims {
			if c.lru.Remove(k) {
				removed++
			}
		}
	}
	return removed
}

// Len returns the number of cached results
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops everything
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.byPath = make(map[string]map[string]struct{})
}

// Stats returns the cache counters
func (c *ResultCache) Stats() ResultCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ResultCacheStats{
		Entries:   c.lru.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
