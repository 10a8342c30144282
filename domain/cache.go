package domain

import "time"

// CacheStats is a snapshot of ContentCache counters
type CacheStats struct {
	Hits          int64   `json:"hits" yaml:"hits"`
	Misses        int64   `json:"misses" yaml:"misses"`
	Evictions     int64   `json:"evictions" yaml:"evictions"`
	ParseHits     int64   `json:"parse_hits" yaml:"parse_hits"`
	ParseMisses   int64   `json:"parse_misses" yaml:"parse_misses"`
	ParseFailures int64   `json:"parse_failures" yaml:"parse_failures"`
	ReadFailures  int64   `json:"read_failures" yaml:"read_failures"`
	MemoryUsage   int64   `json:"memory_usage" yaml:"memory_usage"`
	MaxMemory     int64   `json:"max_memory" yaml:"max_memory"`
	Entries       int     `json:"entries" yaml:"entries"`
	ParsedEntries int     `json:"parsed_entries" yaml:"parsed_entries"`
	HitRate       float64 `json:"hit_rate" yaml:"hit_rate"`
}

// DeltaKind classifies a content transition
type DeltaKind string

const (
	DeltaCreated  DeltaKind = "created"
	DeltaModified DeltaKind = "modified"
	DeltaDeleted  DeltaKind = "deleted"
)

// FileDelta records a single content transition for a path.
// Unchanged transitions never produce a FileDelta.
type FileDelta struct {
	Path         string    `json:"path" yaml:"path"`
	OldHash      string    `json:"old_hash,omitempty" yaml:"old_hash,omitempty"`
	NewHash      string    `json:"new_hash,omitempty" yaml:"new_hash,omitempty"`
	Kind         DeltaKind `json:"kind" yaml:"kind"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
	SizeBefore   int64     `json:"size_before" yaml:"size_before"`
	SizeAfter    int64     `json:"size_after" yaml:"size_after"`
	LinesAdded   int       `json:"lines_added" yaml:"lines_added"`
	LinesRemoved int       `json:"lines_removed" yaml:"lines_removed"`
}

// DependencyNode is a file in the incremental dependency graph
type DependencyNode struct {
	Path         string              `json:"path" yaml:"path"`
	ContentHash  string              `json:"content_hash" yaml:"content_hash"`
	LastAnalyzed time.Time           `json:"last_analyzed" yaml:"last_analyzed"`
	Dependencies map[string]struct{} `json:"-" yaml:"-"`
	Dependents   map[string]struct{} `json:"-" yaml:"-"`
}

// NewDependencyNode creates a node with empty edge sets
func NewDependencyNode(path string) *DependencyNode {
	return &DependencyNode{
		Path:         path,
		Dependencies: make(map[string]struct{}),
		Dependents:   make(map[string]struct{}),
	}
}

// PartialResult is a cached computation output scoped to one content hash
type PartialResult struct {
	Path         string            `json:"path" yaml:"path"`
	Kind         string            `json:"kind" yaml:"kind"`
	Data         any               `json:"data" yaml:"data"`
	ContentHash  string            `json:"content_hash" yaml:"content_hash"`
	CreatedAt    time.Time         `json:"created_at" yaml:"created_at"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsValid reports whether the result still applies to currentHash at time now.
// An empty currentHash skips the hash comparison.
func (p *PartialResult) IsValid(currentHash string, retention time.Duration, now time.Time) bool {
	if p == nil {
		return false
	}
	if retention > 0 && now.Sub(p.CreatedAt) > retention {
		return false
	}
	if currentHash != "" && p.ContentHash != currentHash {
		return false
	}
	return true
}

// IncrementalStats is a snapshot of IncrementalCache counters
type IncrementalStats struct {
	TrackedFiles        int            `json:"tracked_files" yaml:"tracked_files"`
	PartialResults      int            `json:"partial_results" yaml:"partial_results"`
	DependencyNodes     int            `json:"dependency_nodes" yaml:"dependency_nodes"`
	DeltaHistory        int            `json:"delta_history" yaml:"delta_history"`
	PartialHits         int64          `json:"partial_hits" yaml:"partial_hits"`
	PartialMisses       int64          `json:"partial_misses" yaml:"partial_misses"`
	Invalidations       int64          `json:"invalidations" yaml:"invalidations"`
	CascadeRuns         int64          `json:"cascade_runs" yaml:"cascade_runs"`
	ExpiredRemoved      int64          `json:"expired_removed" yaml:"expired_removed"`
	CapacityEvictions   int64          `json:"capacity_evictions" yaml:"capacity_evictions"`
	DeltasByKind        map[string]int `json:"deltas_by_kind" yaml:"deltas_by_kind"`
	MaxPartialResults   int            `json:"max_partial_results" yaml:"max_partial_results"`
	MaxDependencyNodes  int            `json:"max_dependency_nodes" yaml:"max_dependency_nodes"`
	RetentionHours      float64        `json:"retention_hours" yaml:"retention_hours"`
	ReadFailures        int64          `json:"read_failures" yaml:"read_failures"`
	UnchangedTransition int64          `json:"unchanged_transitions" yaml:"unchanged_transitions"`
}
