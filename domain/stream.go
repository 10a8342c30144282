package domain

import (
	"context"
	"time"
)

// ChangeKind is the kind of filesystem change observed for a path
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeMoved    ChangeKind = "moved"
)

// AnalysisKind describes how a request was triggered
type AnalysisKind string

const (
	AnalysisIncremental AnalysisKind = "incremental"
	AnalysisFull        AnalysisKind = "full"
	AnalysisTargeted    AnalysisKind = "targeted"
)

// Request priorities (0-10). File-watch requests use PriorityMedium.
const (
	PriorityMin      = 0
	PriorityLow      = 2
	PriorityMedium   = 5
	PriorityHigh     = 8
	PriorityCritical = 10
)

// ClampPriority bounds p to the valid priority range
func ClampPriority(p int) int {
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityCritical {
		return PriorityCritical
	}
	return p
}

// FileChange is a debounced change notification for a single path
type FileChange struct {
	Path         string     `json:"path" yaml:"path"`
	Kind         ChangeKind `json:"kind" yaml:"kind"`
	Timestamp    time.Time  `json:"timestamp" yaml:"timestamp"`
	ContentHash  string     `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	PreviousHash string     `json:"previous_hash,omitempty" yaml:"previous_hash,omitempty"`
	Size         int64      `json:"size" yaml:"size"`
}

// AnalysisRequest is one unit of work for the stream processor
type AnalysisRequest struct {
	ID           string       `json:"id" yaml:"id"`
	Changes      []FileChange `json:"changes" yaml:"changes"`
	Priority     int          `json:"priority" yaml:"priority"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
	Dependencies []string     `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Kind         AnalysisKind `json:"kind" yaml:"kind"`
}

// Violation is a single finding reported by an Analyzer.
// The engine only looks at Type; everything else is carried through.
type Violation struct {
	Type     string            `json:"type" yaml:"type"`
	Severity string            `json:"severity,omitempty" yaml:"severity,omitempty"`
	Message  string            `json:"message,omitempty" yaml:"message,omitempty"`
	Line     int               `json:"line,omitempty" yaml:"line,omitempty"`
	Column   int               `json:"column,omitempty" yaml:"column,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// AnalysisResult is the per-file outcome emitted by the stream processor
type AnalysisResult struct {
	RequestID            string            `json:"request_id" yaml:"request_id"`
	FilePath             string            `json:"file_path" yaml:"file_path"`
	Violations           []Violation       `json:"violations" yaml:"violations"`
	ProcessingTime       time.Duration     `json:"processing_time" yaml:"processing_time"`
	Kind                 AnalysisKind      `json:"kind" yaml:"kind"`
	Timestamp            time.Time         `json:"timestamp" yaml:"timestamp"`
	CacheHit             bool              `json:"cache_hit" yaml:"cache_hit"`
	DependenciesAnalyzed []string          `json:"dependencies_analyzed,omitempty" yaml:"dependencies_analyzed,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	ContentHash          string            `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	ChangeKind           ChangeKind        `json:"change_kind,omitempty" yaml:"change_kind,omitempty"`
	ParseError           string            `json:"parse_error,omitempty" yaml:"parse_error,omitempty"`
}

// Clone returns a copy that shares no mutable state with r
func (r AnalysisResult) Clone() AnalysisResult {
	out := r
	if r.Violations != nil {
		out.Violations = make([]Violation, len(r.Violations))
		for i, v := range r.Violations {
			out.Violations[i] = v
			if v.Metadata != nil {
				out.Violations[i].Metadata = copyStringMap(v.Metadata)
			}
		}
	}
	if r.DependenciesAnalyzed != nil {
		out.DependenciesAnalyzed = append([]string(nil), r.DependenciesAnalyzed...)
	}
	if r.Metadata != nil {
		out.Metadata = copyStringMap(r.Metadata)
	}
	return out
}

// ParsedFile is an opaque parsed representation of a file's content.
// The caches only rely on its identity; analyzers type-assert to the
// concrete parser output they understand.
type ParsedFile interface {
	Language() string
}

// Analyzer turns a file's content into violations.
// A returned error is a per-file failure, never a pipeline failure.
type Analyzer interface {
	Analyze(ctx context.Context, path string, content []byte, parsed ParsedFile) ([]Violation, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface
type AnalyzerFunc func(ctx context.Context, path string, content []byte, parsed ParsedFile) ([]Violation, error)

// Analyze calls f
func (f AnalyzerFunc) Analyze(ctx context.Context, path string, content []byte, parsed ParsedFile) ([]Violation, error) {
	return f(ctx, path, content, parsed)
}

// DependencyResolver is implemented by analyzers that know which other
// files a file depends on. The returned paths feed the dependency graph.
type DependencyResolver interface {
	ResolveDependencies(path string, content []byte, parsed ParsedFile) []string
}

// ResultCallback receives every emitted result
type ResultCallback func(result AnalysisResult)

// BatchCallback receives all results produced for one request
type BatchCallback func(requestID string, results []AnalysisResult)

// ProcessorState is the lifecycle state of the stream processor
type ProcessorState string

const (
	StateStopped  ProcessorState = "stopped"
	StateStarting ProcessorState = "starting"
	StateRunning  ProcessorState = "running"
	StateStopping ProcessorState = "stopping"
)

// StreamingStats is a point-in-time snapshot of the processor counters
type StreamingStats struct {
	State              ProcessorState `json:"state" yaml:"state"`
	Workers            int            `json:"workers" yaml:"workers"`
	QueueDepth         int            `json:"queue_depth" yaml:"queue_depth"`
	QueueCapacity      int            `json:"queue_capacity" yaml:"queue_capacity"`
	ResultQueueDepth   int            `json:"result_queue_depth" yaml:"result_queue_depth"`
	RequestsSubmitted  int64          `json:"requests_submitted" yaml:"requests_submitted"`
	RequestsProcessed  int64          `json:"requests_processed" yaml:"requests_processed"`
	FilesProcessed     int64          `json:"files_processed" yaml:"files_processed"`
	ResultCacheHits    int64          `json:"result_cache_hits" yaml:"result_cache_hits"`
	ResultCacheMisses  int64          `json:"result_cache_misses" yaml:"result_cache_misses"`
	PartialResultHits  int64          `json:"partial_result_hits" yaml:"partial_result_hits"`
	ResultCacheSize    int            `json:"result_cache_size" yaml:"result_cache_size"`
	QueueOverflows     int64          `json:"queue_overflows" yaml:"queue_overflows"`
	ResultOverflows    int64          `json:"result_overflows" yaml:"result_overflows"`
	WorkerFaults       int64          `json:"worker_faults" yaml:"worker_faults"`
	AnalyzerFailures   int64          `json:"analyzer_failures" yaml:"analyzer_failures"`
	ParseFailures      int64          `json:"parse_failures" yaml:"parse_failures"`
	ReadFailures       int64          `json:"read_failures" yaml:"read_failures"`
	CallbackFailures   int64          `json:"callback_failures" yaml:"callback_failures"`
	EventsReceived     int64          `json:"events_received" yaml:"events_received"`
	EventsCoalesced    int64          `json:"events_coalesced" yaml:"events_coalesced"`
	UnchangedDropped   int64          `json:"unchanged_dropped" yaml:"unchanged_dropped"`
	AvgProcessingTime  time.Duration  `json:"avg_processing_time" yaml:"avg_processing_time"`
	StartedAt          time.Time      `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime             time.Duration  `json:"uptime" yaml:"uptime"`
	LastResultAt       time.Time      `json:"last_result_at,omitempty" yaml:"last_result_at,omitempty"`
	WatchedDirectories int            `json:"watched_directories" yaml:"watched_directories"`
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
