package domain

import "time"

// FileHistoryEntry is one recorded analysis of a file
type FileHistoryEntry struct {
	Timestamp      time.Time      `json:"timestamp" yaml:"timestamp"`
	ViolationCount int            `json:"violation_count" yaml:"violation_count"`
	ViolationTypes map[string]int `json:"violation_types,omitempty" yaml:"violation_types,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time" yaml:"processing_time"`
	Kind           AnalysisKind   `json:"kind" yaml:"kind"`
	CacheHit       bool           `json:"cache_hit" yaml:"cache_hit"`
}

// TrendPoint is one sample of a violation type's count for a file
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Count     int       `json:"count" yaml:"count"`
	FilePath  string    `json:"file_path" yaml:"file_path"`
}

// AggregatedResult is the live cross-file aggregate
type AggregatedResult struct {
	TotalViolations     int                           `json:"total_violations" yaml:"total_violations"`
	ViolationsByType    map[string]int                `json:"violations_by_type" yaml:"violations_by_type"`
	FilesAnalyzed       int                           `json:"files_analyzed" yaml:"files_analyzed"`
	TotalProcessingTime time.Duration                 `json:"total_processing_time" yaml:"total_processing_time"`
	LastUpdated         time.Time                     `json:"last_updated" yaml:"last_updated"`
	CacheHitRate        float64                       `json:"cache_hit_rate" yaml:"cache_hit_rate"`
	IncrementalCount    int                           `json:"incremental_count" yaml:"incremental_count"`
	FullCount           int                           `json:"full_count" yaml:"full_count"`
	FileHistory         map[string][]FileHistoryEntry `json:"file_history,omitempty" yaml:"file_history,omitempty"`
	TrendData           map[string][]TrendPoint       `json:"trend_data,omitempty" yaml:"trend_data,omitempty"`
}

// VelocityStats is the recent analysis throughput
type VelocityStats struct {
	WindowSeconds       float64 `json:"window_seconds" yaml:"window_seconds"`
	FilesPerMinute      float64 `json:"files_per_minute" yaml:"files_per_minute"`
	ViolationsPerMinute float64 `json:"violations_per_minute" yaml:"violations_per_minute"`
}

// FileViolationCount pairs a file with its current violation count
type FileViolationCount struct {
	FilePath   string `json:"file_path" yaml:"file_path"`
	Violations int    `json:"violations" yaml:"violations"`
}

// DashboardData is a derived view over the current aggregate
type DashboardData struct {
	GeneratedAt      time.Time               `json:"generated_at" yaml:"generated_at"`
	TotalViolations  int                     `json:"total_violations" yaml:"total_violations"`
	FilesAnalyzed    int                     `json:"files_analyzed" yaml:"files_analyzed"`
	ViolationsByType map[string]int          `json:"violations_by_type" yaml:"violations_by_type"`
	CacheHitRate     float64                 `json:"cache_hit_rate" yaml:"cache_hit_rate"`
	WindowSeconds    float64                 `json:"window_seconds" yaml:"window_seconds"`
	Trends           map[string][]TrendPoint `json:"trends" yaml:"trends"`
	Velocity         VelocityStats           `json:"velocity" yaml:"velocity"`
	TopFiles         []FileViolationCount    `json:"top_files" yaml:"top_files"`
}
