package domain

import (
	"io"
	"time"
)

// OutputFormat represents the supported output formats
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
)

// ScanReport is the outcome of a full scan
type ScanReport struct {
	GeneratedAt time.Time        `json:"generated_at" yaml:"generated_at"`
	Duration    time.Duration    `json:"duration" yaml:"duration"`
	Aggregate   AggregatedResult `json:"aggregate" yaml:"aggregate"`
	Results     []AnalysisResult `json:"results" yaml:"results"`
	CacheStats  CacheStats       `json:"cache_stats" yaml:"cache_stats"`
	Errors      []string         `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// OutputFormatter renders engine snapshots
type OutputFormatter interface {
	// WriteReport writes a full scan report
	WriteReport(report *ScanReport, format OutputFormat, writer io.Writer) error

	// WriteDashboard writes one live dashboard frame
	WriteDashboard(data *DashboardData, stats *StreamingStats, format OutputFormat, writer io.Writer) error
}
