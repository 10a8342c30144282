package service

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/version"
)

// maxTextResults caps the per-file section of text reports
const maxTextResults = 50

// OutputFormatterImpl implements domain.OutputFormatter
type OutputFormatterImpl struct{}

// NewOutputFormatter creates a new output formatter
func NewOutputFormatter() *OutputFormatterImpl {
	return &OutputFormatterImpl{}
}

// WriteJSON writes data as indented JSON to the writer
func WriteJSON(writer io.Writer, data any) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// WriteYAML writes data as YAML to the writer
func WriteYAML(writer io.Writer, data any) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

// ScanReportDocument wraps a ScanReport with tool metadata for JSON and YAML
type ScanReportDocument struct {
	Version     string            `json:"version" yaml:"version"`
	GeneratedAt string            `json:"generated_at" yaml:"generated_at"`
	DurationMs  int64             `json:"duration_ms" yaml:"duration_ms"`
	Summary     ScanSummary       `json:"summary" yaml:"summary"`
	Results     []ResultDocument  `json:"results" yaml:"results"`
	CacheStats  domain.CacheStats `json:"cache_stats" yaml:"cache_stats"`
	Errors      []string          `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ScanSummary is the aggregate part of a report
type ScanSummary struct {
	FilesAnalyzed    int            `json:"files_analyzed" yaml:"files_analyzed"`
	TotalViolations  int            `json:"total_violations" yaml:"total_violations"`
	ViolationsByType map[string]int `json:"violations_by_type" yaml:"violations_by_type"`
	ProcessingTimeMs int64          `json:"processing_time_ms" yaml:"processing_time_ms"`
}

// ResultDocument is one file's entry in a report
type ResultDocument struct {
	FilePath   string             `json:"file_path" yaml:"file_path"`
	Violations []domain.Violation `json:"violations" yaml:"violations"`
	CacheHit   bool               `json:"cache_hit" yaml:"cache_hit"`
	ParseError string             `json:"parse_error,omitempty" yaml:"parse_error,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// DashboardDocument is one live dashboard frame for JSON and YAML
type DashboardDocument struct {
	Dashboard *domain.DashboardData  `json:"dashboard" yaml:"dashboard"`
	Streaming *domain.StreamingStats `json:"streaming,omitempty" yaml:"streaming,omitempty"`
}

// WriteReport writes a full scan report in the requested format
func (f *OutputFormatterImpl) WriteReport(report *domain.ScanReport, format domain.OutputFormat, writer io.Writer) error {
	if report == nil {
		return domain.NewOutputError("nothing to write", nil)
	}
	switch format {
	case domain.OutputFormatJSON:
		return wrapOutput(WriteJSON(writer, f.reportDocument(report)))
	case domain.OutputFormatYAML:
		return wrapOutput(WriteYAML(writer, f.reportDocument(report)))
	case domain.OutputFormatText:
		return wrapOutput(f.writeReportText(report, writer))
	default:
		return domain.NewUnsupportedFormatError(string(format))
	}
}

// WriteDashboard writes one dashboard frame in the requested format
func (f *OutputFormatterImpl) WriteDashboard(data *domain.DashboardData, stats *domain.StreamingStats, format domain.OutputFormat, writer io.Writer) error {
	if data == nil {
		return domain.NewOutputError("nothing to write", nil)
	}
	doc := DashboardDocument{Dashboard: data, Streaming: stats}
	switch format {
	case domain.OutputFormatJSON:
		return wrapOutput(WriteJSON(writer, doc))
	case domain.OutputFormatYAML:
		return wrapOutput(WriteYAML(writer, doc))
	case domain.OutputFormatText:
		return wrapOutput(f.writeDashboardText(data, stats, writer))
	default:
		return domain.NewUnsupportedFormatError(string(format))
	}
}

func wrapOutput(err error) error {
	if err != nil {
		return domain.NewOutputError("failed to write output", err)
	}
	return nil
}

func (f *OutputFormatterImpl) reportDocument(report *domain.ScanReport) ScanReportDocument {
	// Build summary
	doc := ScanReportDocument{
		Version:     version.Version,
		GeneratedAt: report.GeneratedAt.Format(time.RFC3339),
		DurationMs:  report.Duration.Milliseconds(),
		Summary: ScanSummary{
			FilesAnalyzed:    report.Aggregate.FilesAnalyzed,
			TotalViolations:  report.Aggregate.TotalViolations,
			ViolationsByType: report.Aggregate.ViolationsByType,
			ProcessingTimeMs: report.Aggregate.TotalProcessingTime.Milliseconds(),
		},
		Results:    make([]ResultDocument, 0, len(report.Results)),
		CacheStats: report.CacheStats,
		Errors:     report.Errors,
	}
	// File details
	for _, r := range sortedResults(report.Results) {
		doc.Results = append(doc.Results, ResultDocument{
			FilePath:   r.FilePath,
			Violations: r.Violations,
			CacheHit:   r.CacheHit,
			ParseError: r.ParseError,
			Error:      r.Metadata["error"],
		})
	}
	return doc
}

// sortedResults orders results by violation count, then path
func sortedResults(results []domain.AnalysisResult) []domain.AnalysisResult {
	out := append([]domain.AnalysisResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Violations) != len(out[j].Violations) {
			return len(out[i].Violations) > len(out[j].Violations)
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out
}

func (f *OutputFormatterImpl) writeReportText(report *domain.ScanReport, writer io.Writer) error {
	agg := report.Aggregate
	fmt.Fprintf(writer, "\n=== connscan Report ===\n")
	fmt.Fprintf(writer, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration: %dms\n", report.Duration.Milliseconds())
	fmt.Fprintf(writer, "Version: %s\n\n", version.Version)

	// Summary
	fmt.Fprintf(writer, "Summary:\n")
	fmt.Fprintf(writer, "  Files analyzed: %d\n", agg.FilesAnalyzed)
	fmt.Fprintf(writer, "  Total violations: %d\n", agg.TotalViolations)
	fmt.Fprintf(writer, "\n")

	// Type distribution
	if len(agg.ViolationsByType) > 0 {
		fmt.Fprintf(writer, "Violations by type:\n")
		writeCounts(writer, agg.ViolationsByType)
		fmt.Fprintf(writer, "\n")
	}

	// File details, worst first
	shown := 0
	for _, r := range sortedResults(report.Results) {
		if len(r.Violations) == 0 {
			break
		}
		if shown == maxTextResults {
			fmt.Fprintf(writer, "  ... and more files\n")
			break
		}
		fmt.Fprintf(writer, "%s:\n", r.FilePath)
		for _, v := range r.Violations {
			severity := ""
			if v.Severity != "" {
				severity = fmt.Sprintf(" [%s]", strings.ToUpper(v.Severity))
			}
			fmt.Fprintf(writer, "  Line %d: %s%s\n", v.Line, v.Message, severity)
		}
		shown++
	}
	if agg.TotalViolations == 0 {
		fmt.Fprintf(writer, "No violations found.\n")
	}

	// Cache
	fmt.Fprintf(writer, "\nCache: %d hits, %d misses, %d parse failures\n",
		report.CacheStats.Hits, report.CacheStats.Misses, report.CacheStats.ParseFailures)

	// Errors
	if len(report.Errors) > 0 {
		fmt.Fprintf(writer, "\nErrors:\n")
		for _, e := range report.Errors {
			fmt.Fprintf(writer, "  - %s\n", e)
		}
	}
	return nil
}

func (f *OutputFormatterImpl) writeDashboardText(data *domain.DashboardData, stats *domain.StreamingStats, writer io.Writer) error {
	fmt.Fprintf(writer, "[%s] files=%d violations=%d velocity=%.1f files/min, %.1f violations/min\n",
		data.GeneratedAt.Format(time.TimeOnly), data.FilesAnalyzed, data.TotalViolations,
		data.Velocity.FilesPerMinute, data.Velocity.ViolationsPerMinute)

	if len(data.ViolationsByType) > 0 {
		writeCounts(writer, data.ViolationsByType)
	}
	for i, top := range data.TopFiles {
		fmt.Fprintf(writer, "  %2d. %s (%d)\n", i+1, top.FilePath, top.Violations)
	}
	if stats != nil {
		fmt.Fprintf(writer, "  queue %d/%d, processed %d, cache hits %d, dropped %d, faults %d\n",
			stats.QueueDepth, stats.QueueCapacity, stats.FilesProcessed, stats.ResultCacheHits,
			stats.QueueOverflows+stats.ResultOverflows, stats.WorkerFaults)
	}
	return nil
}

func writeCounts(writer io.Writer, counts map[string]int) {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(writer, "  %s: %d\n", t, counts[t])
	}
}
