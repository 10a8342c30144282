package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/config"
)

// DefaultVelocityWindow is the trailing window used for throughput estimates
const DefaultVelocityWindow = 5 * time.Minute

// AggregatorConfig bounds a StreamResultAggregator
type AggregatorConfig struct {
	MaxFileHistory    int
	MaxTrendPoints    int
	AggregationWindow time.Duration
	TopFiles          int
	VelocityWindow    time.Duration
}

// DefaultAggregatorConfig returns the default aggregator settings
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfigFromConfig(&config.DefaultConfig().Aggregation)
}

// AggregatorConfigFromConfig converts the file configuration section
func AggregatorConfigFromConfig(cfg *config.AggregationConfig) AggregatorConfig {
	return AggregatorConfig{
		MaxFileHistory:    cfg.MaxFileHistory,
		MaxTrendPoints:    cfg.MaxTrendPoints,
		AggregationWindow: time.Duration(cfg.AggregationWindowSeconds) * time.Second,
		TopFiles:          cfg.TopFiles,
		VelocityWindow:    DefaultVelocityWindow,
	}
}

// Validate checks the configured ranges
func (c AggregatorConfig) Validate() error {
	if c.MaxFileHistory < config.MinHistorySize || c.MaxFileHistory > config.MaxHistorySize {
		return aggregatorConfigError("max_file_history must be between %d and %d, got %d",
			config.MinHistorySize, config.MaxHistorySize, c.MaxFileHistory)
	}
	if c.MaxTrendPoints < config.MinHistorySize || c.MaxTrendPoints > config.MaxHistorySize {
		return aggregatorConfigError("max_trend_points must be between %d and %d, got %d",
			config.MinHistorySize, config.MaxHistorySize, c.MaxTrendPoints)
	}
	window := int(c.AggregationWindow / time.Second)
	if c.AggregationWindow%time.Second != 0 || window < config.MinAggregationWindowSeconds || window > config.MaxAggregationWindowSeconds {
		return aggregatorConfigError("aggregation_window_seconds must be between %d and %d, got %v",
			config.MinAggregationWindowSeconds, config.MaxAggregationWindowSeconds, c.AggregationWindow)
	}
	if c.TopFiles < 1 {
		return aggregatorConfigError("top_files must be >= 1, got %d", c.TopFiles)
	}
	if c.VelocityWindow <= 0 {
		return aggregatorConfigError("velocity window must be positive, got %v", c.VelocityWindow)
	}
	return nil
}

func aggregatorConfigError(format string, args ...any) error {
	return domain.NewConfigError(fmt.Sprintf(format, args...), nil)
}

// AggregatorOption configures a StreamResultAggregator
type AggregatorOption func(*StreamResultAggregator)

// WithAggregatorClock overrides time.Now, used by tests
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *StreamResultAggregator) {
		a.now = now
	}
}

// WithAggregatorLogger sets the logger
func WithAggregatorLogger(logger logr.Logger) AggregatorOption {
	return func(a *StreamResultAggregator) {
		a.logger = logger
	}
}

// contribution is what one file currently adds to the totals
type contribution struct {
	violations     int
	byType         map[string]int
	processingTime time.Duration
	full           bool
}

type activity struct {
	at         time.Time
	violations int
}

// StreamResultAggregator folds per-file results into live cross-file totals.
// A new result for a path replaces that path's previous contribution.
type StreamResultAggregator struct {
	cfg    AggregatorConfig
	logger logr.Logger
	now    func() time.Time

	mu            sync.Mutex
	totals        domain.AggregatedResult
	contributions map[string]contribution
	invalidated   map[string]contribution
	dependencies  map[string]map[string]struct{}
	dependents    map[string]map[string]struct{}
	activity      []activity
}

// NewStreamResultAggregator validates cfg and creates an empty aggregator
func NewStreamResultAggregator(cfg AggregatorConfig, opts ...AggregatorOption) (*StreamResultAggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &StreamResultAggregator{
		cfg:    cfg,
		logger: logr.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.resetLocked()
	return a, nil
}

func (a *StreamResultAggregator) resetLocked() {
	a.totals = domain.AggregatedResult{
		ViolationsByType: make(map[string]int),
		FileHistory:      make(map[string][]domain.FileHistoryEntry),
		TrendData:        make(map[string][]domain.TrendPoint),
	}
	a.contributions = make(map[string]contribution)
	a.invalidated = make(map[string]contribution)
	a.dependencies = make(map[string]map[string]struct{})
	a.dependents = make(map[string]map[string]struct{})
	a.activity = nil
}

// AddResult applies result, replacing any earlier contribution of its file
func (a *StreamResultAggregator) AddResult(result domain.AnalysisResult) {
	if result.FilePath == "" {
		return
	}
	now := a.now()
	c := contribution{
		violations:     len(result.Violations),
		byType:         make(map[string]int),
		processingTime: result.ProcessingTime,
		full:           result.Kind == domain.AnalysisFull,
	}
	for _, v := range result.Violations {
		c.byType[v.Type]++
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.invalidated, result.FilePath)
	prev, had := a.contributions[result.FilePath]
	if had {
		a.subtractLocked(prev)
	}
	a.applyLocked(c)
	a.contributions[result.FilePath] = c
	a.totals.FilesAnalyzed = len(a.contributions)
	a.totals.LastUpdated = now

	a.appendHistoryLocked(result, c, now)
	a.appendTrendLocked(result.FilePath, prev.byType, c.byType, now)
	a.setDependenciesLocked(result.FilePath, result.DependenciesAnalyzed)
	a.recordActivityLocked(now, c.violations)
}

// RemoveResult drops a deleted file's contribution and its graph edges.
// Its history is kept.
func (a *StreamResultAggregator) RemoveResult(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := a.dropContributionLocked(path)
	delete(a.invalidated, path)
	a.setDependenciesLocked(path, nil)
	for dependent := range a.dependents[path] {
		if deps := a.dependencies[dependent]; deps != nil {
			delete(deps, path)
			if len(deps) == 0 {
				delete(a.dependencies, dependent)
			}
		}
	}
	delete(a.dependents, path)

	if removed {
		a.totals.LastUpdated = a.now()
	}
	return removed
}

// InvalidateFileResults subtracts the contributions of paths so their next
// results apply cleanly. History and graph edges are kept, and the dropped
// contributions stay available to RestoreFileResults until a new result
// for the path arrives.
func (a *StreamResultAggregator) InvalidateFileResults(paths []string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, path := range paths {
		prev := a.contributions[path]
		if a.dropContributionLocked(path) {
			a.invalidated[path] = prev
			n++
		}
	}
	if n > 0 {
		a.totals.LastUpdated = a.now()
		a.logger.V(1).Info("invalidated aggregate contributions", "files", n)
	}
	return n
}

// RestoreFileResults re-applies contributions removed by
// InvalidateFileResults when no newer result replaced them.
func (a *StreamResultAggregator) RestoreFileResults(paths []string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, path := range paths {
		c, ok := a.invalidated[path]
		if !ok {
			continue
		}
		delete(a.invalidated, path)
		if _, current := a.contributions[path]; current {
			continue
		}
		a.applyLocked(c)
		a.contributions[path] = c
		n++
	}
	if n > 0 {
		a.totals.FilesAnalyzed = len(a.contributions)
		a.totals.LastUpdated = a.now()
		a.logger.V(1).Info("restored aggregate contributions", "files", n)
	}
	return n
}

func (a *StreamResultAggregator) dropContributionLocked(path string) bool {
	prev, ok := a.contributions[path]
	if !ok {
		return false
	}
	a.subtractLocked(prev)
	delete(a.contributions, path)
	a.totals.FilesAnalyzed = len(a.contributions)
	return true
}

func (a *StreamResultAggregator) applyLocked(c contribution) {
	a.totals.TotalViolations += c.violations
	for t, n := range c.byType {
		a.totals.ViolationsByType[t] += n
	}
	a.totals.TotalProcessingTime += c.processingTime
	if c.full {
		a.totals.FullCount++
	} else {
		a.totals.IncrementalCount++
	}
}

func (a *StreamResultAggregator) subtractLocked(c contribution) {
	a.totals.TotalViolations = max(a.totals.TotalViolations-c.violations, 0)
	for t, n := range c.byType {
		left := a.totals.ViolationsByType[t] - n
		if left <= 0 {
			delete(a.totals.ViolationsByType, t)
			continue
		}
		a.totals.ViolationsByType[t] = left
	}
	a.totals.TotalProcessingTime = max(a.totals.TotalProcessingTime-c.processingTime, 0)
	if c.full {
		a.totals.FullCount = max(a.totals.FullCount-1, 0)
	} else {
		a.totals.IncrementalCount = max(a.totals.IncrementalCount-1, 0)
	}
}

func (a *StreamResultAggregator) appendHistoryLocked(result domain.AnalysisResult, c contribution, now time.Time) {
	entry := domain.FileHistoryEntry{
		Timestamp:      now,
		ViolationCount: c.violations,
		ViolationTypes: copyCounts(c.byType),
		ProcessingTime: result.ProcessingTime,
		Kind:           result.Kind,
		CacheHit:       result.CacheHit,
	}
	history := append(a.totals.FileHistory[result.FilePath], entry)
	if over := len(history) - a.cfg.MaxFileHistory; over > 0 {
		history = append(history[:0:0], history[over:]...)
	}
	a.totals.FileHistory[result.FilePath] = history
}

// appendTrendLocked records the new count of every type the file reports,
// plus a zero point for types the file no longer reports
func (a *StreamResultAggregator) appendTrendLocked(path string, before, after map[string]int, now time.Time) {
	types := make(map[string]struct{}, len(before)+len(after))
	for t := range before {
		types[t] = struct{}{}
	}
	for t := range after {
		types[t] = struct{}{}
	}
	for t := range types {
		points := append(a.totals.TrendData[t], domain.TrendPoint{Timestamp: now, Count: after[t], FilePath: path})
		if over := len(points) - a.cfg.MaxTrendPoints; over > 0 {
			points = append(points[:0:0], points[over:]...)
		}
		a.totals.TrendData[t] = points
	}
}

func (a *StreamResultAggregator) setDependenciesLocked(path string, deps []string) {
	for old := range a.dependencies[path] {
		if back := a.dependents[old]; back != nil {
			delete(back, path)
			if len(back) == 0 {
				delete(a.dependents, old)
			}
		}
	}
	delete(a.dependencies, path)

	if len(deps) == 0 {
		return
	}
	set := make(map[string]struct{}, len(deps))
	for _, dep := range deps {
		if dep == "" || dep == path {
			continue
		}
		set[dep] = struct{}{}
		back, ok := a.dependents[dep]
		if !ok {
			back = make(map[string]struct{})
			a.dependents[dep] = back
		}
		back[path] = struct{}{}
	}
	if len(set) > 0 {
		a.dependencies[path] = set
	}
}

func (a *StreamResultAggregator) recordActivityLocked(now time.Time, violations int) {
	a.activity = append(a.activity, activity{at: now, violations: violations})

	horizon := now.Add(-max(a.cfg.VelocityWindow, a.cfg.AggregationWindow))
	i := sort.Search(len(a.activity), func(i int) bool { return !a.activity[i].at.Before(horizon) })
	if over := len(a.activity) - config.MaxHistorySize; over > i {
		i = over
	}
	if i > 0 {
		a.activity = append(a.activity[:0:0], a.activity[i:]...)
	}
}

// GetAggregatedResult returns a deep copy of the current aggregate
func (a *StreamResultAggregator) GetAggregatedResult() domain.AggregatedResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.totals
	out.ViolationsByType = copyCounts(a.totals.ViolationsByType)
	out.FileHistory = make(map[string][]domain.FileHistoryEntry, len(a.totals.FileHistory))
	for path, entries := range a.totals.FileHistory {
		copied := make([]domain.FileHistoryEntry, len(entries))
		for i, e := range entries {
			copied[i] = e
			copied[i].ViolationTypes = copyCounts(e.ViolationTypes)
		}
		out.FileHistory[path] = copied
	}
	out.TrendData = make(map[string][]domain.TrendPoint, len(a.totals.TrendData))
	for t, points := range a.totals.TrendData {
		out.TrendData[t] = append([]domain.TrendPoint(nil), points...)
	}
	out.CacheHitRate = hitRate(a.totals.IncrementalCount, a.totals.FullCount)
	return out
}

// GetRealTimeDashboardData derives trends over the aggregation window,
// velocity over the trailing velocity window and the top files
func (a *StreamResultAggregator) GetRealTimeDashboardData() domain.DashboardData {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	data := domain.DashboardData{
		GeneratedAt:      now,
		TotalViolations:  a.totals.TotalViolations,
		FilesAnalyzed:    a.totals.FilesAnalyzed,
		ViolationsByType: copyCounts(a.totals.ViolationsByType),
		CacheHitRate:     hitRate(a.totals.IncrementalCount, a.totals.FullCount),
		WindowSeconds:    a.cfg.AggregationWindow.Seconds(),
		Trends:           make(map[string][]domain.TrendPoint),
		TopFiles:         []domain.FileViolationCount{},
	}

	since := now.Add(-a.cfg.AggregationWindow)
	for t, points := range a.totals.TrendData {
		var recent []domain.TrendPoint
		for _, p := range points {
			if !p.Timestamp.Before(since) {
				recent = append(recent, p)
			}
		}
		if len(recent) > 0 {
			data.Trends[t] = recent
		}
	}

	velocitySince := now.Add(-a.cfg.VelocityWindow)
	var files, violations int
	for _, act := range a.activity {
		if !act.at.Before(velocitySince) {
			files++
			violations += act.violations
		}
	}
	minutes := a.cfg.VelocityWindow.Minutes()
	data.Velocity = domain.VelocityStats{
		WindowSeconds:       a.cfg.VelocityWindow.Seconds(),
		FilesPerMinute:      float64(files) / minutes,
		ViolationsPerMinute: float64(violations) / minutes,
	}

	for path, c := range a.contributions {
		if c.violations > 0 {
			data.TopFiles = append(data.TopFiles, domain.FileViolationCount{FilePath: path, Violations: c.violations})
		}
	}
	sort.Slice(data.TopFiles, func(i, j int) bool {
		if data.TopFiles[i].Violations != data.TopFiles[j].Violations {
			return data.TopFiles[i].Violations > data.TopFiles[j].Violations
		}
		return data.TopFiles[i].FilePath < data.TopFiles[j].FilePath
	})
	if len(data.TopFiles) > a.cfg.TopFiles {
		data.TopFiles = data.TopFiles[:a.cfg.TopFiles]
	}
	return data
}

// Dependents returns the files whose last result declared a dependency on path
func (a *StreamResultAggregator) Dependents(path string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.dependents[path]))
	for p := range a.dependents[path] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Reset clears all state
func (a *StreamResultAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func hitRate(incremental, full int) float64 {
	if incremental+full == 0 {
		return 0
	}
	return float64(incremental) / float64(incremental+full)
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
