package app

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/analyzer"
	"github.com/ludo-technologies/connscan/internal/cache"
	"github.com/ludo-technologies/connscan/internal/config"
	"github.com/ludo-technologies/connscan/internal/watcher"
	"github.com/ludo-technologies/connscan/service"
)

// Engine owns one instance of every cache and streaming component and
// wires them together. Nothing in the engine is package-global.
type Engine struct {
	cfg        *config.Config
	logger     logr.Logger
	analyzer   domain.Analyzer
	content    *cache.ContentCache
	incr       *cache.IncrementalCache
	processor  *service.StreamProcessor
	aggregator *service.StreamResultAggregator
	source     service.ChangeSource

	mu          sync.Mutex
	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// EngineOption configures an Engine
type EngineOption func(*engineOptions)

type engineOptions struct {
	analyzer domain.Analyzer
	logger   logr.Logger
	clock    func() time.Time
	source   service.ChangeSource
	parse    cache.ParseFunc
}

// WithAnalyzer replaces the default rule set
func WithAnalyzer(a domain.Analyzer) EngineOption {
	return func(o *engineOptions) { o.analyzer = a }
}

// WithLogger sets the logger handed to every component
func WithLogger(logger logr.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = logger }
}

// WithClock overrides time.Now in every component
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) { o.clock = now }
}

// WithSource feeds change batches from source into the processor
func WithSource(source service.ChangeSource) EngineOption {
	return func(o *engineOptions) { o.source = source }
}

// WithParseFunc overrides how the content cache parses files
func WithParseFunc(fn cache.ParseFunc) EngineOption {
	return func(o *engineOptions) { o.parse = fn }
}

// NewEngine validates cfg and builds every component. Configuration errors
// are the only errors it returns.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, domain.NewConfigError("configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := engineOptions{logger: logr.Discard(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.analyzer == nil {
		o.analyzer = analyzer.New(AnalyzerOptions(cfg))
	}

	contentOpts := []cache.ContentOption{
		cache.WithContentLogger(o.logger.WithName("content")),
		cache.WithContentClock(o.clock),
	}
	if o.parse != nil {
		contentOpts = append(contentOpts, cache.WithParseFunc(o.parse))
	}
	content, err := cache.NewContentCache(cfg.Cache.MaxMemoryBytes, contentOpts...)
	if err != nil {
		return nil, err
	}

	incr, err := cache.NewIncrementalCache(cache.IncrementalConfig{
		MaxPartialResults:  cfg.Incremental.MaxPartialResults,
		MaxDependencyNodes: cfg.Incremental.MaxDependencyNodes,
		RetentionHours:     cfg.Incremental.CacheRetentionHours,
		MaxDeltaHistory:    cfg.Incremental.MaxDeltaHistory,
	}, cache.WithIncrementalLogger(o.logger.WithName("incremental")), cache.WithIncrementalClock(o.clock))
	if err != nil {
		return nil, err
	}

	processor, err := service.NewStreamProcessor(service.StreamConfigFromConfig(&cfg.Streaming), service.StreamDeps{
		Analyzer:    o.analyzer,
		Content:     content,
		Incremental: incr,
		Source:      o.source,
		Logger:      o.logger,
		Clock:       o.clock,
	})
	if err != nil {
		return nil, err
	}

	aggregator, err := service.NewStreamResultAggregator(service.AggregatorConfigFromConfig(&cfg.Aggregation),
		service.WithAggregatorClock(o.clock), service.WithAggregatorLogger(o.logger.WithName("aggregator")))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		logger:     o.logger.WithName("engine"),
		analyzer:   o.analyzer,
		content:    content,
		incr:       incr,
		processor:  processor,
		aggregator: aggregator,
		source:     o.source,
	}
	incr.SetInvalidationHook(e.onInvalidate)
	processor.OnResult(e.record)
	return e, nil
}

// AnalyzerOptions maps the analysis section onto rule set options
func AnalyzerOptions(cfg *config.Config) analyzer.Options {
	return analyzer.Options{
		MaxParameters:       cfg.Analysis.MaxParameters,
		MaxFunctionLines:    cfg.Analysis.MaxFunctionLines,
		MaxNestingDepth:     cfg.Analysis.MaxNestingDepth,
		AllowedMagicNumbers: append([]float64(nil), cfg.Analysis.AllowedMagicNumbers...),
		ResolveImports:      cfg.Analysis.ResolveImports,
		Roots:               append([]string(nil), cfg.Watch.Paths...),
	}
}

// NewWatchSource builds the fsnotify watcher and debouncer for cfg.Watch
func NewWatchSource(cfg *config.Config, logger logr.Logger) (*watcher.Source, error) {
	filter, err := watcher.NewFilter(cfg.Watch.Paths, cfg.Watch.IncludePatterns, cfg.Watch.ExcludePatterns)
	if err != nil {
		return nil, domain.NewInvalidInputError("invalid watch paths", err)
	}
	if cfg.Watch.RespectGitignore {
		if err := filter.LoadGitignores(); err != nil {
			logger.V(1).Info("ignoring unreadable .gitignore", "error", err.Error())
		}
	}
	debounce := time.Duration(cfg.Streaming.DebounceSeconds * float64(time.Second))
	w := watcher.New(filter, logger)
	d := watcher.NewDebouncer(debounce, watcher.WithDebounceLogger(logger))
	return watcher.NewSource(w, d), nil
}

// record feeds every emitted result into the aggregator
func (e *Engine) record(result domain.AnalysisResult) {
	if result.ChangeKind == domain.ChangeDeleted {
		e.aggregator.RemoveResult(result.FilePath)
		return
	}
	e.aggregator.AddResult(result)
}

// onInvalidate runs after every cascade. Cached request results of every
// visited path are dropped; dependents are re-queued while streaming.
func (e *Engine) onInvalidate(origin string, paths []string) {
	e.processor.InvalidateResults(paths)

	dependents := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != origin {
			dependents = append(dependents, p)
		}
	}
	if len(dependents) == 0 || e.processor.State() != domain.StateRunning {
		return
	}

	e.aggregator.InvalidateFileResults(dependents)
	if id, ok := e.processor.SubmitPaths(dependents, domain.PriorityLow, domain.AnalysisTargeted); ok {
		e.logger.V(1).Info("re-analyzing dependents", "origin", origin, "dependents", len(dependents), "request", id)
	} else {
		// Nothing else will re-trigger the dependents, keep their last results
		restored := e.aggregator.RestoreFileResults(dependents)
		e.logger.Info("could not queue dependents for re-analysis", "origin", origin, "dependents", len(dependents), "restored", restored)
	}
}

// Start runs the processor and, when configured, the retention sweeper
func (e *Engine) Start(ctx context.Context) error {
	if err := e.processor.Start(ctx); err != nil {
		return err
	}

	interval := time.Duration(e.cfg.Streaming.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopSweeper != nil {
		return nil
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.stopSweeper, e.sweeperDone = cancel, done
	go e.sweep(sweepCtx, interval, done)
	return nil
}

func (e *Engine) sweep(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.MaintenanceSweep()
		}
	}
}

// Stop halts the sweeper and the processor. Safe to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel, done := e.stopSweeper, e.sweeperDone
	e.stopSweeper, e.sweeperDone = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return e.processor.Stop()
}

// MaintenanceSweep removes expired partial results and returns how many
func (e *Engine) MaintenanceSweep() int {
	removed := e.incr.CleanupExpired()
	if removed > 0 {
		e.logger.V(1).Info("maintenance sweep", "expired", removed)
	}
	return removed
}

// Submit enqueues a request without blocking
func (e *Engine) Submit(req domain.AnalysisRequest) bool {
	return e.processor.Submit(req)
}

// SubmitPaths enqueues one request for paths
func (e *Engine) SubmitPaths(paths []string, priority int, kind domain.AnalysisKind) (string, bool) {
	return e.processor.SubmitPaths(paths, priority, kind)
}

// AnalyzeFile analyzes path synchronously and records the result. The
// watch debouncer learns the analyzed hash so an unchanged save is dropped.
func (e *Engine) AnalyzeFile(ctx context.Context, path string, kind domain.AnalysisKind) domain.AnalysisResult {
	result := e.processor.AnalyzeFile(ctx, path, kind)
	e.record(result)
	if src, ok := e.source.(*watcher.Source); ok && result.ContentHash != "" {
		src.Debouncer().Remember(path, result.ContentHash)
	}
	return result
}

// Scan analyzes every matching file under paths, or the configured watch
// paths when none are given
func (e *Engine) Scan(ctx context.Context, paths []string, progress domain.ProgressManager) (*domain.ScanReport, error) {
	if len(paths) == 0 {
		paths = e.cfg.Watch.Paths
	}
	uc := NewScanUseCase(e, service.NewParallelExecutorFromConfig(&e.cfg.Performance,
		service.WithProgress(progress), service.WithExecutorLogger(e.logger), service.WithDescription("Scanning")))
	return uc.Execute(ctx, ScanRequest{
		Paths:            paths,
		IncludePatterns:  e.cfg.Watch.IncludePatterns,
		ExcludePatterns:  e.cfg.Watch.ExcludePatterns,
		RespectGitignore: e.cfg.Watch.RespectGitignore,
	})
}

// Results returns the processor's bounded result stream
func (e *Engine) Results() <-chan domain.AnalysisResult {
	return e.processor.Results()
}

// OnResult registers a callback for every streamed result
func (e *Engine) OnResult(cb domain.ResultCallback) {
	e.processor.OnResult(cb)
}

// AggregatedResult returns a snapshot of the aggregate
func (e *Engine) AggregatedResult() domain.AggregatedResult {
	return e.aggregator.GetAggregatedResult()
}

// DashboardData returns a live dashboard snapshot
func (e *Engine) DashboardData() domain.DashboardData {
	return e.aggregator.GetRealTimeDashboardData()
}

// CacheStats returns content cache counters
func (e *Engine) CacheStats() domain.CacheStats {
	return e.content.Stats()
}

// IncrementalStats returns incremental cache counters
func (e *Engine) IncrementalStats() domain.IncrementalStats {
	return e.incr.Stats()
}

// StreamingStats returns processor counters
func (e *Engine) StreamingStats() domain.StreamingStats {
	return e.processor.Stats()
}

// Dependents returns the files known to depend on path
func (e *Engine) Dependents(path string) []string {
	return e.incr.Dependents(path)
}

// Config returns the validated configuration
func (e *Engine) Config() *config.Config {
	return e.cfg
}
