package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/cache"
	"github.com/ludo-technologies/connscan/internal/config"
	"github.com/ludo-technologies/connscan/internal/watcher"
)

// Default values for the stream processor
const (
	DefaultPollInterval  = time.Second
	DefaultWorkerBackoff = time.Second

	// overflowLogEvery limits result-queue overflow warnings
	overflowLogEvery = 1000
)

// ChangeSource produces debounced change batches until ctx is done
type ChangeSource interface {
	Run(ctx context.Context, emit func([]domain.FileChange)) error
}

type sourceWithStats interface {
	Stats() watcher.Stats
}

// StreamConfig holds stream processor settings
type StreamConfig struct {
	MaxQueueSize    int
	MaxWorkers      int
	CacheSize       int
	ResultQueueSize int
	Debounce        time.Duration
	PollInterval    time.Duration

	// BackoffPolicy is config.BackoffConstant or config.BackoffExponential
	BackoffPolicy    string
	WorkerBackoff    time.Duration
	WorkerBackoffMax time.Duration
}

// DefaultStreamConfig returns the default processor settings
func DefaultStreamConfig() StreamConfig {
	return StreamConfigFromConfig(&config.DefaultConfig().Streaming)
}

// StreamConfigFromConfig converts the file configuration section
func StreamConfigFromConfig(cfg *config.StreamingConfig) StreamConfig {
	return StreamConfig{
		MaxQueueSize:     cfg.MaxQueueSize,
		MaxWorkers:       cfg.MaxWorkers,
		CacheSize:        cfg.CacheSize,
		ResultQueueSize:  cfg.ResultQueueSize,
		Debounce:         seconds(cfg.DebounceSeconds),
		PollInterval:     seconds(cfg.PollIntervalSeconds),
		BackoffPolicy:    cfg.WorkerBackoffPolicy,
		WorkerBackoff:    seconds(cfg.WorkerBackoffSeconds),
		WorkerBackoffMax: seconds(cfg.WorkerBackoffMaxSeconds),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate checks every setting against its allowed range
func (c StreamConfig) Validate() error {
	switch {
	case c.MaxQueueSize < config.MinQueueSize || c.MaxQueueSize > config.MaxQueueSize:
		return streamConfigError("max_queue_size must be between %d and %d, got %d", config.MinQueueSize, config.MaxQueueSize, c.MaxQueueSize)
	case c.MaxWorkers < config.MinWorkers || c.MaxWorkers > config.MaxWorkers:
		return streamConfigError("max_workers must be between %d and %d, got %d", config.MinWorkers, config.MaxWorkers, c.MaxWorkers)
	case c.CacheSize < config.MinResultCacheSize || c.CacheSize > config.MaxResultCacheSize:
		return streamConfigError("cache_size must be between %d and %d, got %d", config.MinResultCacheSize, config.MaxResultCacheSize, c.CacheSize)
	case c.ResultQueueSize < config.MinQueueSize || c.ResultQueueSize > config.MaxQueueSize:
		return streamConfigError("result_queue_size must be between %d and %d, got %d", config.MinQueueSize, config.MaxQueueSize, c.ResultQueueSize)
	case c.Debounce < 0:
		return streamConfigError("debounce_seconds must be >= 0, got %v", c.Debounce)
	case c.PollInterval <= 0:
		return streamConfigError("poll_interval_seconds must be > 0, got %v", c.PollInterval)
	case c.WorkerBackoff < 0:
		return streamConfigError("worker_backoff_seconds must be >= 0, got %v", c.WorkerBackoff)
	case c.BackoffPolicy == config.BackoffExponential && c.WorkerBackoffMax < c.WorkerBackoff:
		return streamConfigError("worker_backoff_max_seconds must be >= worker_backoff_seconds, got %v", c.WorkerBackoffMax)
	case c.BackoffPolicy != "" && c.BackoffPolicy != config.BackoffConstant && c.BackoffPolicy != config.BackoffExponential:
		return streamConfigError("unknown worker_backoff_policy %q", c.BackoffPolicy)
	}
	return nil
}

func streamConfigError(format string, args ...any) error {
	return domain.NewConfigError(fmt.Sprintf(format, args...), nil)
}

// StreamDeps are the collaborators injected into a StreamProcessor
type StreamDeps struct {
	Analyzer    domain.Analyzer
	Content     *cache.ContentCache
	Incremental *cache.IncrementalCache

	// Source is optional; without it requests only arrive through Submit
	Source ChangeSource

	Logger logr.Logger
	Clock  func() time.Time
}

// StreamProcessor turns change batches into analysis results with a fixed
// pool of workers over one bounded request queue.
type StreamProcessor struct {
	cfg         StreamConfig
	analyzer    domain.Analyzer
	content     *cache.ContentCache
	incremental *cache.IncrementalCache
	source      ChangeSource
	logger      logr.Logger
	now         func() time.Time

	queue       *requestQueue
	results     chan domain.AnalysisResult
	resultCache *ResultCache

	mu        sync.Mutex
	state     domain.ProcessorState
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	onResult  []domain.ResultCallback
	onBatch   []domain.BatchCallback

	submitted        atomic.Int64
	processed        atomic.Int64
	files            atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	partialHits      atomic.Int64
	queueOverflows   atomic.Int64
	resultOverflows  atomic.Int64
	workerFaults     atomic.Int64
	analyzerFailures atomic.Int64
	parseFailures    atomic.Int64
	readFailures     atomic.Int64
	callbackFailures atomic.Int64
	processingNanos  atomic.Int64
	lastResultAt     atomic.Int64
}

// NewStreamProcessor validates cfg and creates a stopped processor
func NewStreamProcessor(cfg StreamConfig, deps StreamDeps) (*StreamProcessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newStreamProcessor(cfg, deps)
}

// newStreamProcessor skips range validation; tests use it for tiny queues
func newStreamProcessor(cfg StreamConfig, deps StreamDeps) (*StreamProcessor, error) {
	if deps.Analyzer == nil {
		return nil, domain.NewConfigError("stream processor requires an analyzer", nil)
	}
	if deps.Content == nil || deps.Incremental == nil {
		return nil, domain.NewConfigError("stream processor requires content and incremental caches", nil)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResultQueueSize <= 0 {
		cfg.ResultQueueSize = cfg.MaxQueueSize
	}

	resultCache, err := NewResultCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	return &StreamProcessor{
		cfg:         cfg,
		analyzer:    deps.Analyzer,
		content:     deps.Content,
		incremental: deps.Incremental,
		source:      deps.Source,
		logger:      logger.WithName("stream"),
		now:         now,
		queue:       newRequestQueue(cfg.MaxQueueSize),
		results:     make(chan domain.AnalysisResult, cfg.ResultQueueSize),
		resultCache: resultCache,
		state:       domain.StateStopped,
	}, nil
}

// Start launches the workers and the change source. It is valid only
// from the stopped or starting state.
func (p *StreamProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != domain.StateStopped && p.state != domain.StateStarting {
		return domain.NewInvalidStateError("start", p.state)
	}
	p.state = domain.StateStarting

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < p.cfg.MaxWorkers; i++ {
		id := i
		g.Go(func() error {
			p.worker(gctx, id)
			return nil
		})
	}
	if p.source != nil {
		g.Go(func() error {
			if err := p.source.Run(gctx, p.submitBatch); err != nil && gctx.Err() == nil {
				p.logger.Error(err, "change source stopped")
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	p.cancel = cancel
	p.done = done
	p.startedAt = p.now()
	p.state = domain.StateRunning
	p.logger.Info("stream processor started", "workers", p.cfg.MaxWorkers, "queue", p.cfg.MaxQueueSize)
	return nil
}

// Stop cancels the change source and the workers and waits for them to
// exit. Stopping a stopped processor is a no-op.
func (p *StreamProcessor) Stop() error {
	p.mu.Lock()
	switch p.state {
	case domain.StateStopped:
		p.mu.Unlock()
		return nil
	case domain.StateStopping:
		done := p.done
		p.mu.Unlock()
		<-done
		return nil
	}
	p.state = domain.StateStopping
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.state = domain.StateStopped
	p.cancel = nil
	p.mu.Unlock()
	p.logger.Info("stream processor stopped", "processed", p.processed.Load())
	return nil
}

// State returns the lifecycle state
func (p *StreamProcessor) State() domain.ProcessorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Submit enqueues req without blocking. A full queue drops the request,
// counts an overflow and returns false.
func (p *StreamProcessor) Submit(req domain.AnalysisRequest) bool {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = p.now()
	}
	if req.Kind == "" {
		req.Kind = domain.AnalysisIncremental
	}
	req.Priority = domain.ClampPriority(req.Priority)

	if !p.queue.TryPush(req) {
		n := p.queueOverflows.Add(1)
		p.logger.V(1).Info("request queue full, dropping request", "request", req.ID, "changes", len(req.Changes), "overflows", n)
		return false
	}
	p.submitted.Add(1)
	return true
}

// SubmitPaths enqueues one request re-analyzing paths. It returns the
// request ID and whether the request was accepted.
func (p *StreamProcessor) SubmitPaths(paths []string, priority int, kind domain.AnalysisKind) (string, bool) {
	if len(paths) == 0 {
		return "", false
	}
	now := p.now()
	changes := make([]domain.FileChange, 0, len(paths))
	for _, path := range paths {
		changes = append(changes, domain.FileChange{Path: path, Kind: domain.ChangeModified, Timestamp: now})
	}
	req := domain.AnalysisRequest{
		ID:        uuid.NewString(),
		Changes:   changes,
		Priority:  priority,
		CreatedAt: now,
		Kind:      kind,
	}
	return req.ID, p.Submit(req)
}

func (p *StreamProcessor) submitBatch(changes []domain.FileChange) {
	p.Submit(domain.AnalysisRequest{
		Changes:  changes,
		Priority: domain.PriorityMedium,
		Kind:     domain.AnalysisIncremental,
	})
}

// Results returns the bounded result stream. It is never closed.
func (p *StreamProcessor) Results() <-chan domain.AnalysisResult {
	return p.results
}

// OnResult registers a callback invoked for every emitted result
func (p *StreamProcessor) OnResult(cb domain.ResultCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResult = append(p.onResult, cb)
}

// OnBatch registers a callback invoked once per processed request
func (p *StreamProcessor) OnBatch(cb domain.BatchCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onBatch = append(p.onBatch, cb)
}

// InvalidateResults drops cached results for paths
func (p *StreamProcessor) InvalidateResults(paths []string) int {
	return p.resultCache.InvalidatePaths(paths)
}

// newWorkerBackOff builds the per-worker fault backoff. An empty policy
// means constant.
func newWorkerBackOff(cfg StreamConfig) backoff.BackOff {
	if cfg.BackoffPolicy != config.BackoffExponential || cfg.WorkerBackoff <= 0 {
		return backoff.NewConstantBackOff(cfg.WorkerBackoff)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.WorkerBackoff
	b.MaxInterval = cfg.WorkerBackoffMax
	b.RandomizationFactor = 0
	// never give up, a worker only stops with its context
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p *StreamProcessor) worker(ctx context.Context, id int) {
	logger := p.logger.WithValues("worker", id)
	pause := newWorkerBackOff(p.cfg)

	for {
		if ctx.Err() != nil {
			return
		}
		req, ok := p.queue.Pop(ctx, p.cfg.PollInterval)
		if !ok {
			continue
		}

		err := p.processSafely(ctx, req)
		if err == nil {
			pause.Reset()
			continue
		}
		p.workerFaults.Add(1)
		wait := pause.NextBackOff()
		logger.Error(err, "worker fault, backing off", "request", req.ID, "backoff", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *StreamProcessor) processSafely(ctx context.Context, req domain.AnalysisRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewWorkerFaultError(req.ID, fmt.Errorf("panic: %v", r))
		}
	}()
	p.process(ctx, req)
	return nil
}

func (p *StreamProcessor) process(ctx context.Context, req domain.AnalysisRequest) {
	if len(req.Changes) == 0 {
		p.processed.Add(1)
		return
	}

	entries := p.currentEntries(req.Changes)
	if results, ok := p.cachedResults(req, entries); ok {
		p.cacheHits.Add(1)
		p.processed.Add(1)
		p.emitBatch(req.ID, results)
		return
	}
	p.cacheMisses.Add(1)

	results := make([]domain.AnalysisResult, 0, len(req.Changes))
	for _, change := range req.Changes {
		if ctx.Err() != nil {
			break
		}
		var entry *cache.CacheEntry
		if e, ok := entries[change.Path]; ok {
			entry = &e
		}
		results = append(results, p.analyzeChange(ctx, req, change, entry))
	}
	p.processed.Add(1)
	p.emitBatch(req.ID, results)
}

// currentEntries reads the current content of every non-deleted change
func (p *StreamProcessor) currentEntries(changes []domain.FileChange) map[string]cache.CacheEntry {
	entries := make(map[string]cache.CacheEntry, len(changes))
	for _, change := range changes {
		if change.Kind == domain.ChangeDeleted {
			continue
		}
		if entry, ok := p.content.GetEntry(change.Path); ok {
			entries[change.Path] = entry
		}
	}
	return entries
}

// cachedResults succeeds only when every change has a cached result for
// its current content
func (p *StreamProcessor) cachedResults(req domain.AnalysisRequest, entries map[string]cache.CacheEntry) ([]domain.AnalysisResult, bool) {
	keys := make([]ResultKey, 0, len(req.Changes))
	for _, change := range req.Changes {
		entry, ok := entries[change.Path]
		if !ok {
			return nil, false
		}
		keys = append(keys, ResultKey{Path: change.Path, Hash: entry.Hash, Kind: change.Kind})
	}

	results, ok := p.resultCache.GetAll(keys)
	if !ok {
		return nil, false
	}

	now := p.now()
	for i := range results {
		// keep the hash index current so dependents still cascade
		p.incremental.TrackChangeTrusted(keys[i].Path, nil, entries[keys[i].Path].Content)
		results[i].RequestID = req.ID
		results[i].Kind = req.Kind
		results[i].CacheHit = true
		results[i].Timestamp = now
		results[i].ProcessingTime = 0
		p.files.Add(1)
	}
	return results, true
}

func (p *StreamProcessor) analyzeChange(ctx context.Context, req domain.AnalysisRequest, change domain.FileChange, entry *cache.CacheEntry) domain.AnalysisResult {
	start := p.now()
	result := domain.AnalysisResult{
		RequestID:  req.ID,
		FilePath:   change.Path,
		Violations: []domain.Violation{},
		Kind:       req.Kind,
		ChangeKind: change.Kind,
	}
	finish := func() domain.AnalysisResult {
		end := p.now()
		result.Timestamp = end
		result.ProcessingTime = end.Sub(start)
		p.files.Add(1)
		p.processingNanos.Add(int64(result.ProcessingTime))
		return result
	}

	if change.Kind == domain.ChangeDeleted {
		p.incremental.TrackChangeTrusted(change.Path, nil, nil)
		p.incremental.RemoveFile(change.Path)
		p.content.Invalidate(change.Path)
		p.resultCache.InvalidatePaths([]string{change.Path})
		return finish()
	}

	if entry == nil {
		p.readFailures.Add(1)
		p.logger.V(1).Info("file unavailable, emitting empty result", "path", change.Path)
		result.Metadata = map[string]string{"error": domain.ErrCodeTransientIO}
		return finish()
	}
	result.ContentHash = entry.Hash
	p.incremental.TrackChangeTrusted(change.Path, nil, entry.Content)
	key := ResultKey{Path: change.Path, Hash: entry.Hash, Kind: change.Kind}

	if partial, ok := p.incremental.GetPartialResult(change.Path, cache.KindViolations, entry.Hash); ok {
		if violations, ok := partial.Data.([]domain.Violation); ok {
			p.partialHits.Add(1)
			result.Violations = cloneViolations(violations)
			result.DependenciesAnalyzed = append([]string(nil), partial.Dependencies...)
			result.CacheHit = true
			p.resultCache.Put(key, result)
			return finish()
		}
	}

	parsed, ok := p.content.ParsedFor(change.Path, entry.Content, entry.Hash)
	if !ok {
		p.parseFailures.Add(1)
		result.ParseError = domain.NewParseError(change.Path, nil).Error()
		return finish()
	}

	violations, err := p.analyzer.Analyze(ctx, change.Path, entry.Content, parsed)
	if err != nil {
		p.analyzerFailures.Add(1)
		p.logger.V(1).Info("analyzer failed", "path", change.Path, "error", err.Error())
		result.Metadata = map[string]string{"error": err.Error()}
		return finish()
	}

	var deps []string
	if resolver, ok := p.analyzer.(domain.DependencyResolver); ok {
		deps = resolver.ResolveDependencies(change.Path, entry.Content, parsed)
	}
	if violations != nil {
		result.Violations = violations
	}
	result.DependenciesAnalyzed = deps

	p.incremental.StorePartialResult(change.Path, cache.KindViolations, cloneViolations(result.Violations), entry.Hash, deps, nil)
	p.resultCache.Put(key, result)
	return finish()
}

// AnalyzeFile analyzes one file synchronously without queueing or emitting.
// A panic inside the analyzer becomes an error marker on the result.
func (p *StreamProcessor) AnalyzeFile(ctx context.Context, path string, kind domain.AnalysisKind) (result domain.AnalysisResult) {
	req := domain.AnalysisRequest{ID: uuid.NewString(), Kind: kind, CreatedAt: p.now()}
	change := domain.FileChange{Path: path, Kind: domain.ChangeModified, Timestamp: req.CreatedAt}

	defer func() {
		if r := recover(); r != nil {
			p.workerFaults.Add(1)
			err := domain.NewWorkerFaultError(req.ID, fmt.Errorf("panic: %v", r))
			p.logger.Error(err, "analysis panicked", "path", path)
			result = domain.AnalysisResult{
				RequestID:  req.ID,
				FilePath:   path,
				Violations: []domain.Violation{},
				Kind:       kind,
				ChangeKind: change.Kind,
				Timestamp:  p.now(),
				Metadata:   map[string]string{"error": err.Error()},
			}
		}
	}()

	var entry *cache.CacheEntry
	if e, ok := p.content.GetEntry(path); ok {
		entry = &e
	}
	return p.analyzeChange(ctx, req, change, entry)
}

func (p *StreamProcessor) emitBatch(requestID string, results []domain.AnalysisResult) {
	p.mu.Lock()
	resultCallbacks := append([]domain.ResultCallback(nil), p.onResult...)
	batchCallbacks := append([]domain.BatchCallback(nil), p.onBatch...)
	p.mu.Unlock()

	for _, r := range results {
		p.emit(r, resultCallbacks)
	}
	for _, cb := range batchCallbacks {
		p.safeCallback(func() { cb(requestID, results) })
	}
}

func (p *StreamProcessor) emit(result domain.AnalysisResult, callbacks []domain.ResultCallback) {
	p.lastResultAt.Store(p.now().UnixNano())

	select {
	case p.results <- result.Clone():
	default:
		n := p.resultOverflows.Add(1)
		if n == 1 || n%overflowLogEvery == 0 {
			p.logger.Info("result queue full, dropping results", "path", result.FilePath, "dropped", n)
		}
	}

	for _, cb := range callbacks {
		p.safeCallback(func() { cb(result) })
	}
}

func (p *StreamProcessor) safeCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.callbackFailures.Add(1)
			p.logger.Error(fmt.Errorf("panic: %v", r), "result callback failed")
		}
	}()
	fn()
}

// Stats returns a snapshot of the processor counters
func (p *StreamProcessor) Stats() domain.StreamingStats {
	p.mu.Lock()
	state := p.state
	startedAt := p.startedAt
	p.mu.Unlock()

	stats := domain.StreamingStats{
		State:             state,
		Workers:           p.cfg.MaxWorkers,
		QueueDepth:        p.queue.Len(),
		QueueCapacity:     p.queue.Cap(),
		ResultQueueDepth:  len(p.results),
		RequestsSubmitted: p.submitted.Load(),
		RequestsProcessed: p.processed.Load(),
		FilesProcessed:    p.files.Load(),
		ResultCacheHits:   p.cacheHits.Load(),
		ResultCacheMisses: p.cacheMisses.Load(),
		PartialResultHits: p.partialHits.Load(),
		ResultCacheSize:   p.resultCache.Len(),
		QueueOverflows:    p.queueOverflows.Load(),
		ResultOverflows:   p.resultOverflows.Load(),
		WorkerFaults:      p.workerFaults.Load(),
		AnalyzerFailures:  p.analyzerFailures.Load(),
		ParseFailures:     p.parseFailures.Load(),
		ReadFailures:      p.readFailures.Load(),
		CallbackFailures:  p.callbackFailures.Load(),
	}
	if files := p.files.Load(); files > 0 {
		stats.AvgProcessingTime = time.Duration(p.processingNanos.Load() / files)
	}
	if state == domain.StateRunning && !startedAt.IsZero() {
		stats.StartedAt = startedAt
		stats.Uptime = p.now().Sub(startedAt)
	}
	if last := p.lastResultAt.Load(); last > 0 {
		stats.LastResultAt = time.Unix(0, last)
	}
	if src, ok := p.source.(sourceWithStats); ok {
		ws := src.Stats()
		stats.EventsReceived = ws.EventsReceived
		stats.EventsCoalesced = ws.EventsCoalesced
		stats.UnchangedDropped = ws.UnchangedDropped
		stats.WatchedDirectories = ws.WatchedDirectories
	}
	return stats
}

func cloneViolations(vs []domain.Violation) []domain.Violation {
	return domain.AnalysisResult{Violations: vs}.Clone().Violations
}
