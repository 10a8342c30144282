package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/service"
)

// FileScanner analyzes single files and exposes the resulting aggregate
type FileScanner interface {
	AnalyzeFile(ctx context.Context, path string, kind domain.AnalysisKind) domain.AnalysisResult
	AggregatedResult() domain.AggregatedResult
	CacheStats() domain.CacheStats
}

// ScanRequest selects the files of a full scan
type ScanRequest struct {
	Paths            []string
	IncludePatterns  []string
	ExcludePatterns  []string
	RespectGitignore bool
}

// ScanUseCase orchestrates the initial full scan
type ScanUseCase struct {
	scanner    FileScanner
	executor   domain.ParallelExecutor
	fileHelper *FileHelper
	now        func() time.Time
}

// NewScanUseCase creates a new scan use case
func NewScanUseCase(scanner FileScanner, executor domain.ParallelExecutor) *ScanUseCase {
	return &ScanUseCase{
		scanner:    scanner,
		executor:   executor,
		fileHelper: NewFileHelper(),
		now:        time.Now,
	}
}

// Execute collects the files under req.Paths, analyzes them in parallel with
// kind full and returns the report. Per-file failures are listed in
// ScanReport.Errors; only invalid input fails the whole scan.
func (uc *ScanUseCase) Execute(ctx context.Context, req ScanRequest) (*domain.ScanReport, error) {
	if len(req.Paths) == 0 {
		return nil, domain.NewInvalidInputError("no input paths specified", nil)
	}

	files, err := uc.fileHelper.CollectFiles(req.Paths, req.IncludePatterns, req.ExcludePatterns, req.RespectGitignore)
	if err != nil {
		return nil, err
	}

	start := uc.now()
	collector := &resultCollector{}
	tasks := make([]domain.ExecutableTask, 0, len(files))
	for _, f := range files {
		tasks = append(tasks, &scanTask{path: f, scanner: uc.scanner, collector: collector})
	}

	report := &domain.ScanReport{GeneratedAt: start}
	if err := uc.executor.Execute(ctx, tasks); err != nil {
		report.Errors = taskErrors(err)
	}

	report.Results = collector.sorted()
	report.Duration = uc.now().Sub(start)
	report.Aggregate = uc.scanner.AggregatedResult()
	report.CacheStats = uc.scanner.CacheStats()
	return report, nil
}

// taskErrors flattens executor failures into report lines
func taskErrors(err error) []string {
	var agg *service.AggregatedError
	if !errors.As(err, &agg) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(agg.Errors))
	for _, te := range agg.Errors {
		out = append(out, te.Error())
	}
	sort.Strings(out)
	return out
}

type resultCollector struct {
	mu      sync.Mutex
	results []domain.AnalysisResult
}

func (c *resultCollector) add(r domain.AnalysisResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *resultCollector) sorted() []domain.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]domain.AnalysisResult(nil), c.results...)
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// scanTask analyzes one file as an executor task
type scanTask struct {
	path      string
	scanner   FileScanner
	collector *resultCollector
}

func (t *scanTask) Name() string    { return t.path }
func (t *scanTask) IsEnabled() bool { return true }

func (t *scanTask) Execute(ctx context.Context) (any, error) {
	result := t.scanner.AnalyzeFile(ctx, t.path, domain.AnalysisFull)
	t.collector.add(result)

	switch {
	case result.ParseError != "":
		return result, domain.NewParseError(t.path, errors.New(result.ParseError))
	case result.Metadata["error"] != "":
		return result, fmt.Errorf("%s", result.Metadata["error"])
	}
	return result, nil
}
