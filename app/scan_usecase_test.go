package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/service"
)

// stubScanner returns canned results per file name
type stubScanner struct {
	mu      sync.Mutex
	results map[string]domain.AnalysisResult
	seen    []string
}

func (s *stubScanner) AnalyzeFile(_ context.Context, path string, kind domain.AnalysisKind) domain.AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, path)
	r, ok := s.results[filepath.Base(path)]
	if !ok {
		r = domain.AnalysisResult{Violations: []domain.Violation{}}
	}
	r.FilePath = path
	r.Kind = kind
	return r
}

func (s *stubScanner) AggregatedResult() domain.AggregatedResult {
	return domain.AggregatedResult{FilesAnalyzed: len(s.seen)}
}

func (s *stubScanner) CacheStats() domain.CacheStats {
	return domain.CacheStats{Hits: 7}
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestScanUseCase_Execute(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.py":         "",
		"pkg/b.py":     "",
		"pkg/bad.py":   "",
		"pkg/err.py":   "",
		"README.md":    "",
		"build/gen.py": "",
	})
	scanner := &stubScanner{results: map[string]domain.AnalysisResult{
		"a.py":   {Violations: []domain.Violation{{Type: "todo"}}},
		"bad.py": {ParseError: "syntax error", Violations: []domain.Violation{}},
		"err.py": {Metadata: map[string]string{"error": domain.ErrCodeTransientIO}, Violations: []domain.Violation{}},
	}}

	uc := NewScanUseCase(scanner, service.NewParallelExecutor())
	report, err := uc.Execute(context.Background(), ScanRequest{
		Paths:           []string{dir},
		IncludePatterns: []string{"*.py"},
		ExcludePatterns: []string{"build/"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(report.Results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(report.Results))
	}
	for i := 1; i < len(report.Results); i++ {
		if report.Results[i-1].FilePath > report.Results[i].FilePath {
			t.Error("Expected results sorted by path")
		}
	}
	for _, r := range report.Results {
		if r.Kind != domain.AnalysisFull {
			t.Errorf("Expected full scan kind, got %s", r.Kind)
		}
		if strings.Contains(r.FilePath, "build") {
			t.Errorf("Excluded file was scanned: %s", r.FilePath)
		}
	}
	if len(report.Errors) != 2 {
		t.Fatalf("Expected 2 errors, got %v", report.Errors)
	}
	if !strings.Contains(strings.Join(report.Errors, "\n"), domain.ErrCodeTransientIO) {
		t.Errorf("Expected the transient failure to be reported, got %v", report.Errors)
	}
	if report.Aggregate.FilesAnalyzed != 4 || report.CacheStats.Hits != 7 {
		t.Errorf("Expected aggregate and cache stats from scanner, got %+v %+v", report.Aggregate, report.CacheStats)
	}
}

func TestScanUseCase_InvalidInput(t *testing.T) {
	uc := NewScanUseCase(&stubScanner{}, service.NewParallelExecutor())

	if _, err := uc.Execute(context.Background(), ScanRequest{}); !domain.IsErrorCode(err, domain.ErrCodeInvalidInput) {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
	_, err := uc.Execute(context.Background(), ScanRequest{Paths: []string{"/nonexistent/dir"}})
	if !domain.IsErrorCode(err, domain.ErrCodeFileNotFound) {
		t.Errorf("Expected FILE_NOT_FOUND, got %v", err)
	}
}

type failingExecutor struct{ err error }

func (f failingExecutor) Execute(context.Context, []domain.ExecutableTask) error { return f.err }

func TestTaskErrors(t *testing.T) {
	agg := &service.AggregatedError{Errors: []service.TaskError{
		{TaskName: "b.py", Err: errors.New("boom")},
		{TaskName: "a.py", Err: errors.New("bang")},
	}}
	got := taskErrors(agg)
	if len(got) != 2 || got[0] != "[a.py] bang" {
		t.Errorf("Unexpected task errors %v", got)
	}

	dir := writeTree(t, map[string]string{"a.py": ""})
	uc := NewScanUseCase(&stubScanner{}, failingExecutor{err: context.DeadlineExceeded})
	report, err := uc.Execute(context.Background(), ScanRequest{Paths: []string{dir}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(report.Errors) != 1 || report.Errors[0] != context.DeadlineExceeded.Error() {
		t.Errorf("Expected executor failure in report, got %v", report.Errors)
	}
}
