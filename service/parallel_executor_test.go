package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/config"
)

// fileTask is a scan task over one file path
type fileTask struct {
	path    string
	enabled bool
	exec    func(ctx context.Context) (any, error)
}

func (t *fileTask) Name() string    { return t.path }
func (t *fileTask) IsEnabled() bool { return t.enabled }
func (t *fileTask) Execute(ctx context.Context) (any, error) {
	if t.exec != nil {
		return t.exec(ctx)
	}
	return nil, nil
}

func newFileTask(path string, exec func(ctx context.Context) (any, error)) *fileTask {
	return &fileTask{path: path, enabled: true, exec: exec}
}

type recordingProgress struct {
	increments  atomic.Int32
	completed   atomic.Bool
	description atomic.Value
	total       int
}

func (p *recordingProgress) StartTask(description string, total int) domain.TaskProgress {
	p.total = total
	p.description.Store(description)
	return p
}
func (p *recordingProgress) IsInteractive() bool { return true }
func (p *recordingProgress) Close() {}
func (p *recordingProgress) Increment(n int) { p.increments.Add(int32(n)) }
func (p *recordingProgress) Describe(description string) { p.description.Store(description) }
func (p *recordingProgress) Complete() { p.completed.Store(true) }

func TestNewParallelExecutorFromConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.PerformanceConfig
		wantWorkers int
		wantTimeout time.Duration
	}{
		{"configured", config.PerformanceConfig{MaxGoroutines: 8, TimeoutSeconds: 120}, 8, 120 * time.Second},
		{"defaults", config.PerformanceConfig{}, DefaultMaxConcurrency, DefaultTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewParallelExecutorFromConfig(&tt.cfg)
			if e.maxConcurrency != tt.wantWorkers || e.timeout != tt.wantTimeout {
				t.Errorf("got %d/%v, want %d/%v", e.maxConcurrency, e.timeout, tt.wantWorkers, tt.wantTimeout)
			}
		})
	}
}

func TestParallelExecutor_EmptyAndDisabled(t *testing.T) {
	e := NewParallelExecutor()
	if err := e.Execute(context.Background(), nil); err != nil {
		t.Errorf("empty task list should return nil, got %v", err)
	}

	var ran atomic.Int32
	disabled := &fileTask{path: "skip.py", exec: func(context.Context) (any, error) {
		ran.Add(1)
		return nil, nil
	}}
	if err := e.Execute(context.Background(), []domain.ExecutableTask{disabled}); err != nil {
		t.Errorf("disabled tasks should return nil, got %v", err)
	}
	if ran.Load() != 0 {
		t.Error("disabled task was executed")
	}
}

func TestParallelExecutor_CollectsFailures(t *testing.T) {
	e := NewParallelExecutor()
	errA := errors.New("unreadable")

	tasks := []domain.ExecutableTask{
		newFileTask("/src/a.py", func(context.Context) (any, error) { return nil, errA }),
		newFileTask("/src/b.py", nil),
		newFileTask("/src/c.py", func(context.Context) (any, error) { panic("analyzer bug") }),
	}

	err := e.Execute(context.Background(), tasks)

	var aggErr *AggregatedError
	if !errors.As(err, &aggErr) {
		t.Fatalf("expected AggregatedError, got %T", err)
	}
	if len(aggErr.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(aggErr.Errors))
	}
	byTask := map[string]error{}
	for _, te := range aggErr.Errors {
		byTask[te.TaskName] = te.Err
	}
	if !errors.Is(byTask["/src/a.py"], errA) {
		t.Errorf("expected a.py failure to wrap errA, got %v", byTask["/src/a.py"])
	}
	if !domain.IsErrorCode(byTask["/src/c.py"], domain.ErrCodeWorkerFault) {
		t.Errorf("expected panic to become WORKER_FAULT, got %v", byTask["/src/c.py"])
	}
}

func TestParallelExecutor_Timeout(t *testing.T) {
	e := NewParallelExecutorFromConfig(&config.PerformanceConfig{MaxGoroutines: 1, TimeoutSeconds: 1})
	e.SetTimeout(50 * time.Millisecond)

	tasks := []domain.ExecutableTask{
		newFileTask("slow.py", func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		newFileTask("never.py", nil),
	}

	start := time.Now()
	err := e.Execute(context.Background(), tasks)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("executor did not honor its timeout")
	}
}

func TestParallelExecutor_ConcurrencyLimit(t *testing.T) {
	e := NewParallelExecutor()
	e.SetMaxConcurrency(2)
	e.SetMaxConcurrency(0) // ignored

	var current, peak atomic.Int32
	var tasks []domain.ExecutableTask
	for i := 0; i < 8; i++ {
		tasks = append(tasks, newFileTask("f.py", func(context.Context) (any, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		}))
	}

	if err := e.Execute(context.Background(), tasks); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
}

func TestParallelExecutor_ReportsProgress(t *testing.T) {
	progress := &recordingProgress{}
	e := NewParallelExecutorFromConfig(&config.PerformanceConfig{MaxGoroutines: 2},
		WithProgress(progress), WithDescription("Scanning"))

	tasks := []domain.ExecutableTask{
		newFileTask("/src/a.py", nil),
		newFileTask("/src/b.py", nil),
		newFileTask("/src/c.py", nil),
	}
	if err := e.Execute(context.Background(), tasks); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	if progress.total != 3 || progress.increments.Load() != 3 {
		t.Errorf("expected 3 of 3 increments, got %d of %d", progress.increments.Load(), progress.total)
	}
	if !progress.completed.Load() {
		t.Error("expected Complete() to be called")
	}
	if desc, _ := progress.description.Load().(string); !strings.HasPrefix(desc, "Scanning ") {
		t.Errorf("expected per-file description, got %q", desc)
	}
}

func TestAggregatedError(t *testing.T) {
	tests := []struct {
		name     string
		errors   []TaskError
		contains string
	}{
		{"none", nil, "no errors"},
		{"single", []TaskError{{TaskName: "a.py", Err: errors.New("failed")}}, "[a.py] failed"},
		{"multiple", []TaskError{
			{TaskName: "a.py", Err: errors.New("e1")},
			{TaskName: "b.py", Err: errors.New("e2")},
		}, "2 tasks failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &AggregatedError{Errors: tt.errors}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want it to contain %q", err.Error(), tt.contains)
			}
		})
	}

	inner := errors.New("inner")
	if !errors.Is(&AggregatedError{Errors: []TaskError{{TaskName: "x", Err: inner}}}, inner) {
		t.Error("expected Unwrap to expose the first error")
	}
	if (&AggregatedError{}).Unwrap() != nil {
		t.Error("expected nil Unwrap for empty error")
	}
}
