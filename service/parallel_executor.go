package service

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/config"
	"golang.org/x/sync/errgroup"
)

// Default values for parallel executor
const (
	// DefaultMaxConcurrency is used when the configured value is not positive
	DefaultMaxConcurrency = 4
	DefaultTimeout        = 5 * time.Minute
)

// TaskError represents a single task failure
type TaskError struct {
	TaskName string
	Err      error
}

// Error implements the error interface
func (e TaskError) Error() string {
	return fmt.Sprintf("[%s] %v", e.TaskName, e.Err)
}

// Unwrap returns the underlying error
func (e TaskError) Unwrap() error {
	return e.Err
}

// AggregatedError collects all task failures
type AggregatedError struct {
	Errors []TaskError
}

// Error implements the error interface
func (e *AggregatedError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d tasks failed:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap returns the first error for errors.Is/As compatibility
func (e *AggregatedError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[0].Err
}

// ParallelExecutorImpl runs scan tasks with bounded concurrency and an
// overall timeout. A failing or panicking task never stops the others.
type ParallelExecutorImpl struct {
	maxConcurrency int
	timeout        time.Duration
	description    string
	progress       domain.ProgressManager
	logger         logr.Logger
	mu             sync.RWMutex
}

// ExecutorOption configures a ParallelExecutorImpl
type ExecutorOption func(*ParallelExecutorImpl)

// WithProgress reports per-task progress through pm
func WithProgress(pm domain.ProgressManager) ExecutorOption {
	return func(e *ParallelExecutorImpl) {
		e.progress = pm
	}
}

// WithExecutorLogger sets the logger
func WithExecutorLogger(logger logr.Logger) ExecutorOption {
	return func(e *ParallelExecutorImpl) {
		e.logger = logger
	}
}

// WithDescription sets the progress bar label
func WithDescription(description string) ExecutorOption {
	return func(e *ParallelExecutorImpl) {
		e.description = description
	}
}

// NewParallelExecutor creates an executor using every CPU and the default timeout
func NewParallelExecutor(opts ...ExecutorOption) *ParallelExecutorImpl {
	return newParallelExecutor(runtime.NumCPU(), DefaultTimeout, opts)
}

// NewParallelExecutorFromConfig creates an executor from the performance section
func NewParallelExecutorFromConfig(cfg *config.PerformanceConfig, opts ...ExecutorOption) *ParallelExecutorImpl {
	maxConcurrency := cfg.MaxGoroutines
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return newParallelExecutor(maxConcurrency, timeout, opts)
}

func newParallelExecutor(maxConcurrency int, timeout time.Duration, opts []ExecutorOption) *ParallelExecutorImpl {
	e := &ParallelExecutorImpl{
		maxConcurrency: maxConcurrency,
		timeout:        timeout,
		description:    "Analyzing",
		logger:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the enabled tasks and returns an *AggregatedError listing
// every failure, or nil
func (e *ParallelExecutorImpl) Execute(ctx context.Context, tasks []domain.ExecutableTask) error {
	// Filter enabled tasks
	enabledTasks := e.filterEnabledTasks(tasks)
	if len(enabledTasks) == 0 {
		return nil
	}

	// Get current config values (thread-safe)
	e.mu.RLock()
	maxConcurrency := e.maxConcurrency
	timeout := e.timeout
	e.mu.RUnlock()

	// Create timeout context
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Set up progress tracking
	var task domain.TaskProgress = &NoOpTaskProgress{}
	if e.progress != nil {
		task = e.progress.StartTask(e.description, len(enabledTasks))
	}
	defer task.Complete()

	// Create errgroup with context for cancellation propagation
	g, gCtx := errgroup.WithContext(timeoutCtx)
	g.SetLimit(maxConcurrency)

	// Collect errors from all tasks
	var errMu sync.Mutex
	var taskErrors []TaskError

	for _, t := range enabledTasks {
		g.Go(func() error {
			// Check if context is already cancelled
			if err := gCtx.Err(); err != nil {
				errMu.Lock()
				taskErrors = append(taskErrors, TaskError{TaskName: t.Name(), Err: err})
				errMu.Unlock()
				return nil
			}

			// Execute the task
			err := e.run(gCtx, t)

			// Update progress
			task.Describe(fmt.Sprintf("%s %s", e.description, filepath.Base(t.Name())))
			task.Increment(1)

			if err != nil {
				e.logger.V(1).Info("task failed", "task", t.Name(), "error", err.Error())
				errMu.Lock()
				taskErrors = append(taskErrors, TaskError{TaskName: t.Name(), Err: err})
				errMu.Unlock()
			}
			// failures are collected, not propagated, so every task runs
			return nil
		})
	}
	// Wait for all tasks. g.Wait() is always nil here since every
	// goroutine returns nil; failures live in taskErrors.
	_ = g.Wait()

	// Return aggregated error if any tasks failed
	if len(taskErrors) > 0 {
		return &AggregatedError{Errors: taskErrors}
	}
	return nil
}

// run executes one task, turning a panic into a worker fault error
func (e *ParallelExecutorImpl) run(ctx context.Context, t domain.ExecutableTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewWorkerFaultError(t.Name(), fmt.Errorf("panic: %v", r))
		}
	}()
	_, err = t.Execute(ctx)
	return err
}

// SetMaxConcurrency sets the maximum number of concurrent tasks
func (e *ParallelExecutorImpl) SetMaxConcurrency(max int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if max > 0 {
		e.maxConcurrency = max
	}
}

// SetTimeout sets the timeout for all tasks
func (e *ParallelExecutorImpl) SetTimeout(timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timeout > 0 {
		e.timeout = timeout
	}
}

// filterEnabledTasks returns only tasks where IsEnabled() returns true
func (e *ParallelExecutorImpl) filterEnabledTasks(tasks []domain.ExecutableTask) []domain.ExecutableTask {
	enabled := make([]domain.ExecutableTask, 0, len(tasks))
	for _, t := range tasks {
		if t.IsEnabled() {
			enabled = append(enabled, t)
		}
	}
	return enabled
}
