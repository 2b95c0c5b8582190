// Package worker runs periodic background tasks, such as the queue sweeps,
// each on its own ticker.
//
// The runner does not know what its tasks do or how they are scheduled
// elsewhere; a task is any value with a name, an interval and a Run method.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/panelcheck/internal/metrics"
)

// Runner manages a set of periodic tasks.
type Runner struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	tasks   map[string]Task
	started bool
	stopped bool

	// Synchronization
	wg     sync.WaitGroup
	stopCh chan struct{}
	cancel context.CancelFunc
}

// New creates a new Runner with the given configuration.
// The runner must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		config: config,
		logger: logger.With("component", "worker"),
		tasks:  make(map[string]Task),
		stopCh: make(chan struct{}),
	}, nil
}

// Register adds a task to the runner. Call this before Start().
func (r *Runner) Register(task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("register %q: runner already started", task.Name())
	}
	if task.Interval() <= 0 {
		return fmt.Errorf("register %q: interval must be positive, got %v", task.Name(), task.Interval())
	}
	if _, exists := r.tasks[task.Name()]; exists {
		r.logger.Warn("Overwriting existing task", "task", task.Name())
	}
	r.tasks[task.Name()] = task
	r.logger.Debug("Registered task", "task", task.Name(), "interval", task.Interval())
	return nil
}

// Start launches one goroutine per registered task. Runs stop when ctx is
// canceled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for _, task := range r.tasks {
		r.wg.Add(1)
		go r.runTask(ctx, task)
	}

	r.logger.Info("Worker started", "tasks", len(r.tasks))
}

// Stop signals all tasks to stop and waits for in-flight runs to finish.
// It respects the configured ShutdownTimeout, after which running tasks are
// canceled.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("Stopping worker...")
	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Worker stopped gracefully")
	case <-time.After(r.config.ShutdownTimeout):
		r.logger.Warn("Worker shutdown timeout exceeded, canceling running tasks")
	}
	r.cancel()
}

// runTask is the loop for one task's goroutine.
func (r *Runner) runTask(ctx context.Context, task Task) {
	defer r.wg.Done()

	logger := r.logger.With("task", task.Name())
	logger.Debug("Task loop started", "interval", task.Interval())

	if r.config.RunOnStart {
		r.execute(ctx, task, logger)
	}

	ticker := time.NewTicker(task.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			logger.Debug("Task loop stopping")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.execute(ctx, task, logger)
		}
	}
}

// execute runs the task once with the configured timeout.
func (r *Runner) execute(ctx context.Context, task Task, logger *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, r.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := task.Run(runCtx)
	elapsed := time.Since(start)

	if err != nil {
		metrics.TaskFailed(task.Name(), elapsed)
		logger.Error("Task failed", "error", err, "duration", elapsed)
		return
	}
	metrics.TaskCompleted(task.Name(), elapsed)
	logger.Debug("Task completed", "duration", elapsed)
}
