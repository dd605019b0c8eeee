package workflows

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig contains runner configuration.
type RunnerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultRunnerConfig returns default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	}
}

// Runner polls the engine for due enrollments.
type Runner struct {
	engine *Engine
	config RunnerConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRunner creates a new runner.
func NewRunner(engine *Engine, config RunnerConfig) *Runner {
	defaults := DefaultRunnerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &Runner{
		engine: engine,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (r *Runner) Start(ctx context.Context) {
	slog.Info("starting workflow runner",
		"poll_interval", r.config.PollInterval,
		"batch_size", r.config.BatchSize,
	)

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop stops the runner and waits for the current batch.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	slog.Info("workflow runner stopped")
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain processes full batches until a short one shows nothing else is due.
func (r *Runner) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		n, err := r.engine.ProcessDue(ctx, r.config.BatchSize)
		if err != nil {
			slog.Error("failed to process due enrollments", "error", err)
			return
		}
		if n < r.config.BatchSize {
			return
		}
	}
}
