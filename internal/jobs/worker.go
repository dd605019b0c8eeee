package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	PollInterval   time.Duration
	NumWorkers     int
	HandlerTimeout time.Duration
	// StaleAfter is how long a job may stay running before it is
	// considered abandoned and requeued.
	StaleAfter time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:   2 * time.Second,
		NumWorkers:     1,
		HandlerTimeout: 2 * time.Minute,
		StaleAfter:     10 * time.Minute,
	}
}

const writeBackTimeout = 10 * time.Second

// Worker drains the job queue and dispatches jobs to registered handlers.
type Worker struct {
	config   WorkerConfig
	service  *Service
	registry *Registry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new job worker.
func NewWorker(config WorkerConfig, service *Service, registry *Registry) *Worker {
	defaults := DefaultWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = defaults.HandlerTimeout
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	return &Worker{
		config:   config,
		service:  service,
		registry: registry,
		stopCh:   make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting job worker",
		"workers", w.config.NumWorkers,
		"poll_interval", w.config.PollInterval,
		"handler_timeout", w.config.HandlerTimeout,
		"types", w.registry.Types(),
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers. In-flight jobs finish first.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("job worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-timer.C:
			if workerID == 0 {
				w.requeueStale(ctx)
			}
			if _, err := w.Drain(ctx); err != nil {
				slog.Error("failed to drain job queue", "worker", workerID, "error", err)
			}
			timer.Reset(w.config.PollInterval)
		}
	}
}

// Drain claims and processes jobs until none is due, the worker is stopped
// or ctx is done. Returns the number of jobs processed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		select {
		case <-ctx.Done():
			return processed, nil
		case <-w.stopCh:
			return processed, nil
		default:
		}

		job, err := w.service.ClaimNext(ctx)
		if err != nil {
			return processed, err
		}
		if job == nil {
			return processed, nil
		}

		w.processJob(ctx, job)
		processed++
	}
}

func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	start := time.Now()
	ctx, logger := ctxlog.With(ctx, "job_id", job.ID, "type", job.Type, "attempt", job.Attempts)

	// Outcomes are written even when ctx is cancelled mid-job.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
	defer cancel()

	handler, ok := w.registry.Lookup(job.Type)
	if !ok {
		// No future attempt can succeed.
		cause := Permanent(fmt.Errorf("%w: %s", ErrNoHandler, job.Type))
		if _, err := w.service.Fail(wctx, job, cause); err != nil {
			logger.Error("failed to mark as failed", "error", err)
		}
		logger.Warn("job has no handler")
		recordJobProcessed(job.Type, outcomeFailed)
		return
	}

	result, err := w.invoke(ctx, handler, job)
	duration := time.Since(start)
	recordJobDuration(job.Type, duration)

	if err != nil {
		w.handleError(wctx, logger, job, err)
		return
	}

	if err := w.service.Complete(wctx, job.ID, result); err != nil {
		logger.Error("failed to mark as completed", "error", err)
		return
	}

	recordJobProcessed(job.Type, outcomeCompleted)
	logger.Debug("job completed", "duration", duration)
}

// invoke runs a handler under the handler timeout and converts a panic into
// an error so one bad job cannot take down the loop.
func (w *Worker) invoke(ctx context.Context, handler HandlerFunc, job *domain.Job) (result map[string]any, err error) {
	hctx, cancel := context.WithTimeout(ctx, w.config.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(hctx, job.Payload)
}

func (w *Worker) handleError(ctx context.Context, logger *slog.Logger, job *domain.Job, cause error) {
	retried, err := w.service.Fail(ctx, job, cause)
	if err != nil {
		logger.Error("failed to record job failure", "error", err, "cause", cause)
		return
	}

	if retried {
		logger.Info("job scheduled for retry",
			"max_attempts", job.MaxAttempts,
			"next_attempt", job.ScheduledAt,
			"error", cause,
		)
		recordJobProcessed(job.Type, outcomeRetry)
		return
	}

	logger.Warn("job failed",
		"max_attempts", job.MaxAttempts,
		"error", cause,
	)
	recordJobProcessed(job.Type, outcomeFailed)
}

func (w *Worker) requeueStale(ctx context.Context) {
	n, err := w.service.RequeueStale(ctx, w.config.StaleAfter)
	if err != nil {
		slog.Error("failed to requeue stale jobs", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("requeued stale jobs", "count", n)
	}
}
