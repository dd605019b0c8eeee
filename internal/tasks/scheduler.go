package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/leadflow/internal/jobs"
	"github.com/robfig/cron/v3"
)

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload map[string]any, opts jobs.EnqueueOptions) (string, error)
}

// Scheduler enqueues a process_outreach job on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	enqueuer Enqueuer
	spec     string
	timeout  time.Duration
}

// NewScheduler validates spec (standard five-field cron syntax or a
// descriptor such as "@every 1m") and creates a scheduler.
func NewScheduler(spec string, enqueuer Enqueuer) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid outreach schedule %q: %w", spec, err)
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	return &Scheduler{
		cron:     c,
		enqueuer: enqueuer,
		spec:     spec,
		timeout:  10 * time.Second,
	}, nil
}

// Start begins firing on the schedule.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.enqueueOutreach); err != nil {
		return fmt.Errorf("add outreach schedule: %w", err)
	}
	s.cron.Start()
	slog.Info("outreach scheduler started", "spec", s.spec)
	return nil
}

// Stop stops the schedule and waits for a running enqueue to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("outreach scheduler stopped")
}

func (s *Scheduler) enqueueOutreach() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	id, err := s.enqueuer.Enqueue(ctx, TypeProcessOutreach, map[string]any{}, jobs.EnqueueOptions{MaxAttempts: 1})
	if err != nil {
		slog.Error("failed to enqueue outreach dispatch", "error", err)
		return
	}
	slog.Debug("outreach dispatch enqueued", "job_id", id)
}
