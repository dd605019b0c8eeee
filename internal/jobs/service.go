package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// EnqueueOptions overrides queue defaults for a single job.
type EnqueueOptions struct {
	ScheduledAt time.Time
	MaxAttempts int
}

// Service implements the queue operations on top of a Repository.
type Service struct {
	repo               Repository
	backoff            BackoffPolicy
	defaultMaxAttempts int
	now                func() time.Time
}

// ServiceConfig contains queue defaults.
type ServiceConfig struct {
	MaxAttempts int
	Backoff     BackoffPolicy
}

// NewService creates a new job service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	return &Service{
		repo:               repo,
		backoff:            cfg.Backoff,
		defaultMaxAttempts: cfg.MaxAttempts,
		now:                time.Now,
	}
}

// Enqueue adds a job of the given type. ScheduledAt defaults to now and
// MaxAttempts to the configured default.
func (s *Service) Enqueue(ctx context.Context, jobType string, payload map[string]any, opts EnqueueOptions) (string, error) {
	if jobType == "" {
		return "", ErrEmptyJobType
	}
	if payload == nil {
		payload = map[string]any{}
	}

	job := &domain.Job{
		Type:        jobType,
		Status:      domain.JobStatusPending,
		Payload:     payload,
		MaxAttempts: opts.MaxAttempts,
		ScheduledAt: opts.ScheduledAt,
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.defaultMaxAttempts
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = s.now()
	}

	if err := s.repo.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", jobType, err)
	}

	ctxlog.FromContext(ctx).Debug("job enqueued", "job_id", job.ID, "type", jobType, "scheduled_at", job.ScheduledAt)
	recordEnqueued(jobType)
	return job.ID, nil
}

// ClaimNext claims the oldest due job, or returns nil when none is due.
func (s *Service) ClaimNext(ctx context.Context) (*domain.Job, error) {
	job, err := s.repo.ClaimNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// Complete records a successful attempt.
func (s *Service) Complete(ctx context.Context, id string, result map[string]any) error {
	if err := s.repo.MarkCompleted(ctx, id, result); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt of a claimed job. The job goes back to
// pending with a backed-off schedule while attempts remain and the cause is
// retryable; otherwise it becomes failed. Reports whether a retry was scheduled.
func (s *Service) Fail(ctx context.Context, job *domain.Job, cause error) (bool, error) {
	msg := cause.Error()

	if IsRetryable(cause) && job.CanRetry() {
		next := s.now().Add(s.backoff.Delay(job.Attempts))
		if err := s.repo.MarkForRetry(ctx, job.ID, msg, next); err != nil {
			return false, fmt.Errorf("mark job %s for retry: %w", job.ID, err)
		}
		job.Status = domain.JobStatusPending
		job.ScheduledAt = next
		job.ErrorMessage = msg
		return true, nil
	}

	if err := s.repo.MarkFailed(ctx, job.ID, msg); err != nil {
		return false, fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = msg
	return false, nil
}

// FailByID loads a job and records a failed attempt for it.
func (s *Service) FailByID(ctx context.Context, id string, errMessage string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, ErrJobNotFound
	}
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Fail(ctx, job, errors.New(errMessage))
}

// Cancel cancels a pending job.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return ErrJobNotFound
	}
	return s.repo.Cancel(ctx, id)
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrJobNotFound
	}
	return s.repo.GetJob(ctx, id)
}

// List returns jobs matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.Job, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, ErrInvalidJobStatus
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListJobs(ctx, filter)
}

// Stats returns job counts by status.
func (s *Service) Stats(ctx context.Context) (*QueueStats, error) {
	return s.repo.GetQueueStats(ctx)
}

// RequeueStale recovers jobs left running by a crashed worker.
func (s *Service) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.repo.RequeueStale(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return n, nil
}
