// Package jobs provides the durable job queue and the worker loop draining it.
package jobs

import (
	"context"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
)

// Repository defines the job store.
type Repository interface {
	// Enqueue inserts a pending job and fills in ID and timestamps.
	Enqueue(ctx context.Context, job *domain.Job) error

	// ClaimNext atomically moves the oldest due pending job to running,
	// increments its attempts and stamps started_at. Returns nil, nil when
	// nothing is due. Concurrent callers never receive the same job.
	ClaimNext(ctx context.Context) (*domain.Job, error)

	MarkCompleted(ctx context.Context, id string, result map[string]any) error
	MarkForRetry(ctx context.Context, id string, errMessage string, nextAttempt time.Time) error
	MarkFailed(ctx context.Context, id string, errMessage string) error
	Cancel(ctx context.Context, id string) error

	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]domain.Job, error)
	GetQueueStats(ctx context.Context) (*QueueStats, error)

	// RequeueStale returns running jobs started before the cutoff to pending,
	// or to failed when they have no attempts left.
	RequeueStale(ctx context.Context, startedBefore time.Time) (int64, error)
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	Status domain.JobStatus
	Type   string
	Limit  int
}

// QueueStats contains job counts by status.
type QueueStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}
