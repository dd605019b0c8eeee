// Package postgres provides PostgreSQL implementation of the job store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/jobs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `
	id, type, status, payload, result, COALESCE(error_message, ''), attempts, max_attempts,
	scheduled_at, started_at, completed_at, created_at, updated_at`

// Repository implements jobs.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a new pending job.
func (r *Repository) Enqueue(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (type, status, payload, max_attempts, scheduled_at)
		VALUES ($1, 'pending', $2, $3, $4)
		RETURNING id, status, attempts, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		job.Type,
		job.Payload,
		job.MaxAttempts,
		job.ScheduledAt,
	).Scan(&job.ID, &job.Status, &job.Attempts, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ClaimNext claims the oldest due pending job. Rows locked by a concurrent
// claim are skipped, so two callers never get the same job.
func (r *Repository) ClaimNext(ctx context.Context) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND scheduled_at <= NOW()
			ORDER BY scheduled_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + jobColumns

	job, err := scanJob(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// MarkCompleted marks a running job as completed.
func (r *Repository) MarkCompleted(ctx context.Context, id string, result map[string]any) error {
	query := `
		UPDATE jobs
		SET status = 'completed', result = $2, error_message = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	return r.exec(ctx, "mark completed", query, id, result)
}

// MarkForRetry returns a running job to pending with a new due time.
func (r *Repository) MarkForRetry(ctx context.Context, id string, errMessage string, nextAttempt time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'pending', error_message = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	return r.exec(ctx, "mark for retry", query, id, errMessage, nextAttempt)
}

// MarkFailed marks a job as permanently failed.
func (r *Repository) MarkFailed(ctx context.Context, id string, errMessage string) error {
	query := `
		UPDATE jobs
		SET status = 'failed', error_message = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
	`
	return r.exec(ctx, "mark failed", query, id, errMessage)
}

// Cancel cancels a pending job.
func (r *Repository) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return err
		}
		return jobs.ErrJobNotCancellable
	}
	return nil
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs lists jobs matching the filter, newest first.
func (r *Repository) ListJobs(ctx context.Context, filter jobs.ListFilter) ([]domain.Job, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, "type = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return result, nil
}

// GetQueueStats returns job counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*jobs.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM jobs
	`
	var stats jobs.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.Pending,
		&stats.Running,
		&stats.Completed,
		&stats.Failed,
		&stats.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

// RequeueStale recovers jobs left running past the cutoff.
func (r *Repository) RequeueStale(ctx context.Context, startedBefore time.Time) (int64, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
			error_message = 'abandoned by worker',
			completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE NOW() END,
			scheduled_at = NOW(),
			updated_at = NOW()
		WHERE status = 'running' AND started_at < $1
	`
	result, err := r.db.Exec(ctx, query, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *Repository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&job.Payload,
		&job.Result,
		&job.ErrorMessage,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
