//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/jobs"
	"github.com/bissquit/leadflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const migrationsDir = "../../../migrations"

func TestRepository(t *testing.T) {
	pool := testutil.NewMigratedPool(t, migrationsDir)
	repo := NewRepository(pool)
	ctx := context.Background()

	enqueue := func(t *testing.T, scheduledAt time.Time) *domain.Job {
		t.Helper()
		job := &domain.Job{
			Type:        "embed_document",
			Payload:     map[string]any{"documentId": float64(1)},
			MaxAttempts: 3,
			ScheduledAt: scheduledAt,
		}
		require.NoError(t, repo.Enqueue(ctx, job))
		return job
	}

	t.Run("claim exclusivity", func(t *testing.T) {
		testutil.Truncate(t, pool, "jobs")
		job := enqueue(t, time.Now().Add(-time.Second))

		const callers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed []*domain.Job
		)
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				got, err := repo.ClaimNext(ctx)
				assert.NoError(t, err)
				if got != nil {
					mu.Lock()
					claimed = append(claimed, got)
					mu.Unlock()
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Len(t, claimed, 1)
		assert.Equal(t, job.ID, claimed[0].ID)
		assert.Equal(t, domain.JobStatusRunning, claimed[0].Status)
		assert.Equal(t, 1, claimed[0].Attempts)
		assert.NotNil(t, claimed[0].StartedAt)
		assert.Equal(t, float64(1), claimed[0].Payload["documentId"])
	})

	t.Run("claim skips future and terminal jobs", func(t *testing.T) {
		testutil.Truncate(t, pool, "jobs")
		enqueue(t, time.Now().Add(time.Hour))
		done := enqueue(t, time.Now().Add(-time.Minute))

		claimed, err := repo.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, done.ID, claimed.ID)
		require.NoError(t, repo.MarkCompleted(ctx, claimed.ID, map[string]any{"ok": true}))

		claimed, err = repo.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, claimed)

		got, err := repo.GetJob(ctx, done.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		assert.Equal(t, true, got.Result["ok"])
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("retry schedule through service", func(t *testing.T) {
		testutil.Truncate(t, pool, "jobs")
		svc := jobs.NewService(repo, jobs.ServiceConfig{})

		id, err := svc.Enqueue(ctx, "flaky", nil, jobs.EnqueueOptions{ScheduledAt: time.Now().Add(-time.Second)})
		require.NoError(t, err)

		claimed, err := svc.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)

		before := time.Now()
		retried, err := svc.Fail(ctx, claimed, assert.AnError)
		require.NoError(t, err)
		assert.True(t, retried)

		got, err := repo.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.WithinDuration(t, before.Add(30*time.Second), got.ScheduledAt, 2*time.Second)
		assert.Nil(t, got.CompletedAt)
		assert.Equal(t, assert.AnError.Error(), got.ErrorMessage)
	})

	t.Run("cancel only pending", func(t *testing.T) {
		testutil.Truncate(t, pool, "jobs")
		job := enqueue(t, time.Now().Add(time.Hour))

		require.NoError(t, repo.Cancel(ctx, job.ID))
		assert.ErrorIs(t, repo.Cancel(ctx, job.ID), jobs.ErrJobNotCancellable)
		assert.ErrorIs(t, repo.Cancel(ctx, "00000000-0000-0000-0000-000000000000"), jobs.ErrJobNotFound)
	})

	t.Run("requeue stale", func(t *testing.T) {
		testutil.Truncate(t, pool, "jobs")
		job := enqueue(t, time.Now().Add(-time.Second))
		_, err := repo.ClaimNext(ctx)
		require.NoError(t, err)

		n, err := repo.RequeueStale(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
	})

	t.Run("stats and list", func(t *testing.T) {
		testutil.Truncate(t, pool, "jobs")
		enqueue(t, time.Now())
		enqueue(t, time.Now())

		stats, err := repo.GetQueueStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Pending)

		list, err := repo.ListJobs(ctx, jobs.ListFilter{Status: domain.JobStatusPending, Type: "embed_document", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}
