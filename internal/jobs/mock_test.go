package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/google/uuid"
)

// memoryRepository is an in-memory Repository driven by a controllable clock.
type memoryRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  time.Time
}

func newMemoryRepository(now time.Time) *memoryRepository {
	return &memoryRepository{jobs: make(map[string]*domain.Job), now: now}
}

func (m *memoryRepository) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *memoryRepository) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *memoryRepository) Enqueue(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = uuid.NewString()
	job.Status = domain.JobStatusPending
	job.CreatedAt = m.now
	job.UpdatedAt = m.now
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *memoryRepository) ClaimNext(_ context.Context) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Job
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusPending && !j.ScheduledAt.After(m.now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(a, b int) bool {
		return due[a].ScheduledAt.Before(due[b].ScheduledAt)
	})

	j := due[0]
	started := m.now
	j.Status = domain.JobStatusRunning
	j.Attempts++
	j.StartedAt = &started
	claimed := *j
	return &claimed, nil
}

func (m *memoryRepository) MarkCompleted(ctx context.Context, id string, result map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobStatusRunning {
		return ErrJobNotFound
	}
	completed := m.now
	j.Status = domain.JobStatusCompleted
	j.Result = result
	j.CompletedAt = &completed
	return nil
}

func (m *memoryRepository) MarkForRetry(ctx context.Context, id string, errMessage string, nextAttempt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobStatusRunning {
		return ErrJobNotFound
	}
	j.Status = domain.JobStatusPending
	j.ErrorMessage = errMessage
	j.ScheduledAt = nextAttempt
	return nil
}

func (m *memoryRepository) MarkFailed(ctx context.Context, id string, errMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	completed := m.now
	j.Status = domain.JobStatusFailed
	j.ErrorMessage = errMessage
	j.CompletedAt = &completed
	return nil
}

func (m *memoryRepository) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != domain.JobStatusPending {
		return ErrJobNotCancellable
	}
	j.Status = domain.JobStatusCancelled
	return nil
}

func (m *memoryRepository) GetJob(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	job := *j
	return &job, nil
}

func (m *memoryRepository) ListJobs(_ context.Context, filter ListFilter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.Job, 0)
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		result = append(result, *j)
	}
	if len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *memoryRepository) GetQueueStats(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats QueueStats
	for _, j := range m.jobs {
		switch j.Status {
		case domain.JobStatusPending:
			stats.Pending++
		case domain.JobStatusRunning:
			stats.Running++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return &stats, nil
}

func (m *memoryRepository) RequeueStale(_ context.Context, startedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status != domain.JobStatusRunning || j.StartedAt == nil || !j.StartedAt.Before(startedBefore) {
			continue
		}
		if j.Attempts < j.MaxAttempts {
			j.Status = domain.JobStatusPending
			j.ScheduledAt = m.now
		} else {
			j.Status = domain.JobStatusFailed
		}
		n++
	}
	return n, nil
}

// newTestQueue wires a Service, Registry and Worker over a memory repository
// sharing one clock.
func newTestQueue(t0 time.Time) (*memoryRepository, *Service, *Registry, *Worker) {
	repo := newMemoryRepository(t0)
	svc := NewService(repo, ServiceConfig{})
	svc.now = repo.clock
	registry := NewRegistry()
	worker := NewWorker(WorkerConfig{HandlerTimeout: time.Second}, svc, registry)
	return repo, svc, registry, worker
}
