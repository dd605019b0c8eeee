package workflows

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// EngineConfig contains engine configuration.
type EngineConfig struct {
	// ClaimLease is how long an enrollment may stay processing before
	// another worker may claim it again.
	ClaimLease time.Duration
	// RetryDelay postpones an enrollment whose workflow could not be loaded.
	RetryDelay time.Duration
}

// Engine owns enrollment state: it creates enrollments and advances them
// through their workflow's steps.
type Engine struct {
	repo     Repository
	matcher  *Matcher
	executor *Executor
	config   EngineConfig
	now      func() time.Time
}

// NewEngine creates a workflow engine.
func NewEngine(repo Repository, executor *Executor, config EngineConfig) *Engine {
	if config.ClaimLease <= 0 {
		config.ClaimLease = 5 * time.Minute
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Minute
	}
	return &Engine{
		repo:     repo,
		matcher:  NewMatcher(repo),
		executor: executor,
		config:   config,
		now:      time.Now,
	}
}

// Enroll starts entityID on the workflow. When the entity already has a live
// enrollment in it, Enroll does nothing and returns nil. Leading wait steps
// are folded into the first due time.
func (e *Engine) Enroll(ctx context.Context, workflowID, entityID string, data map[string]any) (*domain.Enrollment, error) {
	if entityID == "" {
		return nil, ErrEmptyEntityID
	}
	if uuid.Validate(workflowID) != nil {
		return nil, ErrWorkflowNotFound
	}

	wf, err := e.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != domain.WorkflowStatusActive {
		return nil, ErrWorkflowNotActive
	}
	steps, err := ParseSteps(wf.Steps)
	if err != nil {
		return nil, err
	}

	existing, err := e.repo.FindLiveEnrollment(ctx, workflowID, entityID)
	if err != nil {
		return nil, fmt.Errorf("check existing enrollment: %w", err)
	}
	if existing != nil {
		ctxlog.FromContext(ctx).Debug("entity already enrolled",
			"workflow_id", workflowID,
			"entity_id", entityID,
			"enrollment_id", existing.ID,
		)
		return nil, nil
	}

	now := e.now()
	current, nextAt := position(steps, 0, now)

	enrollment := &domain.Enrollment{
		WorkflowID:  workflowID,
		EntityID:    entityID,
		CurrentStep: current,
		NextStepAt:  nextAt,
		Status:      domain.EnrollmentStatusActive,
		Data:        copyData(data),
		EnrolledAt:  now,
	}

	created, err := e.repo.CreateEnrollment(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	if !created {
		return nil, nil
	}

	recordEnrollment("enrolled")
	ctxlog.FromContext(ctx).Info("entity enrolled",
		"workflow_id", workflowID,
		"entity_id", entityID,
		"enrollment_id", enrollment.ID,
		"next_step_at", nextAt,
	)
	return enrollment, nil
}

// HandleEvent enrolls the event's entity into every matching workflow and
// returns the enrollments created.
func (e *Engine) HandleEvent(ctx context.Context, event domain.BusinessEvent) ([]domain.Enrollment, error) {
	if !event.Type.IsValid() {
		return nil, ErrInvalidTrigger
	}
	if event.EntityID == "" {
		return nil, ErrEmptyEntityID
	}

	ids, err := e.matcher.Match(ctx, event)
	if err != nil {
		return nil, err
	}

	created := make([]domain.Enrollment, 0, len(ids))
	var errs []error
	for _, id := range ids {
		enrollment, err := e.Enroll(ctx, id, event.EntityID, event.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("enroll into %s: %w", id, err))
			continue
		}
		if enrollment != nil {
			created = append(created, *enrollment)
		}
	}
	return created, errors.Join(errs...)
}

// ProcessDue claims up to batchSize due enrollments, executes their current
// step and advances them. Returns the number claimed. Once ctx is done the
// rest of the batch is released unexecuted.
func (e *Engine) ProcessDue(ctx context.Context, batchSize int) (int, error) {
	now := e.now()
	claimed, err := e.repo.ClaimDueEnrollments(ctx, now, now.Add(-e.config.ClaimLease), batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due enrollments: %w", err)
	}
	enrollmentsClaimed.Add(float64(len(claimed)))

	cache := make(map[string]*loadedWorkflow)
	for i := range claimed {
		if ctx.Err() != nil {
			e.release(ctx, claimed[i:])
			break
		}
		e.advance(ctx, cache, &claimed[i])
	}
	return len(claimed), nil
}

// release hands claimed enrollments back untouched so the next poll picks
// them up without waiting for the lease to run out.
func (e *Engine) release(ctx context.Context, claimed []domain.Enrollment) {
	wctx, cancel := writeBackContext(ctx)
	defer cancel()
	for i := range claimed {
		if err := e.repo.SaveProgress(wctx, &claimed[i]); err != nil && !errors.Is(err, ErrClaimLost) {
			ctxlog.FromContext(ctx).Error("failed to release enrollment", "enrollment_id", claimed[i].ID, "error", err)
		}
	}
}

// writeBackContext detaches a step's outcome write from ctx cancellation: a
// step that already ran must be recorded or it runs again.
func writeBackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
}

const writeBackTimeout = 10 * time.Second

type loadedWorkflow struct {
	workflow *domain.Workflow
	steps    []Step
}

func (e *Engine) load(ctx context.Context, cache map[string]*loadedWorkflow, id string) (*loadedWorkflow, error) {
	if lw, ok := cache[id]; ok {
		return lw, nil
	}
	wf, err := e.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := ParseSteps(wf.Steps)
	if err != nil {
		return nil, err
	}
	lw := &loadedWorkflow{workflow: wf, steps: steps}
	cache[id] = lw
	return lw, nil
}

func (e *Engine) advance(ctx context.Context, cache map[string]*loadedWorkflow, enr *domain.Enrollment) {
	ctx, logger := ctxlog.With(ctx,
		"enrollment_id", enr.ID,
		"workflow_id", enr.WorkflowID,
		"entity_id", enr.EntityID,
		"step", enr.CurrentStep,
	)

	lw, err := e.load(ctx, cache, enr.WorkflowID)
	if err != nil {
		logger.Error("failed to load workflow, postponing", "error", err)
		enr.NextStepAt = e.now().Add(e.config.RetryDelay)
		wctx, cancel := writeBackContext(ctx)
		defer cancel()
		if err := e.repo.SaveProgress(wctx, enr); err != nil {
			logger.Error("failed to release enrollment", "error", err)
		}
		return
	}

	next := outcome{next: enr.CurrentStep}
	if enr.CurrentStep < len(lw.steps) {
		next = e.executor.Execute(ctx, lw.workflow, enr, enr.CurrentStep, lw.steps[enr.CurrentStep])
	}

	now := e.now()
	enr.CurrentStep, enr.NextStepAt = position(lw.steps, next.next, now.Add(next.delay))

	wctx, cancel := writeBackContext(ctx)
	defer cancel()
	if enr.CurrentStep >= len(lw.steps) && !enr.NextStepAt.After(now) {
		err = e.repo.CompleteEnrollment(wctx, enr)
		if err == nil {
			recordEnrollment("completed")
			logger.Info("enrollment completed")
		}
	} else {
		err = e.repo.SaveProgress(wctx, enr)
	}

	switch {
	case errors.Is(err, ErrClaimLost):
		logger.Info("enrollment changed while its step ran, result discarded")
	case err != nil:
		logger.Error("failed to save enrollment progress", "error", err)
	}
}

// Cancel cancels an enrollment regardless of its current step. A step
// already running for it finishes, but its result is discarded.
func (e *Engine) Cancel(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	if uuid.Validate(enrollmentID) != nil {
		return nil, ErrEnrollmentNotFound
	}
	enrollment, err := e.repo.CancelEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	recordEnrollment("cancelled")
	ctxlog.FromContext(ctx).Info("enrollment cancelled", "enrollment_id", enrollmentID, "workflow_id", enrollment.WorkflowID)
	return enrollment, nil
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	maps.Copy(out, data)
	return out
}
