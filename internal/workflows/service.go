package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/render"
	"github.com/google/uuid"
)

// Service manages workflow definitions and email templates.
type Service struct {
	repo     Repository
	renderer *render.Renderer
}

// NewService creates a new workflow service.
func NewService(repo Repository, renderer *render.Renderer) *Service {
	return &Service{repo: repo, renderer: renderer}
}

// WorkflowInput is the editable part of a workflow.
type WorkflowInput struct {
	Name              string
	Trigger           domain.TriggerType
	TriggerConditions map[string]any
	Steps             []domain.WorkflowStep
}

func (s *Service) validate(in WorkflowInput) error {
	if !in.Trigger.IsValid() {
		return ErrInvalidTrigger
	}
	if err := ValidateConditions(in.TriggerConditions); err != nil {
		return err
	}
	steps, err := ParseSteps(in.Steps)
	if err != nil {
		return err
	}
	for i, step := range steps {
		if email, ok := step.(EmailStep); ok && email.TemplateID == "" {
			if err := s.renderer.Validate(email.Subject); err != nil {
				return fmt.Errorf("%w: step %d subject: %v", ErrInvalidSteps, i, err)
			}
			if err := s.renderer.Validate(email.Body); err != nil {
				return fmt.Errorf("%w: step %d body: %v", ErrInvalidSteps, i, err)
			}
		}
	}
	return nil
}

func normalizeSteps(steps []domain.WorkflowStep) []domain.WorkflowStep {
	out := make([]domain.WorkflowStep, len(steps))
	for i, st := range steps {
		st.StepNumber = i
		if st.Config == nil {
			st.Config = map[string]any{}
		}
		out[i] = st
	}
	return out
}

// CreateWorkflow creates a draft workflow.
func (s *Service) CreateWorkflow(ctx context.Context, in WorkflowInput) (*domain.Workflow, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	wf := &domain.Workflow{
		Name:              in.Name,
		Trigger:           in.Trigger,
		TriggerConditions: in.TriggerConditions,
		Steps:             normalizeSteps(in.Steps),
		Status:            domain.WorkflowStatusDraft,
	}
	if wf.TriggerConditions == nil {
		wf.TriggerConditions = map[string]any{}
	}

	if err := s.repo.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return wf, nil
}

// GetWorkflow returns a workflow by ID.
func (s *Service) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrWorkflowNotFound
	}
	return s.repo.GetWorkflow(ctx, id)
}

// ListWorkflows lists workflows, optionally filtered by status.
func (s *Service) ListWorkflows(ctx context.Context, status domain.WorkflowStatus) ([]domain.Workflow, error) {
	return s.repo.ListWorkflows(ctx, status)
}

// UpdateWorkflow replaces the definition of a draft or paused workflow.
func (s *Service) UpdateWorkflow(ctx context.Context, id string, in WorkflowInput) (*domain.Workflow, error) {
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != domain.WorkflowStatusDraft && wf.Status != domain.WorkflowStatusPaused {
		return nil, ErrWorkflowNotEditable
	}
	if err := s.validate(in); err != nil {
		return nil, err
	}

	wf.Name = in.Name
	wf.Trigger = in.Trigger
	wf.TriggerConditions = in.TriggerConditions
	if wf.TriggerConditions == nil {
		wf.TriggerConditions = map[string]any{}
	}
	wf.Steps = normalizeSteps(in.Steps)

	if err := s.repo.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	return wf, nil
}

// SetStatus moves a workflow to a new status.
func (s *Service) SetStatus(ctx context.Context, id string, status domain.WorkflowStatus) (*domain.Workflow, error) {
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wf.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, wf.Status, status)
	}

	if err := s.repo.UpdateWorkflowStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("update workflow status: %w", err)
	}

	slog.Info("workflow status changed", "workflow_id", id, "from", wf.Status, "to", status)
	wf.Status = status
	return wf, nil
}

// ListEnrollments lists enrollments of a workflow, newest first.
func (s *Service) ListEnrollments(ctx context.Context, workflowID string, status domain.EnrollmentStatus, limit int) ([]domain.Enrollment, error) {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListEnrollments(ctx, workflowID, status, limit)
}

// GetEnrollment returns an enrollment by ID.
func (s *Service) GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrEnrollmentNotFound
	}
	return s.repo.GetEnrollment(ctx, id)
}

// CreateTemplate stores an email template after checking it parses.
func (s *Service) CreateTemplate(ctx context.Context, name, subject, body string) (*domain.EmailTemplate, error) {
	if err := s.renderer.Validate(subject); err != nil {
		return nil, fmt.Errorf("%w: subject: %v", ErrInvalidTemplate, err)
	}
	if err := s.renderer.Validate(body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrInvalidTemplate, err)
	}

	t := &domain.EmailTemplate{Name: name, Subject: subject, Body: body}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

// GetTemplate returns an email template by ID.
func (s *Service) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrTemplateNotFound
	}
	return s.repo.GetTemplate(ctx, id)
}

// ListTemplates lists all email templates.
func (s *Service) ListTemplates(ctx context.Context) ([]domain.EmailTemplate, error) {
	return s.repo.ListTemplates(ctx)
}
