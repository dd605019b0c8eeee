// Package workflows implements trigger matching, enrollment and step
// execution for automation workflows.
package workflows

import (
	"context"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
)

// Counter names a denormalized workflow metric.
type Counter string

// Workflow counters.
const (
	CounterEnrolled  Counter = "enrolled"
	CounterCompleted Counter = "completed"
	CounterCancelled Counter = "cancelled"
)

// Repository defines the data access interface for workflows.
type Repository interface {
	CreateWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context, status domain.WorkflowStatus) ([]domain.Workflow, error)
	ListActiveByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error
	UpdateWorkflowStatus(ctx context.Context, id string, status domain.WorkflowStatus) error

	// CreateEnrollment inserts an active enrollment unless a live one
	// (active or processing) already exists for the pair. Reports whether a
	// row was inserted and bumps the enrolled counter when it was.
	CreateEnrollment(ctx context.Context, e *domain.Enrollment) (bool, error)
	GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error)
	FindLiveEnrollment(ctx context.Context, workflowID, entityID string) (*domain.Enrollment, error)
	ListEnrollments(ctx context.Context, workflowID string, status domain.EnrollmentStatus, limit int) ([]domain.Enrollment, error)

	// ClaimDueEnrollments atomically moves up to limit due active
	// enrollments of active workflows to processing. Processing rows
	// claimed before staleBefore are claimed again.
	ClaimDueEnrollments(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Enrollment, error)

	// SaveProgress returns a claimed enrollment to active at its
	// CurrentStep and NextStepAt. Returns ErrClaimLost when the row is no
	// longer processing under the claim recorded in e.ClaimedAt.
	SaveProgress(ctx context.Context, e *domain.Enrollment) error

	// CompleteEnrollment finishes a claimed enrollment at its CurrentStep
	// and bumps the completed counter. Returns ErrClaimLost like
	// SaveProgress.
	CompleteEnrollment(ctx context.Context, e *domain.Enrollment) error

	// CancelEnrollment cancels a live or paused enrollment and bumps the
	// cancelled counter.
	CancelEnrollment(ctx context.Context, id string) (*domain.Enrollment, error)

	CreateTemplate(ctx context.Context, t *domain.EmailTemplate) error
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	ListTemplates(ctx context.Context) ([]domain.EmailTemplate, error)
	RecordEmailSend(ctx context.Context, send *domain.EmailSend) error
}
