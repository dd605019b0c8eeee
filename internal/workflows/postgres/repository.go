// Package postgres provides PostgreSQL implementation of the workflows repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/workflows"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const workflowColumns = `
	id, name, trigger, trigger_conditions, steps, status,
	enrolled_count, completed_count, cancelled_count, created_at, updated_at`

const enrollmentColumns = `
	id, workflow_id, entity_id, current_step, next_step_at, status, data,
	enrolled_at, completed_at, claimed_at`

// Repository implements workflows.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateWorkflow creates a new workflow.
func (r *Repository) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	query := `
		INSERT INTO workflows (name, trigger, trigger_conditions, steps, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		wf.Name,
		wf.Trigger,
		wf.TriggerConditions,
		wf.Steps,
		wf.Status,
	).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (r *Repository) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	query := `SELECT` + workflowColumns + ` FROM workflows WHERE id = $1`
	wf, err := scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflows.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows lists workflows, optionally filtered by status.
func (r *Repository) ListWorkflows(ctx context.Context, status domain.WorkflowStatus) ([]domain.Workflow, error) {
	query := `SELECT` + workflowColumns + `
		FROM workflows
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`
	return r.queryWorkflows(ctx, query, string(status))
}

// ListActiveByTrigger lists active workflows with the given trigger.
func (r *Repository) ListActiveByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Workflow, error) {
	query := `SELECT` + workflowColumns + `
		FROM workflows
		WHERE status = 'active' AND trigger = $1
		ORDER BY created_at
	`
	return r.queryWorkflows(ctx, query, trigger)
}

func (r *Repository) queryWorkflows(ctx context.Context, query string, args ...any) ([]domain.Workflow, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Workflow, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		result = append(result, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return result, nil
}

// UpdateWorkflow updates the definition of a workflow.
func (r *Repository) UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	query := `
		UPDATE workflows
		SET name = $2, trigger = $3, trigger_conditions = $4, steps = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		wf.ID,
		wf.Name,
		wf.Trigger,
		wf.TriggerConditions,
		wf.Steps,
	).Scan(&wf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return workflows.ErrWorkflowNotFound
		}
		return fmt.Errorf("update workflow: %w", err)
	}
	return nil
}

// UpdateWorkflowStatus sets the status of a workflow.
func (r *Repository) UpdateWorkflowStatus(ctx context.Context, id string, status domain.WorkflowStatus) error {
	result, err := r.db.Exec(ctx,
		`UPDATE workflows SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return workflows.ErrWorkflowNotFound
	}
	return nil
}

// CreateEnrollment inserts an enrollment unless a live one exists for the
// pair. The partial unique index on live enrollments backs the check.
func (r *Repository) CreateEnrollment(ctx context.Context, e *domain.Enrollment) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO workflow_enrollments (workflow_id, entity_id, current_step, next_step_at, status, data, enrolled_at)
		VALUES ($1, $2, $3, $4, 'active', $5, $6)
		ON CONFLICT (workflow_id, entity_id) WHERE status IN ('active', 'processing') DO NOTHING
		RETURNING id
	`
	err = tx.QueryRow(ctx, query,
		e.WorkflowID,
		e.EntityID,
		e.CurrentStep,
		e.NextStepAt,
		e.Data,
		e.EnrolledAt,
	).Scan(&e.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert enrollment: %w", err)
	}

	if err := incrementCounter(ctx, tx, e.WorkflowID, workflows.CounterEnrolled); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// GetEnrollment retrieves an enrollment by ID.
func (r *Repository) GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error) {
	query := `SELECT` + enrollmentColumns + ` FROM workflow_enrollments WHERE id = $1`
	e, err := scanEnrollment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflows.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

// FindLiveEnrollment returns the active or processing enrollment for the
// pair, or nil.
func (r *Repository) FindLiveEnrollment(ctx context.Context, workflowID, entityID string) (*domain.Enrollment, error) {
	query := `SELECT` + enrollmentColumns + `
		FROM workflow_enrollments
		WHERE workflow_id = $1 AND entity_id = $2 AND status IN ('active', 'processing')
	`
	e, err := scanEnrollment(r.db.QueryRow(ctx, query, workflowID, entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find live enrollment: %w", err)
	}
	return e, nil
}

// ListEnrollments lists enrollments of a workflow, newest first.
func (r *Repository) ListEnrollments(ctx context.Context, workflowID string, status domain.EnrollmentStatus, limit int) ([]domain.Enrollment, error) {
	query := `SELECT` + enrollmentColumns + `
		FROM workflow_enrollments
		WHERE workflow_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY enrolled_at DESC
		LIMIT $3
	`
	return r.queryEnrollments(ctx, query, workflowID, string(status), limit)
}

// ClaimDueEnrollments moves due enrollments to processing. Rows locked by a
// concurrent claim are skipped.
func (r *Repository) ClaimDueEnrollments(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Enrollment, error) {
	query := `
		UPDATE workflow_enrollments
		SET status = 'processing', claimed_at = $1
		WHERE id IN (
			SELECT e.id
			FROM workflow_enrollments e
			JOIN workflows w ON w.id = e.workflow_id
			WHERE w.status = 'active'
			  AND ((e.status = 'active' AND e.next_step_at <= $1)
			    OR (e.status = 'processing' AND e.claimed_at < $2))
			ORDER BY e.next_step_at
			LIMIT $3
			FOR UPDATE OF e SKIP LOCKED
		)
		RETURNING` + enrollmentColumns

	return r.queryEnrollments(ctx, query, now, staleBefore, limit)
}

// SaveProgress returns a claimed enrollment to active. A row reclaimed
// after its lease expired carries a newer claimed_at and is left alone.
func (r *Repository) SaveProgress(ctx context.Context, e *domain.Enrollment) error {
	query := `
		UPDATE workflow_enrollments
		SET status = 'active', current_step = $2, next_step_at = $3, data = $4, claimed_at = NULL
		WHERE id = $1 AND status = 'processing' AND claimed_at = $5
	`
	result, err := r.db.Exec(ctx, query, e.ID, e.CurrentStep, e.NextStepAt, e.Data, e.ClaimedAt)
	if err != nil {
		return fmt.Errorf("save enrollment progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return workflows.ErrClaimLost
	}
	return nil
}

// CompleteEnrollment finishes a claimed enrollment.
func (r *Repository) CompleteEnrollment(ctx context.Context, e *domain.Enrollment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE workflow_enrollments
		SET status = 'completed', current_step = $2, data = $3, completed_at = NOW(), claimed_at = NULL
		WHERE id = $1 AND status = 'processing' AND claimed_at = $4
		RETURNING workflow_id
	`
	var workflowID string
	if err := tx.QueryRow(ctx, query, e.ID, e.CurrentStep, e.Data, e.ClaimedAt).Scan(&workflowID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return workflows.ErrClaimLost
		}
		return fmt.Errorf("complete enrollment: %w", err)
	}

	if err := incrementCounter(ctx, tx, workflowID, workflows.CounterCompleted); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CancelEnrollment cancels a live or paused enrollment.
func (r *Repository) CancelEnrollment(ctx context.Context, id string) (*domain.Enrollment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE workflow_enrollments
		SET status = 'cancelled', completed_at = NOW(), claimed_at = NULL
		WHERE id = $1 AND status IN ('active', 'processing', 'paused')
		RETURNING` + enrollmentColumns

	e, err := scanEnrollment(tx.QueryRow(ctx, query, id))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cancel enrollment: %w", err)
		}
		if _, err := r.GetEnrollment(ctx, id); err != nil {
			return nil, err
		}
		return nil, workflows.ErrEnrollmentNotCancellable
	}

	if err := incrementCounter(ctx, tx, e.WorkflowID, workflows.CounterCancelled); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return e, nil
}

// CreateTemplate creates a new email template.
func (r *Repository) CreateTemplate(ctx context.Context, t *domain.EmailTemplate) error {
	query := `
		INSERT INTO email_templates (name, subject, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, t.Name, t.Subject, t.Body).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// GetTemplate retrieves an email template by ID.
func (r *Repository) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	query := `
		SELECT id, name, subject, body, created_at, updated_at
		FROM email_templates
		WHERE id = $1
	`
	var t domain.EmailTemplate
	err := r.db.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflows.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// ListTemplates lists all email templates.
func (r *Repository) ListTemplates(ctx context.Context) ([]domain.EmailTemplate, error) {
	query := `
		SELECT id, name, subject, body, created_at, updated_at
		FROM email_templates
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]domain.EmailTemplate, 0)
	for rows.Next() {
		var t domain.EmailTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// RecordEmailSend stores the outcome of an email step.
func (r *Repository) RecordEmailSend(ctx context.Context, send *domain.EmailSend) error {
	query := `
		INSERT INTO email_sends (enrollment_id, workflow_id, entity_id, step_index, template_id,
			recipient, subject, body, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		send.EnrollmentID,
		send.WorkflowID,
		send.EntityID,
		send.StepIndex,
		send.TemplateID,
		send.Recipient,
		send.Subject,
		send.Body,
		send.Status,
		send.ErrorMessage,
	).Scan(&send.ID, &send.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert email send: %w", err)
	}
	return nil
}

func (r *Repository) queryEnrollments(ctx context.Context, query string, args ...any) ([]domain.Enrollment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Enrollment, 0)
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return result, nil
}

// incrementCounter bumps one of the denormalized workflow counters.
func incrementCounter(ctx context.Context, tx pgx.Tx, workflowID string, counter workflows.Counter) error {
	var column string
	switch counter {
	case workflows.CounterEnrolled:
		column = "enrolled_count"
	case workflows.CounterCompleted:
		column = "completed_count"
	case workflows.CounterCancelled:
		column = "cancelled_count"
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}

	query := fmt.Sprintf(`UPDATE workflows SET %s = %s + 1 WHERE id = $1`, column, column)
	if _, err := tx.Exec(ctx, query, workflowID); err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.Trigger,
		&wf.TriggerConditions,
		&wf.Steps,
		&wf.Status,
		&wf.Metrics.Enrolled,
		&wf.Metrics.Completed,
		&wf.Metrics.Cancelled,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func scanEnrollment(row pgx.Row) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := row.Scan(
		&e.ID,
		&e.WorkflowID,
		&e.EntityID,
		&e.CurrentStep,
		&e.NextStepAt,
		&e.Status,
		&e.Data,
		&e.EnrolledAt,
		&e.CompletedAt,
		&e.ClaimedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
