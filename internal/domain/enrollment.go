package domain

import "time"

// EnrollmentStatus represents the status of an enrollment.
type EnrollmentStatus string

// Enrollment statuses. Processing marks a row claimed by a worker while
// its current step executes; it counts as active for uniqueness.
const (
	EnrollmentStatusActive     EnrollmentStatus = "active"
	EnrollmentStatusProcessing EnrollmentStatus = "processing"
	EnrollmentStatusCompleted  EnrollmentStatus = "completed"
	EnrollmentStatusPaused     EnrollmentStatus = "paused"
	EnrollmentStatusCancelled  EnrollmentStatus = "cancelled"
)

// IsTerminal reports whether the enrollment will never advance again.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusCancelled
}

// Enrollment is one entity's progress through one workflow.
type Enrollment struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	EntityID    string           `json:"entity_id"`
	CurrentStep int              `json:"current_step"`
	NextStepAt  time.Time        `json:"next_step_at"`
	Status      EnrollmentStatus `json:"status"`
	Data        map[string]any   `json:"data"`
	EnrolledAt  time.Time        `json:"enrolled_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ClaimedAt   *time.Time       `json:"-"`
}

// EmailSend records one email produced by a workflow step.
type EmailSend struct {
	ID           string    `json:"id"`
	EnrollmentID string    `json:"enrollment_id"`
	WorkflowID   string    `json:"workflow_id"`
	EntityID     string    `json:"entity_id"`
	StepIndex    int       `json:"step_index"`
	TemplateID   *string   `json:"template_id,omitempty"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EmailTemplate is a stored subject/body pair rendered against entity data.
type EmailTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
