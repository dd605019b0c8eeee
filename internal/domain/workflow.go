package domain

import "time"

// TriggerType is a business event type that can start a workflow.
type TriggerType string

// Trigger types.
const (
	TriggerLeadCreated      TriggerType = "lead_created"
	TriggerLeadUpdated      TriggerType = "lead_updated"
	TriggerQuizCompleted    TriggerType = "quiz_completed"
	TriggerFormSubmitted    TriggerType = "form_submitted"
	TriggerDealStageChanged TriggerType = "deal_stage_changed"
	TriggerDealClosedWon    TriggerType = "deal_closed_won"
	TriggerDealClosedLost   TriggerType = "deal_closed_lost"
	TriggerManual           TriggerType = "manual"
)

// IsValid checks if the trigger type is valid.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerLeadCreated, TriggerLeadUpdated, TriggerQuizCompleted, TriggerFormSubmitted,
		TriggerDealStageChanged, TriggerDealClosedWon, TriggerDealClosedLost, TriggerManual:
		return true
	}
	return false
}

// WorkflowStatus represents the status of a workflow definition.
type WorkflowStatus string

// Workflow statuses.
const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// IsValid checks if the workflow status is valid.
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused, WorkflowStatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether a workflow may move from s to next.
// Archived is absorbing; draft can only be activated or archived.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case WorkflowStatusDraft:
		return next == WorkflowStatusActive || next == WorkflowStatusArchived
	case WorkflowStatusActive:
		return next == WorkflowStatusPaused || next == WorkflowStatusArchived
	case WorkflowStatusPaused:
		return next == WorkflowStatusActive || next == WorkflowStatusArchived
	}
	return false
}

// StepType identifies the kind of a workflow step.
type StepType string

// Step types.
const (
	StepTypeEmail     StepType = "email"
	StepTypeWait      StepType = "wait"
	StepTypeCondition StepType = "condition"
	StepTypeTag       StepType = "tag"
	StepTypeWebhook   StepType = "webhook"
	StepTypeNotify    StepType = "notify"
)

// WorkflowStep is the stored form of a step. Position in Workflow.Steps is
// authoritative; StepNumber is informational.
type WorkflowStep struct {
	StepNumber int            `json:"stepNumber"`
	Type       StepType       `json:"type"`
	Config     map[string]any `json:"config"`
}

// WorkflowMetrics holds denormalized counters for a workflow.
type WorkflowMetrics struct {
	Enrolled  int `json:"enrolled"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}

// Workflow is a reusable, trigger-activated sequence of steps.
type Workflow struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Trigger           TriggerType     `json:"trigger"`
	TriggerConditions map[string]any  `json:"trigger_conditions"`
	Steps             []WorkflowStep  `json:"steps"`
	Status            WorkflowStatus  `json:"status"`
	Metrics           WorkflowMetrics `json:"metrics"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// BusinessEvent is an external occurrence that may start workflows.
type BusinessEvent struct {
	Type     TriggerType    `json:"type"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data"`
}
