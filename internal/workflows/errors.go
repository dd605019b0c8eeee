package workflows

import "errors"

// Repository errors.
var (
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrTemplateNotFound   = errors.New("email template not found")
	// ErrClaimLost is returned by a guarded write-back when the enrollment
	// left processing while its step ran, e.g. it was cancelled.
	ErrClaimLost = errors.New("enrollment is no longer claimed")
)

// Validation errors.
var (
	ErrInvalidTrigger           = errors.New("invalid trigger type")
	ErrInvalidSteps             = errors.New("invalid workflow steps")
	ErrInvalidConditions        = errors.New("invalid trigger conditions")
	ErrInvalidTemplate          = errors.New("invalid email template")
	ErrInvalidTransition        = errors.New("invalid workflow status transition")
	ErrWorkflowNotEditable      = errors.New("only draft or paused workflows can be edited")
	ErrWorkflowNotActive        = errors.New("workflow is not active")
	ErrEnrollmentNotCancellable = errors.New("enrollment is already finished")
	ErrEmptyEntityID            = errors.New("entity id is required")
)

// ErrNoRecipient is recorded on an email send when the entity data has no
// email address.
var ErrNoRecipient = errors.New("entity has no email address")
