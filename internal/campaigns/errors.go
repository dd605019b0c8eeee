package campaigns

import "errors"

// Repository errors.
var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrMessageNotFound  = errors.New("message not found")
	// ErrMessageChanged is returned by a guarded message update when the
	// row no longer has the expected status.
	ErrMessageChanged = errors.New("message status changed concurrently")
)

// Validation errors.
var (
	ErrInvalidTransition = errors.New("invalid campaign status transition")
	ErrEmptyAudience     = errors.New("campaign audience is empty")
	ErrNoSteps           = errors.New("campaign has no sequence steps")
	ErrInvalidSettings   = errors.New("invalid campaign settings")
	ErrUnknownProvider   = errors.New("unknown delivery provider")
)
