package domain

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

// Campaign statuses.
const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// IsTerminal reports whether the campaign can no longer change state.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

// Channel is an outreach delivery channel.
type Channel string

// Channels.
const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
)

// SequenceStep is one message in a campaign sequence.
type SequenceStep struct {
	StepNumber   int     `json:"stepNumber" validate:"gte=0"`
	Channel      Channel `json:"channel,omitempty" validate:"omitempty,oneof=email linkedin"`
	DelayDays    int     `json:"delayDays" validate:"gte=0"`
	Subject      string  `json:"subject,omitempty"`
	TemplateBody string  `json:"templateBody" validate:"required"`
}

// CampaignSettings constrains when and how fast messages are sent.
type CampaignSettings struct {
	DailyLimit      int    `json:"dailyLimit" validate:"gt=0"`
	SendWindowStart string `json:"sendWindowStart" validate:"required,datetime=15:04"`
	SendWindowEnd   string `json:"sendWindowEnd" validate:"required,datetime=15:04"`
	Timezone        string `json:"timezone" validate:"required,timezone"`
	SkipWeekends    bool   `json:"skipWeekends"`
}

// DefaultCampaignSettings returns settings used when a campaign omits them.
func DefaultCampaignSettings() CampaignSettings {
	return CampaignSettings{
		DailyLimit:      50,
		SendWindowStart: "09:00",
		SendWindowEnd:   "17:00",
		Timezone:        "UTC",
		SkipWeekends:    true,
	}
}

// CampaignMetrics holds aggregated message counts.
type CampaignMetrics struct {
	Total     int `json:"total"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
	Replied   int `json:"replied"`
	Bounced   int `json:"bounced"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Campaign is an outreach run over a lead audience.
type Campaign struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Channel       Channel          `json:"channel"`
	Status        CampaignStatus   `json:"status"`
	ListID        string           `json:"list_id,omitempty"`
	SequenceSteps []SequenceStep   `json:"sequence_steps"`
	Settings      CampaignSettings `json:"settings"`
	Metrics       CampaignMetrics  `json:"metrics"`
	ScheduledAt   *time.Time       `json:"scheduled_at,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Lead is one audience member with the attributes used for personalization.
type Lead struct {
	ID   string         `json:"id" validate:"required"`
	Data map[string]any `json:"data"`
}
