package domain

import "time"

// MessageStatus represents the delivery state of a scheduled message.
type MessageStatus string

// Message statuses, in forward order.
const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusScheduled MessageStatus = "scheduled"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusOpened    MessageStatus = "opened"
	MessageStatusClicked   MessageStatus = "clicked"
	MessageStatusReplied   MessageStatus = "replied"
	MessageStatusBounced   MessageStatus = "bounced"
	MessageStatusFailed    MessageStatus = "failed"
)

var messageRank = map[MessageStatus]int{
	MessageStatusPending:   0,
	MessageStatusScheduled: 1,
	MessageStatusSent:      2,
	MessageStatusDelivered: 3,
	MessageStatusOpened:    4,
	MessageStatusClicked:   5,
	MessageStatusReplied:   6,
}

// IsValid checks if the message status is valid.
func (s MessageStatus) IsValid() bool {
	_, ok := messageRank[s]
	return ok || s == MessageStatusBounced || s == MessageStatusFailed
}

// IsOutstanding reports whether the message has not been attempted yet.
func (s MessageStatus) IsOutstanding() bool {
	return s == MessageStatusPending || s == MessageStatusScheduled
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// Bounced and failed are absorbing. A failure is only possible before the
// provider accepted the message; a bounce only before any engagement.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s == MessageStatusBounced || s == MessageStatusFailed {
		return false
	}
	switch next {
	case MessageStatusFailed:
		return s.IsOutstanding()
	case MessageStatusBounced:
		return messageRank[s] <= messageRank[MessageStatusDelivered]
	}
	nextRank, ok := messageRank[next]
	if !ok {
		return false
	}
	return nextRank > messageRank[s]
}

// ScheduledMessage is one send attempt for one (campaign, lead, step).
type ScheduledMessage struct {
	ID                string         `json:"id"`
	CampaignID        string         `json:"campaign_id"`
	EntityID          string         `json:"entity_id"`
	EntityData        map[string]any `json:"entity_data,omitempty"`
	StepNumber        int            `json:"step_number"`
	Channel           Channel        `json:"channel"`
	Status            MessageStatus  `json:"status"`
	Subject           string         `json:"subject,omitempty"`
	TemplateBody      string         `json:"template_body"`
	PersonalizedBody  string         `json:"personalized_body,omitempty"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ScheduledAt       time.Time      `json:"scheduled_at"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time     `json:"opened_at,omitempty"`
	ClickedAt         *time.Time     `json:"clicked_at,omitempty"`
	RepliedAt         *time.Time     `json:"replied_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
