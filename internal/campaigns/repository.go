// Package campaigns drives outreach campaigns through their lifecycle,
// dispatches their scheduled messages and folds provider callbacks back into
// message status and campaign metrics.
package campaigns

import (
	"context"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
)

// Repository defines the data access interface for campaigns and their
// messages.
type Repository interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)

	// ScheduleCampaign moves a draft campaign to scheduled and inserts its
	// messages in one transaction. Returns ErrInvalidTransition when the
	// campaign is no longer a draft.
	ScheduleCampaign(ctx context.Context, id string, scheduledAt time.Time, messages []domain.ScheduledMessage) (int, error)

	// TransitionCampaign moves a campaign whose status is one of from to
	// status to, stamping started_at or completed_at as appropriate.
	TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (*domain.Campaign, error)

	// CancelCampaign cancels a campaign and fails its outstanding messages.
	// Returns the number of messages failed.
	CancelCampaign(ctx context.Context, id string, reason string) (*domain.Campaign, int, error)

	// CompleteIfDrained completes a running campaign that has no pending or
	// scheduled messages left. Reports whether it did.
	CompleteIfDrained(ctx context.Context, id string) (bool, error)

	CountMessagesByStatus(ctx context.Context, campaignID string) (map[domain.MessageStatus]int, error)
	SaveMetrics(ctx context.Context, id string, metrics domain.CampaignMetrics) error

	ListMessages(ctx context.Context, campaignID string, status domain.MessageStatus, limit int) ([]domain.ScheduledMessage, error)
	GetMessageByExternalID(ctx context.Context, externalID string) (*domain.ScheduledMessage, error)

	// ClaimDueMessages leases up to limit due scheduled messages of running
	// campaigns by pushing their scheduled_at to leaseUntil. An empty
	// campaignID claims across all campaigns.
	ClaimDueMessages(ctx context.Context, now, leaseUntil time.Time, campaignID string, limit int) ([]domain.ScheduledMessage, error)

	// MarkMessageSent records a successful send of a scheduled message.
	MarkMessageSent(ctx context.Context, id, personalizedBody, externalID string, sentAt time.Time) error

	// MarkMessageFailed fails an outstanding message.
	MarkMessageFailed(ctx context.Context, id, reason string) error

	// AdvanceMessage moves a message from status from to status to and
	// stamps the matching timestamp. Returns ErrMessageChanged when the
	// message is no longer at from.
	AdvanceMessage(ctx context.Context, id string, from, to domain.MessageStatus, at time.Time) error
}
