package campaigns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/outreach"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// cancelReason is recorded on messages failed by a campaign cancellation.
const cancelReason = "Campaign cancelled"

// Service implements the campaign lifecycle.
type Service struct {
	repo      Repository
	scheduler *outreach.Scheduler
	validate  *validator.Validate
	now       func() time.Time
}

// NewService creates a new campaign service.
func NewService(repo Repository, scheduler *outreach.Scheduler) *Service {
	return &Service{
		repo:      repo,
		scheduler: scheduler,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// CampaignInput is the editable part of a campaign.
type CampaignInput struct {
	Name          string
	Channel       domain.Channel
	ListID        string
	SequenceSteps []domain.SequenceStep
	Settings      *domain.CampaignSettings
}

// CreateCampaign creates a draft campaign. Missing settings fall back to
// domain.DefaultCampaignSettings.
func (s *Service) CreateCampaign(ctx context.Context, in CampaignInput) (*domain.Campaign, error) {
	settings := domain.DefaultCampaignSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}
	if err := s.validateSettings(settings); err != nil {
		return nil, err
	}

	steps := make([]domain.SequenceStep, len(in.SequenceSteps))
	for i, st := range in.SequenceSteps {
		st.StepNumber = i
		if st.Channel == "" {
			st.Channel = in.Channel
		}
		steps[i] = st
	}

	c := &domain.Campaign{
		Name:          in.Name,
		Channel:       in.Channel,
		Status:        domain.CampaignStatusDraft,
		ListID:        in.ListID,
		SequenceSteps: steps,
		Settings:      settings,
	}
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

func (s *Service) validateSettings(settings domain.CampaignSettings) error {
	if err := s.validate.Struct(settings); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if _, err := outreach.ParseWindow(settings.SendWindowStart, settings.SendWindowEnd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// GetCampaign returns a campaign by ID.
func (s *Service) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrCampaignNotFound
	}
	return s.repo.GetCampaign(ctx, id)
}

// ListCampaigns lists campaigns, optionally filtered by status.
func (s *Service) ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	return s.repo.ListCampaigns(ctx, status)
}

// ListMessages lists the messages of a campaign.
func (s *Service) ListMessages(ctx context.Context, campaignID string, status domain.MessageStatus, limit int) ([]domain.ScheduledMessage, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return s.repo.ListMessages(ctx, campaignID, status, limit)
}

// Schedule materializes one message per (lead, step) and moves the draft
// campaign to scheduled. scheduledAt defaults to now. Nothing is written
// when validation fails.
func (s *Service) Schedule(ctx context.Context, id string, leads []domain.Lead, scheduledAt *time.Time) (*domain.Campaign, int, error) {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if c.Status != domain.CampaignStatusDraft {
		return nil, 0, fmt.Errorf("%w: schedule from %s", ErrInvalidTransition, c.Status)
	}
	if len(leads) == 0 {
		return nil, 0, ErrEmptyAudience
	}
	if len(c.SequenceSteps) == 0 {
		return nil, 0, ErrNoSteps
	}

	at := s.now()
	if scheduledAt != nil {
		at = *scheduledAt
	}
	c.ScheduledAt = &at

	messages, err := s.scheduler.Materialize(c, leads)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	count, err := s.repo.ScheduleCampaign(ctx, id, at, messages)
	if err != nil {
		return nil, 0, err
	}

	slog.Info("campaign scheduled",
		"campaign_id", id,
		"leads", len(leads),
		"messages", count,
		"scheduled_at", at,
	)

	c.Status = domain.CampaignStatusScheduled
	c.Metrics = domain.CampaignMetrics{Total: count, Pending: count}
	if err := s.repo.SaveMetrics(ctx, id, c.Metrics); err != nil {
		slog.Warn("failed to save initial campaign metrics", "campaign_id", id, "error", err)
	}
	return c, count, nil
}

// Start starts a scheduled campaign or resumes a paused one.
func (s *Service) Start(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.transition(ctx, id, domain.CampaignStatusRunning,
		domain.CampaignStatusScheduled, domain.CampaignStatusPaused)
}

// Pause pauses a running campaign. Its due messages stay scheduled and are
// not dispatched until it is resumed.
func (s *Service) Pause(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.transition(ctx, id, domain.CampaignStatusPaused, domain.CampaignStatusRunning)
}

func (s *Service) transition(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) (*domain.Campaign, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrCampaignNotFound
	}
	c, err := s.repo.TransitionCampaign(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	slog.Info("campaign status changed", "campaign_id", id, "status", to)
	return c, nil
}

// Cancel cancels a campaign that is not finished and fails its pending and
// scheduled messages.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrCampaignNotFound
	}
	c, failed, err := s.repo.CancelCampaign(ctx, id, cancelReason)
	if err != nil {
		return nil, err
	}
	slog.Info("campaign cancelled", "campaign_id", id, "messages_failed", failed)

	if metrics, err := s.saveRollup(ctx, id); err != nil {
		slog.Warn("failed to refresh cancelled campaign metrics", "campaign_id", id, "error", err)
	} else {
		c.Metrics = *metrics
	}
	return c, nil
}

// RefreshMetrics recomputes campaign metrics from message statuses and
// completes a running campaign once none of its messages are outstanding.
func (s *Service) RefreshMetrics(ctx context.Context, id string) (*domain.Campaign, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrCampaignNotFound
	}
	if _, err := s.saveRollup(ctx, id); err != nil {
		return nil, err
	}

	completed, err := s.repo.CompleteIfDrained(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("complete campaign: %w", err)
	}
	if completed {
		campaignsCompleted.Inc()
		slog.Info("campaign completed", "campaign_id", id)
	}

	return s.repo.GetCampaign(ctx, id)
}

func (s *Service) saveRollup(ctx context.Context, id string) (*domain.CampaignMetrics, error) {
	counts, err := s.repo.CountMessagesByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	metrics := Rollup(counts)
	if err := s.repo.SaveMetrics(ctx, id, metrics); err != nil {
		return nil, fmt.Errorf("save metrics: %w", err)
	}
	return &metrics, nil
}

// ProviderEvent is a delivery callback from an external provider.
type ProviderEvent struct {
	Type      string
	MessageID string
	Timestamp time.Time
}

// HandleProviderEvent applies a provider callback to its message. Unmapped
// event types, unknown message ids and backward transitions are logged and
// ignored; it reports whether the event changed anything.
func (s *Service) HandleProviderEvent(ctx context.Context, provider string, event ProviderEvent) (bool, error) {
	provider = strings.ToLower(provider)
	if !KnownProvider(provider) {
		return false, ErrUnknownProvider
	}
	ctx, logger := ctxlog.With(ctx, "provider", provider, "event", event.Type, "external_id", event.MessageID)

	status, ok := MapProviderEvent(provider, event.Type)
	if !ok {
		logger.Info("ignoring unmapped provider event")
		recordProviderEvent(provider, "unmapped")
		return false, nil
	}

	msg, err := s.repo.GetMessageByExternalID(ctx, event.MessageID)
	if errors.Is(err, ErrMessageNotFound) {
		logger.Warn("provider event for unknown message")
		recordProviderEvent(provider, "unknown_message")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get message: %w", err)
	}

	if !msg.Status.CanAdvanceTo(status) {
		logger.Debug("ignoring non-forward status change", "from", msg.Status, "to", status)
		recordProviderEvent(provider, "stale")
		return false, nil
	}

	at := event.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	err = s.repo.AdvanceMessage(ctx, msg.ID, msg.Status, status, at)
	if errors.Is(err, ErrMessageChanged) {
		logger.Info("message changed concurrently, dropping event")
		recordProviderEvent(provider, "stale")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("advance message: %w", err)
	}
	recordProviderEvent(provider, "applied")

	if _, err := s.RefreshMetrics(ctx, msg.CampaignID); err != nil {
		logger.Error("failed to refresh campaign metrics", "campaign_id", msg.CampaignID, "error", err)
	}
	return true, nil
}
