package campaigns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/leadflow/internal/delivery"
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/bissquit/leadflow/internal/render"
	"golang.org/x/time/rate"
)

// recipientFields names the lead attribute that addresses a channel.
var recipientFields = map[domain.Channel]string{
	domain.ChannelEmail:    "email",
	domain.ChannelLinkedIn: "linkedinUrl",
}

var errNoSender = errors.New("no sender configured for channel")

// DispatcherConfig contains dispatcher configuration.
type DispatcherConfig struct {
	BatchSize int
	// ClaimLease is how long a claimed message is hidden from other
	// dispatchers before it becomes due again.
	ClaimLease time.Duration
	// RatePerSecond caps provider sends; Burst is the bucket size.
	RatePerSecond float64
	Burst         int
	SendTimeout   time.Duration
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:     100,
		ClaimLease:    10 * time.Minute,
		RatePerSecond: 5,
		Burst:         5,
		SendTimeout:   30 * time.Second,
	}
}

// DispatchResult summarizes one dispatch run.
type DispatchResult struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Campaigns int `json:"campaigns"`
}

// Dispatcher sends due scheduled messages of running campaigns.
type Dispatcher struct {
	repo     Repository
	service  *Service
	senders  map[domain.Channel]delivery.Sender
	renderer *render.Renderer
	limiter  *rate.Limiter
	config   DispatcherConfig
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. Messages on a channel without a
// sender are failed.
func NewDispatcher(
	repo Repository,
	service *Service,
	senders map[domain.Channel]delivery.Sender,
	renderer *render.Renderer,
	config DispatcherConfig,
) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaults.ClaimLease
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = defaults.RatePerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	return &Dispatcher{
		repo:     repo,
		service:  service,
		senders:  senders,
		renderer: renderer,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		config:   config,
		now:      time.Now,
	}
}

// ProcessDue sends every due message, limited to one campaign when
// campaignID is set, then refreshes metrics of the campaigns it touched.
func (d *Dispatcher) ProcessDue(ctx context.Context, campaignID string) (DispatchResult, error) {
	var result DispatchResult
	touched := make(map[string]bool)

	for {
		now := d.now()
		batch, err := d.repo.ClaimDueMessages(ctx, now, now.Add(d.config.ClaimLease), campaignID, d.config.BatchSize)
		if err != nil {
			return result, fmt.Errorf("claim due messages: %w", err)
		}

		for i := range batch {
			msg := &batch[i]
			if err := d.limiter.Wait(ctx); err != nil {
				return result, err
			}
			if d.dispatch(ctx, msg) {
				result.Sent++
			} else {
				result.Failed++
			}
			touched[msg.CampaignID] = true
		}

		if len(batch) < d.config.BatchSize {
			break
		}
	}

	for id := range touched {
		if _, err := d.service.RefreshMetrics(ctx, id); err != nil {
			slog.Error("failed to refresh campaign metrics", "campaign_id", id, "error", err)
		}
	}
	result.Campaigns = len(touched)
	return result, nil
}

// dispatch sends one message and records the outcome. Reports whether the
// message was sent.
func (d *Dispatcher) dispatch(ctx context.Context, msg *domain.ScheduledMessage) bool {
	ctx, logger := ctxlog.With(ctx,
		"campaign_id", msg.CampaignID,
		"message_id", msg.ID,
		"entity_id", msg.EntityID,
		"channel", msg.Channel,
	)

	body, externalID, err := d.send(ctx, msg)
	if err != nil {
		logger.Warn("message send failed", "error", err, "permanent", delivery.IsPermanent(err))
		recordDispatch(msg.Channel, "failed")
		if err := d.repo.MarkMessageFailed(ctx, msg.ID, err.Error()); err != nil {
			logger.Error("failed to mark message failed", "error", err)
		}
		return false
	}

	recordDispatch(msg.Channel, "sent")
	if err := d.repo.MarkMessageSent(ctx, msg.ID, body, externalID, d.now()); err != nil {
		logger.Error("failed to mark message sent", "error", err)
	}
	return true
}

func (d *Dispatcher) send(ctx context.Context, msg *domain.ScheduledMessage) (string, string, error) {
	sender, ok := d.senders[msg.Channel]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", errNoSender, msg.Channel)
	}

	data := make(map[string]any, len(msg.EntityData)+1)
	for k, v := range msg.EntityData {
		data[k] = v
	}
	data["entityId"] = msg.EntityID

	recipient, _ := data[recipientFields[msg.Channel]].(string)
	if recipient == "" {
		return "", "", fmt.Errorf("lead has no %s", recipientFields[msg.Channel])
	}

	subject, err := d.renderer.Render(msg.Subject, data)
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	body, err := d.renderer.Render(msg.TemplateBody, data)
	if err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	res, err := sender.Send(sendCtx, delivery.Message{To: recipient, Subject: subject, Body: body})
	if err != nil {
		return "", "", err
	}
	return body, res.ExternalID, nil
}
