package campaigns

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/bissquit/leadflow/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// maxWebhookBody bounds provider callback payloads.
const maxWebhookBody = 1 << 20

var errorMappings = append([]httputil.ErrorMapping{
	{Error: ErrCampaignNotFound, Status: http.StatusNotFound, Message: "campaign not found"},
	{Error: ErrUnknownProvider, Status: http.StatusNotFound, Message: "unknown provider"},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrEmptyAudience, Status: http.StatusBadRequest},
	{Error: ErrNoSteps, Status: http.StatusBadRequest},
	{Error: ErrInvalidSettings, Status: http.StatusBadRequest},
}, httputil.CommonMappings...)

// Handler handles HTTP requests for campaigns and provider callbacks.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new campaigns handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: httputil.NewValidator(),
	}
}

// RegisterRoutes registers campaign routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", h.ListCampaigns)
		r.Post("/", h.CreateCampaign)
		r.Get("/{id}", h.GetCampaign)
		r.Get("/{id}/messages", h.ListMessages)
		r.Post("/{id}/schedule", h.ScheduleCampaign)
		r.Post("/{id}/start", h.StartCampaign)
		r.Post("/{id}/pause", h.PauseCampaign)
		r.Post("/{id}/cancel", h.CancelCampaign)
		r.Post("/{id}/refresh-metrics", h.RefreshMetrics)
	})
}

// RegisterWebhookRoutes registers provider callback routes. They are kept
// apart from RegisterRoutes because providers do not send bearer tokens.
func (h *Handler) RegisterWebhookRoutes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.ProviderWebhook)
}

// CreateCampaignRequest represents request body for creating a campaign.
type CreateCampaignRequest struct {
	Name          string                   `json:"name" validate:"required,max=255"`
	Channel       string                   `json:"channel" validate:"required,oneof=email linkedin"`
	ListID        string                   `json:"list_id" validate:"max=255"`
	SequenceSteps []domain.SequenceStep    `json:"sequence_steps" validate:"dive"`
	Settings      *domain.CampaignSettings `json:"settings"`
}

// ScheduleCampaignRequest represents request body for scheduling a campaign.
type ScheduleCampaignRequest struct {
	Leads       []domain.Lead `json:"leads" validate:"dive"`
	ScheduledAt *time.Time    `json:"scheduled_at"`
}

// ScheduleCampaignResponse reports the result of scheduling.
type ScheduleCampaignResponse struct {
	Campaign *domain.Campaign `json:"campaign"`
	Messages int              `json:"messages"`
}

// ProviderEventRequest is one provider callback event.
type ProviderEventRequest struct {
	Event     string     `json:"event" validate:"required"`
	MessageID string     `json:"message_id" validate:"required"`
	Timestamp *time.Time `json:"timestamp"`
}

// ProviderWebhookResponse reports how many events changed a message.
type ProviderWebhookResponse struct {
	Received int `json:"received"`
	Applied  int `json:"applied"`
}

// ListCampaigns handles GET /campaigns.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.service.ListCampaigns(r.Context(), domain.CampaignStatus(r.URL.Query().Get("status")))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, campaigns)
}

// CreateCampaign handles POST /campaigns.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	c, err := h.service.CreateCampaign(r.Context(), CampaignInput{
		Name:          req.Name,
		Channel:       domain.Channel(req.Channel),
		ListID:        req.ListID,
		SequenceSteps: req.SequenceSteps,
		Settings:      req.Settings,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, c)
}

// GetCampaign handles GET /campaigns/{id}.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, c)
}

// ListMessages handles GET /campaigns/{id}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	status := domain.MessageStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	messages, err := h.service.ListMessages(r.Context(), chi.URLParam(r, "id"), status, limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, messages)
}

// ScheduleCampaign handles POST /campaigns/{id}/schedule.
func (h *Handler) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req ScheduleCampaignRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	c, count, err := h.service.Schedule(r.Context(), chi.URLParam(r, "id"), req.Leads, req.ScheduledAt)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, ScheduleCampaignResponse{Campaign: c, Messages: count})
}

// StartCampaign handles POST /campaigns/{id}/start.
func (h *Handler) StartCampaign(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service.Start)
}

// PauseCampaign handles POST /campaigns/{id}/pause.
func (h *Handler) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service.Pause)
}

// CancelCampaign handles POST /campaigns/{id}/cancel.
func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service.Cancel)
}

// RefreshMetrics handles POST /campaigns/{id}/refresh-metrics.
func (h *Handler) RefreshMetrics(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service.RefreshMetrics)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) (*domain.Campaign, error)) {
	c, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, c)
}

// ProviderWebhook handles POST /webhooks/{provider}. The body is a single
// event or an array of events. Events that cannot be applied are logged and
// acknowledged.
func (h *Handler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !KnownProvider(provider) {
		httputil.HandleError(r.Context(), w, ErrUnknownProvider, errorMappings)
		return
	}

	logger := ctxlog.FromContext(r.Context())

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(raw) > maxWebhookBody {
		logger.Warn("provider callback too large", "provider", provider, "limit", maxWebhookBody)
		httputil.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	// Providers retry on non-2xx, and a body that does not parse never will.
	events, err := decodeProviderEvents(raw)
	if err != nil {
		logger.Warn("discarding unparsable provider callback", "provider", provider, "size", len(raw), "error", err)
		httputil.Success(w, http.StatusOK, ProviderWebhookResponse{})
		return
	}

	resp := ProviderWebhookResponse{Received: len(events)}
	for _, ev := range events {
		if err := h.validator.Struct(ev); err != nil {
			logger.Warn("skipping malformed provider event", "provider", provider, "error", err)
			continue
		}

		event := ProviderEvent{Type: ev.Event, MessageID: ev.MessageID}
		if ev.Timestamp != nil {
			event.Timestamp = *ev.Timestamp
		}

		applied, err := h.service.HandleProviderEvent(r.Context(), provider, event)
		if err != nil {
			logger.Error("failed to apply provider event", "provider", provider, "error", err)
			continue
		}
		if applied {
			resp.Applied++
		}
	}

	httputil.Success(w, http.StatusOK, resp)
}

func decodeProviderEvents(raw []byte) ([]ProviderEventRequest, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []ProviderEventRequest
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var event ProviderEventRequest
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, err
	}
	return []ProviderEventRequest{event}, nil
}
