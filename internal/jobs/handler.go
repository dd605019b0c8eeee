package jobs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = append([]httputil.ErrorMapping{
	{Error: ErrJobNotFound, Status: http.StatusNotFound, Message: "job not found"},
	{Error: ErrJobNotCancellable, Status: http.StatusConflict},
	{Error: ErrEmptyJobType, Status: http.StatusBadRequest},
	{Error: ErrInvalidJobStatus, Status: http.StatusBadRequest},
}, httputil.CommonMappings...)

// Handler handles HTTP requests for the job queue.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new jobs handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: httputil.NewValidator(),
	}
}

// RegisterRoutes registers job routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Post("/", h.EnqueueJob)
		r.Get("/stats", h.GetStats)
		r.Get("/{id}", h.GetJob)
		r.Post("/{id}/cancel", h.CancelJob)
	})
}

// EnqueueJobRequest represents request body for enqueuing a job.
type EnqueueJobRequest struct {
	Type        string         `json:"type" validate:"required,max=100"`
	Payload     map[string]any `json:"payload"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
	MaxAttempts int            `json:"max_attempts" validate:"gte=0,lte=25"`
}

// EnqueueJobResponse is returned after a job is enqueued.
type EnqueueJobResponse struct {
	ID string `json:"id"`
}

// EnqueueJob handles POST /jobs.
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	opts := EnqueueOptions{MaxAttempts: req.MaxAttempts}
	if req.ScheduledAt != nil {
		opts.ScheduledAt = *req.ScheduledAt
	}

	id, err := h.service.Enqueue(r.Context(), req.Type, req.Payload, opts)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, EnqueueJobResponse{ID: id})
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status: domain.JobStatus(r.URL.Query().Get("status")),
		Type:   r.URL.Query().Get("type"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, jobs)
}

// GetStats handles GET /jobs/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// GetJob handles GET /jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, job)
}

// CancelJob handles POST /jobs/{id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	job, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, job)
}
