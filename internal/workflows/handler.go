package workflows

import (
	"net/http"
	"strconv"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = append([]httputil.ErrorMapping{
	{Error: ErrWorkflowNotFound, Status: http.StatusNotFound, Message: "workflow not found"},
	{Error: ErrEnrollmentNotFound, Status: http.StatusNotFound, Message: "enrollment not found"},
	{Error: ErrTemplateNotFound, Status: http.StatusNotFound, Message: "email template not found"},
	{Error: ErrInvalidTrigger, Status: http.StatusBadRequest},
	{Error: ErrInvalidSteps, Status: http.StatusBadRequest},
	{Error: ErrInvalidConditions, Status: http.StatusBadRequest},
	{Error: ErrInvalidTemplate, Status: http.StatusBadRequest},
	{Error: ErrEmptyEntityID, Status: http.StatusBadRequest},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrWorkflowNotEditable, Status: http.StatusConflict},
	{Error: ErrWorkflowNotActive, Status: http.StatusConflict},
	{Error: ErrEnrollmentNotCancellable, Status: http.StatusConflict},
}, httputil.CommonMappings...)

// Handler handles HTTP requests for workflows, enrollments and events.
type Handler struct {
	service   *Service
	engine    *Engine
	validator *validator.Validate
}

// NewHandler creates a new workflows handler.
func NewHandler(service *Service, engine *Engine) *Handler {
	return &Handler{
		service:   service,
		engine:    engine,
		validator: httputil.NewValidator(),
	}
}

// RegisterRoutes registers workflow routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", h.ListWorkflows)
		r.Post("/", h.CreateWorkflow)
		r.Get("/{id}", h.GetWorkflow)
		r.Put("/{id}", h.UpdateWorkflow)
		r.Post("/{id}/status", h.SetStatus)
		r.Get("/{id}/enrollments", h.ListEnrollments)
		r.Post("/{id}/enrollments", h.Enroll)
	})

	r.Get("/enrollments/{id}", h.GetEnrollment)
	r.Post("/enrollments/{id}/cancel", h.CancelEnrollment)

	r.Post("/events", h.PostEvent)

	r.Route("/email-templates", func(r chi.Router) {
		r.Get("/", h.ListTemplates)
		r.Post("/", h.CreateTemplate)
		r.Get("/{id}", h.GetTemplate)
	})
}

// WorkflowRequest represents request body for creating or updating a workflow.
type WorkflowRequest struct {
	Name              string                `json:"name" validate:"required,min=1,max=255"`
	Trigger           string                `json:"trigger" validate:"required"`
	TriggerConditions map[string]any        `json:"trigger_conditions"`
	Steps             []domain.WorkflowStep `json:"steps" validate:"required,min=1,dive"`
}

func (req WorkflowRequest) input() WorkflowInput {
	return WorkflowInput{
		Name:              req.Name,
		Trigger:           domain.TriggerType(req.Trigger),
		TriggerConditions: req.TriggerConditions,
		Steps:             req.Steps,
	}
}

// SetStatusRequest represents request body for changing workflow status.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft active paused archived"`
}

// EnrollRequest represents request body for a manual enrollment.
type EnrollRequest struct {
	EntityID string         `json:"entity_id" validate:"required,max=255"`
	Data     map[string]any `json:"data"`
}

// EnrollResponse reports the outcome of an enrollment request.
type EnrollResponse struct {
	Enrolled   bool               `json:"enrolled"`
	Enrollment *domain.Enrollment `json:"enrollment,omitempty"`
}

// EventRequest represents a business event posted to the API.
type EventRequest struct {
	Type     string         `json:"type" validate:"required"`
	EntityID string         `json:"entity_id" validate:"required,max=255"`
	Data     map[string]any `json:"data"`
}

// EventResponse lists enrollments created by an event.
type EventResponse struct {
	Enrollments []domain.Enrollment `json:"enrollments"`
}

// TemplateRequest represents request body for creating an email template.
type TemplateRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// ListWorkflows handles GET /workflows.
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	status := domain.WorkflowStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid status")
		return
	}

	workflows, err := h.service.ListWorkflows(r.Context(), status)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, workflows)
}

// CreateWorkflow handles POST /workflows.
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	wf, err := h.service.CreateWorkflow(r.Context(), req.input())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, wf)
}

// GetWorkflow handles GET /workflows/{id}.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.service.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, wf)
}

// UpdateWorkflow handles PUT /workflows/{id}.
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	wf, err := h.service.UpdateWorkflow(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, wf)
}

// SetStatus handles POST /workflows/{id}/status.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	wf, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "id"), domain.WorkflowStatus(req.Status))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, wf)
}

// ListEnrollments handles GET /workflows/{id}/enrollments.
func (h *Handler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	enrollments, err := h.service.ListEnrollments(
		r.Context(),
		chi.URLParam(r, "id"),
		domain.EnrollmentStatus(r.URL.Query().Get("status")),
		limit,
	)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, enrollments)
}

// Enroll handles POST /workflows/{id}/enrollments.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	enrollment, err := h.engine.Enroll(r.Context(), chi.URLParam(r, "id"), req.EntityID, req.Data)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if enrollment == nil {
		httputil.Success(w, http.StatusOK, EnrollResponse{Enrolled: false})
		return
	}
	httputil.Success(w, http.StatusCreated, EnrollResponse{Enrolled: true, Enrollment: enrollment})
}

// GetEnrollment handles GET /enrollments/{id}.
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.service.GetEnrollment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, enrollment)
}

// CancelEnrollment handles POST /enrollments/{id}/cancel.
func (h *Handler) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, enrollment)
}

// PostEvent handles POST /events.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	created, err := h.engine.HandleEvent(r.Context(), domain.BusinessEvent{
		Type:     domain.TriggerType(req.Type),
		EntityID: req.EntityID,
		Data:     req.Data,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, EventResponse{Enrollments: created})
}

// ListTemplates handles GET /email-templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, templates)
}

// CreateTemplate handles POST /email-templates.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !httputil.DecodeJSON(w, r, &req, h.validator) {
		return
	}

	tmpl, err := h.service.CreateTemplate(r.Context(), req.Name, req.Subject, req.Body)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, tmpl)
}

// GetTemplate handles GET /email-templates/{id}.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.service.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, tmpl)
}
