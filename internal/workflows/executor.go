package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/leadflow/internal/delivery"
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/ctxlog"
	"github.com/bissquit/leadflow/internal/render"
)

// Notifier emits operational notifications.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// WebhookPoster posts JSON payloads.
type WebhookPoster interface {
	Post(ctx context.Context, url string, payload any) error
}

// Email send statuses.
const (
	emailSent   = "sent"
	emailFailed = "failed"
)

// WebhookEnvelope is the body posted by a webhook step.
type WebhookEnvelope struct {
	EnrollmentID string         `json:"enrollment_id"`
	WorkflowID   string         `json:"workflow_id"`
	EntityID     string         `json:"entity_id"`
	StepIndex    int            `json:"step_index"`
	Data         map[string]any `json:"data"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ExecutorConfig contains step executor configuration.
type ExecutorConfig struct {
	// StepTimeout bounds each outbound call made by a step.
	StepTimeout time.Duration
}

// Executor runs the side effect of a single step.
type Executor struct {
	repo     Repository
	mailer   delivery.Sender
	notifier Notifier
	webhooks WebhookPoster
	renderer *render.Renderer
	config   ExecutorConfig
}

// NewExecutor creates a step executor.
func NewExecutor(
	repo Repository,
	mailer delivery.Sender,
	notifier Notifier,
	webhooks WebhookPoster,
	renderer *render.Renderer,
	config ExecutorConfig,
) *Executor {
	if config.StepTimeout <= 0 {
		config.StepTimeout = 10 * time.Second
	}
	return &Executor{
		repo:     repo,
		mailer:   mailer,
		notifier: notifier,
		webhooks: webhooks,
		renderer: renderer,
		config:   config,
	}
}

// outcome tells the engine where to go after a step.
type outcome struct {
	next  int
	delay time.Duration
}

// Execute runs step at index for the enrollment. Side-effect failures are
// logged and counted; they never stop the enrollment from advancing.
// Tag steps update e.Data in place.
func (x *Executor) Execute(ctx context.Context, wf *domain.Workflow, e *domain.Enrollment, index int, step Step) outcome {
	ctx, logger := ctxlog.With(ctx, "step_type", step.Type())
	next := outcome{next: index + 1}

	switch s := step.(type) {
	case EmailStep:
		x.sendEmail(ctx, logger, wf, e, index, s)

	case WaitStep:
		next.delay = s.Duration()
		recordStep(step.Type(), stepOK)

	case ConditionStep:
		if !s.Evaluate(e.Data) && s.SkipToStep != nil {
			logger.Debug("condition false, skipping", "skip_to", *s.SkipToStep)
			next.next = *s.SkipToStep
			recordStep(step.Type(), stepSkipped)
			break
		}
		recordStep(step.Type(), stepOK)

	case TagStep:
		e.Data = addTag(e.Data, s.Tag)
		recordStep(step.Type(), stepOK)

	case WebhookStep:
		x.postWebhook(ctx, logger, wf, e, index, s)

	case NotifyStep:
		x.notify(ctx, logger, wf, e, index, s)

	default:
		logger.Error("unhandled step type")
		recordStep(step.Type(), stepFailed)
	}

	return next
}

func (x *Executor) sendEmail(ctx context.Context, logger *slog.Logger, wf *domain.Workflow, e *domain.Enrollment, index int, s EmailStep) {
	send := &domain.EmailSend{
		EnrollmentID: e.ID,
		WorkflowID:   wf.ID,
		EntityID:     e.EntityID,
		StepIndex:    index,
		Recipient:    stringField(e.Data, "email"),
	}

	err := x.deliverEmail(ctx, wf, e, s, send)
	if err != nil {
		send.Status = emailFailed
		send.ErrorMessage = err.Error()
		logger.Warn("email step failed", "error", err)
		recordStep(domain.StepTypeEmail, stepFailed)
	} else {
		send.Status = emailSent
		recordStep(domain.StepTypeEmail, stepOK)
	}

	wctx, cancel := writeBackContext(ctx)
	defer cancel()
	if err := x.repo.RecordEmailSend(wctx, send); err != nil {
		logger.Error("failed to record email send", "error", err)
	}
}

func (x *Executor) deliverEmail(ctx context.Context, wf *domain.Workflow, e *domain.Enrollment, s EmailStep, send *domain.EmailSend) error {
	subject, body := s.Subject, s.Body
	if s.TemplateID != "" {
		send.TemplateID = &s.TemplateID
		tmpl, err := x.repo.GetTemplate(ctx, s.TemplateID)
		if err != nil {
			return fmt.Errorf("load template %s: %w", s.TemplateID, err)
		}
		subject, body = tmpl.Subject, tmpl.Body
	}

	data := renderData(wf, e)
	var err error
	if send.Subject, err = x.renderer.Render(subject, data); err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	if send.Body, err = x.renderer.Render(body, data); err != nil {
		return fmt.Errorf("render body: %w", err)
	}

	if send.Recipient == "" {
		return ErrNoRecipient
	}

	sendCtx, cancel := context.WithTimeout(ctx, x.config.StepTimeout)
	defer cancel()

	_, err = x.mailer.Send(sendCtx, delivery.Message{
		To:      send.Recipient,
		Subject: send.Subject,
		Body:    send.Body,
	})
	return err
}

func (x *Executor) postWebhook(ctx context.Context, logger *slog.Logger, wf *domain.Workflow, e *domain.Enrollment, index int, s WebhookStep) {
	postCtx, cancel := context.WithTimeout(ctx, x.config.StepTimeout)
	defer cancel()

	err := x.webhooks.Post(postCtx, s.URL, WebhookEnvelope{
		EnrollmentID: e.ID,
		WorkflowID:   wf.ID,
		EntityID:     e.EntityID,
		StepIndex:    index,
		Data:         e.Data,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("webhook step failed", "url", s.URL, "error", err)
		recordStep(domain.StepTypeWebhook, stepFailed)
		return
	}
	recordStep(domain.StepTypeWebhook, stepOK)
}

func (x *Executor) notify(ctx context.Context, logger *slog.Logger, wf *domain.Workflow, e *domain.Enrollment, index int, s NotifyStep) {
	message, err := x.renderer.Render(s.Message, renderData(wf, e))
	if err != nil {
		logger.Warn("failed to render notify message", "error", err)
		message = s.Message
	}

	text, err := x.renderer.RenderNamed("notify", map[string]any{
		"Workflow":  wf.Name,
		"Message":   message,
		"EntityID":  e.EntityID,
		"StepIndex": index,
	})
	if err != nil {
		text = message
	}

	notifyCtx, cancel := context.WithTimeout(ctx, x.config.StepTimeout)
	defer cancel()

	if err := x.notifier.Notify(notifyCtx, text); err != nil {
		logger.Warn("notify step failed", "error", err)
		recordStep(domain.StepTypeNotify, stepFailed)
		return
	}
	recordStep(domain.StepTypeNotify, stepOK)
}

// renderData is the template context of a step: enrollment data plus the
// entity id and workflow name.
func renderData(wf *domain.Workflow, e *domain.Enrollment) map[string]any {
	data := make(map[string]any, len(e.Data)+2)
	for k, v := range e.Data {
		data[k] = v
	}
	data["entityId"] = e.EntityID
	data["workflowName"] = wf.Name
	return data
}

// addTag appends tag to data["tags"] once.
func addTag(data map[string]any, tag string) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	existing, _ := asList(data["tags"])
	if contains(existing, tag) {
		return data
	}
	tags := make([]any, 0, len(existing)+1)
	tags = append(tags, existing...)
	data["tags"] = append(tags, tag)
	return data
}

func stringField(data map[string]any, key string) string {
	s, _ := lookup(data, key).(string)
	return s
}
