package workflows

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/leadflow/internal/delivery"
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/render"
	"github.com/google/uuid"
)

var testStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// memoryRepository is an in-memory Repository driven by a controllable clock.
type memoryRepository struct {
	mu          sync.Mutex
	now         time.Time
	workflows   map[string]*domain.Workflow
	enrollments map[string]*domain.Enrollment
	templates   map[string]*domain.EmailTemplate
	sends       []domain.EmailSend
}

func newMemoryRepository(now time.Time) *memoryRepository {
	return &memoryRepository{
		now:         now,
		workflows:   make(map[string]*domain.Workflow),
		enrollments: make(map[string]*domain.Enrollment),
		templates:   make(map[string]*domain.EmailTemplate),
	}
}

func (m *memoryRepository) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *memoryRepository) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *memoryRepository) CreateWorkflow(_ context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf.ID = uuid.NewString()
	wf.CreatedAt = m.now
	wf.UpdatedAt = m.now
	stored := *wf
	m.workflows[wf.ID] = &stored
	return nil
}

func (m *memoryRepository) GetWorkflow(_ context.Context, id string) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	out := *wf
	return &out, nil
}

func (m *memoryRepository) ListWorkflows(_ context.Context, status domain.WorkflowStatus) ([]domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Workflow, 0)
	for _, wf := range m.workflows {
		if status == "" || wf.Status == status {
			out = append(out, *wf)
		}
	}
	return out, nil
}

func (m *memoryRepository) ListActiveByTrigger(_ context.Context, trigger domain.TriggerType) ([]domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Workflow, 0)
	for _, wf := range m.workflows {
		if wf.Status == domain.WorkflowStatusActive && wf.Trigger == trigger {
			out = append(out, *wf)
		}
	}
	return out, nil
}

func (m *memoryRepository) UpdateWorkflow(_ context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; !ok {
		return ErrWorkflowNotFound
	}
	wf.UpdatedAt = m.now
	stored := *wf
	m.workflows[wf.ID] = &stored
	return nil
}

func (m *memoryRepository) UpdateWorkflowStatus(_ context.Context, id string, status domain.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return ErrWorkflowNotFound
	}
	wf.Status = status
	return nil
}

func (m *memoryRepository) CreateEnrollment(_ context.Context, e *domain.Enrollment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveLocked(e.WorkflowID, e.EntityID) != nil {
		return false, nil
	}
	e.ID = uuid.NewString()
	e.Status = domain.EnrollmentStatusActive
	stored := *e
	stored.Data = copyData(e.Data)
	m.enrollments[e.ID] = &stored
	m.workflows[e.WorkflowID].Metrics.Enrolled++
	return true, nil
}

func (m *memoryRepository) liveLocked(workflowID, entityID string) *domain.Enrollment {
	for _, e := range m.enrollments {
		if e.WorkflowID == workflowID && e.EntityID == entityID &&
			(e.Status == domain.EnrollmentStatusActive || e.Status == domain.EnrollmentStatusProcessing) {
			return e
		}
	}
	return nil
}

func (m *memoryRepository) GetEnrollment(_ context.Context, id string) (*domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	out := *e
	out.Data = copyData(e.Data)
	return &out, nil
}

func (m *memoryRepository) FindLiveEnrollment(_ context.Context, workflowID, entityID string) (*domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.liveLocked(workflowID, entityID)
	if e == nil {
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (m *memoryRepository) ListEnrollments(_ context.Context, workflowID string, status domain.EnrollmentStatus, limit int) ([]domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Enrollment, 0)
	for _, e := range m.enrollments {
		if e.WorkflowID == workflowID && (status == "" || e.Status == status) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].EnrolledAt.After(out[b].EnrolledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepository) ClaimDueEnrollments(_ context.Context, now, staleBefore time.Time, limit int) ([]domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Enrollment
	for _, e := range m.enrollments {
		wf := m.workflows[e.WorkflowID]
		if wf == nil || wf.Status != domain.WorkflowStatusActive {
			continue
		}
		switch e.Status {
		case domain.EnrollmentStatusActive:
			if !e.NextStepAt.After(now) {
				due = append(due, e)
			}
		case domain.EnrollmentStatusProcessing:
			if e.ClaimedAt != nil && e.ClaimedAt.Before(staleBefore) {
				due = append(due, e)
			}
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].NextStepAt.Before(due[b].NextStepAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]domain.Enrollment, 0, len(due))
	for _, e := range due {
		claimedAt := now
		e.Status = domain.EnrollmentStatusProcessing
		e.ClaimedAt = &claimedAt
		c := *e
		c.Data = copyData(e.Data)
		out = append(out, c)
	}
	return out, nil
}

// holdsClaim reports whether the stored row is still processing under the
// claim carried by c. Callers hold m.mu.
func (m *memoryRepository) holdsClaim(c *domain.Enrollment) (*domain.Enrollment, bool) {
	e, ok := m.enrollments[c.ID]
	if !ok || e.Status != domain.EnrollmentStatusProcessing {
		return nil, false
	}
	if e.ClaimedAt == nil || c.ClaimedAt == nil || !e.ClaimedAt.Equal(*c.ClaimedAt) {
		return nil, false
	}
	return e, true
}

func (m *memoryRepository) SaveProgress(_ context.Context, c *domain.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.holdsClaim(c)
	if !ok {
		return ErrClaimLost
	}
	e.Status = domain.EnrollmentStatusActive
	e.CurrentStep = c.CurrentStep
	e.NextStepAt = c.NextStepAt
	e.Data = copyData(c.Data)
	e.ClaimedAt = nil
	return nil
}

func (m *memoryRepository) CompleteEnrollment(_ context.Context, c *domain.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.holdsClaim(c)
	if !ok {
		return ErrClaimLost
	}
	completed := m.now
	e.Status = domain.EnrollmentStatusCompleted
	e.CurrentStep = c.CurrentStep
	e.Data = copyData(c.Data)
	e.CompletedAt = &completed
	e.ClaimedAt = nil
	m.workflows[e.WorkflowID].Metrics.Completed++
	return nil
}

func (m *memoryRepository) CancelEnrollment(_ context.Context, id string) (*domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	if e.Status.IsTerminal() {
		return nil, ErrEnrollmentNotCancellable
	}
	completed := m.now
	e.Status = domain.EnrollmentStatusCancelled
	e.CompletedAt = &completed
	e.ClaimedAt = nil
	m.workflows[e.WorkflowID].Metrics.Cancelled++
	out := *e
	return &out, nil
}

func (m *memoryRepository) CreateTemplate(_ context.Context, t *domain.EmailTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.NewString()
	t.CreatedAt = m.now
	t.UpdatedAt = m.now
	stored := *t
	m.templates[t.ID] = &stored
	return nil
}

func (m *memoryRepository) GetTemplate(_ context.Context, id string) (*domain.EmailTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	out := *t
	return &out, nil
}

func (m *memoryRepository) ListTemplates(_ context.Context) ([]domain.EmailTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EmailTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, *t)
	}
	return out, nil
}

func (m *memoryRepository) RecordEmailSend(_ context.Context, send *domain.EmailSend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	send.ID = uuid.NewString()
	send.CreatedAt = m.now
	m.sends = append(m.sends, *send)
	return nil
}

func (m *memoryRepository) emailSends() []domain.EmailSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EmailSend(nil), m.sends...)
}

// fakeMailer records messages and fails when err is set.
type fakeMailer struct {
	mu   sync.Mutex
	sent []delivery.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg delivery.Message) (delivery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return delivery.Result{}, f.err
	}
	f.sent = append(f.sent, msg)
	return delivery.Result{ExternalID: uuid.NewString()}, nil
}

func (f *fakeMailer) messages() []delivery.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery.Message(nil), f.sent...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

type fakePoster struct {
	mu       sync.Mutex
	payloads []WebhookEnvelope
	urls     []string
	err      error
}

func (f *fakePoster) Post(_ context.Context, url string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.urls = append(f.urls, url)
	f.payloads = append(f.payloads, payload.(WebhookEnvelope))
	return nil
}

type testEngine struct {
	repo     *memoryRepository
	mailer   *fakeMailer
	notifier *fakeNotifier
	poster   *fakePoster
	engine   *Engine
	service  *Service
}

func newTestEngine(t0 time.Time) *testEngine {
	repo := newMemoryRepository(t0)
	mailer := &fakeMailer{}
	notifier := &fakeNotifier{}
	poster := &fakePoster{}
	renderer, err := render.NewRenderer()
	if err != nil {
		panic(err)
	}

	executor := NewExecutor(repo, mailer, notifier, poster, renderer, ExecutorConfig{StepTimeout: time.Second})
	engine := NewEngine(repo, executor, EngineConfig{})
	engine.now = repo.clock

	return &testEngine{
		repo:     repo,
		mailer:   mailer,
		notifier: notifier,
		poster:   poster,
		engine:   engine,
		service:  NewService(repo, renderer),
	}
}

// activeWorkflow stores an active workflow with the given steps.
func (te *testEngine) activeWorkflow(trigger domain.TriggerType, conditions map[string]any, steps ...domain.WorkflowStep) *domain.Workflow {
	if conditions == nil {
		conditions = map[string]any{}
	}
	wf := &domain.Workflow{
		Name:              "nurture",
		Trigger:           trigger,
		TriggerConditions: conditions,
		Steps:             normalizeSteps(steps),
		Status:            domain.WorkflowStatusActive,
	}
	if err := te.repo.CreateWorkflow(context.Background(), wf); err != nil {
		panic(err)
	}
	return wf
}

func emailStep(subject, body string) domain.WorkflowStep {
	return domain.WorkflowStep{Type: domain.StepTypeEmail, Config: map[string]any{"subject": subject, "body": body}}
}

func waitStep(amount int, unit WaitUnit) domain.WorkflowStep {
	return domain.WorkflowStep{Type: domain.StepTypeWait, Config: map[string]any{"amount": amount, "unit": string(unit)}}
}

func tagStep(tag string) domain.WorkflowStep {
	return domain.WorkflowStep{Type: domain.StepTypeTag, Config: map[string]any{"tag": tag}}
}

func conditionStep(field string, op ConditionOperator, value any, skipTo int) domain.WorkflowStep {
	cfg := map[string]any{"field": field, "operator": string(op), "skipToStep": skipTo}
	if value != nil {
		cfg["value"] = value
	}
	return domain.WorkflowStep{Type: domain.StepTypeCondition, Config: cfg}
}
