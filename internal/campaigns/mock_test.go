package campaigns

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/leadflow/internal/delivery"
	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/outreach"
	"github.com/bissquit/leadflow/internal/render"
	"github.com/google/uuid"
)

// testStart is a Monday morning.
var testStart = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// memoryRepository is an in-memory Repository.
type memoryRepository struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	messages  []*domain.ScheduledMessage
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{campaigns: make(map[string]*domain.Campaign)}
}

func (m *memoryRepository) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.NewString()
	c.CreatedAt = testStart
	c.UpdatedAt = testStart
	stored := *c
	m.campaigns[c.ID] = &stored
	return nil
}

func (m *memoryRepository) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryRepository) ListCampaigns(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.Campaign, 0)
	for _, c := range m.campaigns {
		if status == "" || c.Status == status {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *memoryRepository) ScheduleCampaign(_ context.Context, id string, scheduledAt time.Time, messages []domain.ScheduledMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return 0, ErrCampaignNotFound
	}
	if c.Status != domain.CampaignStatusDraft {
		return 0, ErrInvalidTransition
	}
	c.Status = domain.CampaignStatusScheduled
	c.ScheduledAt = &scheduledAt
	for _, msg := range messages {
		stored := msg
		stored.ID = uuid.NewString()
		stored.CampaignID = id
		m.messages = append(m.messages, &stored)
	}
	return len(messages), nil
}

func (m *memoryRepository) TransitionCampaign(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	if !slices.Contains(from, c.Status) {
		return nil, fmt.Errorf("%w: campaign is %s", ErrInvalidTransition, c.Status)
	}
	c.Status = to
	if to == domain.CampaignStatusRunning && c.StartedAt == nil {
		at := testStart
		c.StartedAt = &at
	}
	cp := *c
	return &cp, nil
}

func (m *memoryRepository) CancelCampaign(_ context.Context, id string, reason string) (*domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, 0, ErrCampaignNotFound
	}
	if c.Status.IsTerminal() {
		return nil, 0, fmt.Errorf("%w: campaign is %s", ErrInvalidTransition, c.Status)
	}
	c.Status = domain.CampaignStatusCancelled
	failed := 0
	for _, msg := range m.messages {
		if msg.CampaignID == id && msg.Status.IsOutstanding() {
			msg.Status = domain.MessageStatusFailed
			msg.ErrorMessage = reason
			failed++
		}
	}
	cp := *c
	return &cp, failed, nil
}

func (m *memoryRepository) CompleteIfDrained(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != domain.CampaignStatusRunning {
		return false, nil
	}
	for _, msg := range m.messages {
		if msg.CampaignID == id && msg.Status.IsOutstanding() {
			return false, nil
		}
	}
	c.Status = domain.CampaignStatusCompleted
	return true, nil
}

func (m *memoryRepository) CountMessagesByStatus(_ context.Context, campaignID string) (map[domain.MessageStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.MessageStatus]int)
	for _, msg := range m.messages {
		if msg.CampaignID == campaignID {
			counts[msg.Status]++
		}
	}
	return counts, nil
}

func (m *memoryRepository) SaveMetrics(_ context.Context, id string, metrics domain.CampaignMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	c.Metrics = metrics
	return nil
}

func (m *memoryRepository) ListMessages(_ context.Context, campaignID string, status domain.MessageStatus, limit int) ([]domain.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.ScheduledMessage, 0)
	for _, msg := range m.messages {
		if msg.CampaignID == campaignID && (status == "" || msg.Status == status) {
			result = append(result, *msg)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].ScheduledAt.Before(result[j].ScheduledAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *memoryRepository) GetMessageByExternalID(_ context.Context, externalID string) (*domain.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ExternalMessageID != "" && msg.ExternalMessageID == externalID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, ErrMessageNotFound
}

func (m *memoryRepository) ClaimDueMessages(_ context.Context, now, leaseUntil time.Time, campaignID string, limit int) ([]domain.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.ScheduledMessage, 0)
	for _, msg := range m.messages {
		if len(result) == limit {
			break
		}
		c := m.campaigns[msg.CampaignID]
		if c.Status != domain.CampaignStatusRunning || msg.Status != domain.MessageStatusScheduled {
			continue
		}
		if campaignID != "" && msg.CampaignID != campaignID {
			continue
		}
		if msg.ScheduledAt.After(now) {
			continue
		}
		msg.ScheduledAt = leaseUntil
		result = append(result, *msg)
	}
	return result, nil
}

func (m *memoryRepository) MarkMessageSent(_ context.Context, id, personalizedBody, externalID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.message(id)
	if msg == nil || msg.Status != domain.MessageStatusScheduled {
		return ErrMessageChanged
	}
	msg.Status = domain.MessageStatusSent
	msg.PersonalizedBody = personalizedBody
	msg.ExternalMessageID = externalID
	msg.SentAt = &sentAt
	return nil
}

func (m *memoryRepository) MarkMessageFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.message(id)
	if msg == nil || !msg.Status.IsOutstanding() {
		return ErrMessageChanged
	}
	msg.Status = domain.MessageStatusFailed
	msg.ErrorMessage = reason
	return nil
}

func (m *memoryRepository) AdvanceMessage(_ context.Context, id string, from, to domain.MessageStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.message(id)
	if msg == nil || msg.Status != from {
		return ErrMessageChanged
	}
	msg.Status = to
	switch to {
	case domain.MessageStatusDelivered:
		msg.DeliveredAt = &at
	case domain.MessageStatusOpened:
		msg.OpenedAt = &at
	case domain.MessageStatusClicked:
		msg.ClickedAt = &at
	case domain.MessageStatusReplied:
		msg.RepliedAt = &at
	}
	return nil
}

func (m *memoryRepository) message(id string) *domain.ScheduledMessage {
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// setMessageStatus forces a status, bypassing transition checks.
func (m *memoryRepository) setMessageStatus(id string, status domain.MessageStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg := m.message(id); msg != nil {
		msg.Status = status
	}
}

// fakeSender records sent messages and assigns sequential external ids.
type fakeSender struct {
	mu   sync.Mutex
	sent []delivery.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg delivery.Message) (delivery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return delivery.Result{}, f.err
	}
	f.sent = append(f.sent, msg)
	return delivery.Result{ExternalID: fmt.Sprintf("ext-%d", len(f.sent))}, nil
}

func (f *fakeSender) messages() []delivery.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

type testEnv struct {
	repo       *memoryRepository
	service    *Service
	sender     *fakeSender
	dispatcher *Dispatcher
}

func newTestEnv() *testEnv {
	repo := newMemoryRepository()
	service := NewService(repo, outreach.NewScheduler(rand.New(rand.NewPCG(1, 2))))
	service.now = func() time.Time { return testStart }

	renderer, err := render.NewRenderer()
	if err != nil {
		panic(err)
	}

	sender := &fakeSender{}
	dispatcher := NewDispatcher(repo, service,
		map[domain.Channel]delivery.Sender{domain.ChannelEmail: sender},
		renderer,
		DispatcherConfig{BatchSize: 2, RatePerSecond: 1000, Burst: 1000},
	)
	// Every planned message is due.
	dispatcher.now = func() time.Time { return testStart.AddDate(0, 1, 0) }

	return &testEnv{repo: repo, service: service, sender: sender, dispatcher: dispatcher}
}

func emailCampaignInput(steps ...domain.SequenceStep) CampaignInput {
	if len(steps) == 0 {
		steps = []domain.SequenceStep{
			{Subject: "Hi {{ firstName }}", TemplateBody: "Hello {{ .firstName | title }} at {{ company }}"},
		}
	}
	return CampaignInput{
		Name:          "Spring outbound",
		Channel:       domain.ChannelEmail,
		SequenceSteps: steps,
	}
}

func testLeads(ids ...string) []domain.Lead {
	leads := make([]domain.Lead, 0, len(ids))
	for _, id := range ids {
		leads = append(leads, domain.Lead{
			ID: id,
			Data: map[string]any{
				"email":     id + "@example.com",
				"firstName": id,
				"company":   "Acme",
			},
		})
	}
	return leads
}
