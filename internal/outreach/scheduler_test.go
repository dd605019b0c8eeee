package outreach

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(seed uint64) *Scheduler {
	return NewScheduler(rand.New(rand.NewPCG(seed, seed+1)))
}

func testLeads(n int) []domain.Lead {
	leads := make([]domain.Lead, n)
	for i := range leads {
		leads[i] = domain.Lead{ID: fmt.Sprintf("lead-%03d", i), Data: map[string]any{"email": fmt.Sprintf("l%d@example.com", i)}}
	}
	return leads
}

func testCampaign(start time.Time, settings domain.CampaignSettings, steps ...domain.SequenceStep) *domain.Campaign {
	return &domain.Campaign{
		ID:            "c-1",
		Channel:       domain.ChannelEmail,
		Status:        domain.CampaignStatusDraft,
		SequenceSteps: steps,
		Settings:      settings,
		ScheduledAt:   &start,
	}
}

func step(n, delay int) domain.SequenceStep {
	return domain.SequenceStep{StepNumber: n, DelayDays: delay, Subject: "Hi", TemplateBody: "Hello {{ firstName }}"}
}

// Monday 2026-03-02 08:00 UTC.
var monday = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

func TestMaterialize_DailyLimitPartitioning(t *testing.T) {
	s := newTestScheduler(1)
	settings := domain.DefaultCampaignSettings()
	settings.DailyLimit = 50

	messages, err := s.Materialize(testCampaign(monday, settings, step(0, 0)), testLeads(120))
	require.NoError(t, err)
	require.Len(t, messages, 120)

	perDay := map[string]int{}
	for _, m := range messages {
		perDay[dayOf(m.ScheduledAt)]++
	}
	assert.Equal(t, map[string]int{
		"2026-03-02": 50,
		"2026-03-03": 50,
		"2026-03-04": 20,
	}, perDay)
}

func TestMaterialize_PartitioningSkipsWeekend(t *testing.T) {
	s := newTestScheduler(2)
	settings := domain.DefaultCampaignSettings()
	settings.DailyLimit = 10

	thursday := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	messages, err := s.Materialize(testCampaign(thursday, settings, step(0, 0)), testLeads(30))
	require.NoError(t, err)

	days := map[string]bool{}
	for _, m := range messages {
		days[dayOf(m.ScheduledAt)] = true
		assert.False(t, IsWeekend(m.ScheduledAt), m.ScheduledAt)
	}
	assert.Equal(t, map[string]bool{"2026-03-05": true, "2026-03-06": true, "2026-03-09": true}, days)
}

func TestMaterialize_StepDelayInBusinessDays(t *testing.T) {
	s := newTestScheduler(3)
	settings := domain.DefaultCampaignSettings()

	friday := time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC)
	messages, err := s.Materialize(testCampaign(friday, settings, step(0, 0), step(1, 3)), testLeads(2))
	require.NoError(t, err)
	require.Len(t, messages, 4)

	for _, m := range messages {
		switch m.StepNumber {
		case 0:
			assert.Equal(t, "2026-03-06", dayOf(m.ScheduledAt))
		case 1:
			assert.Equal(t, time.Wednesday, m.ScheduledAt.Weekday())
			assert.Equal(t, "2026-03-11", dayOf(m.ScheduledAt))
		}
		assert.Equal(t, domain.MessageStatusScheduled, m.Status)
		assert.Equal(t, domain.ChannelEmail, m.Channel)
		assert.Equal(t, "c-1", m.CampaignID)
	}
}

func TestMaterialize_TimesWithinWindow(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := newTestScheduler(4)
	settings := domain.CampaignSettings{
		DailyLimit:      25,
		SendWindowStart: "10:15",
		SendWindowEnd:   "11:45",
		Timezone:        "America/New_York",
		SkipWeekends:    true,
	}

	messages, err := s.Materialize(testCampaign(monday, settings, step(0, 0), step(1, 2)), testLeads(100))
	require.NoError(t, err)

	for _, m := range messages {
		local := m.ScheduledAt.In(loc)
		minute := local.Hour()*60 + local.Minute()
		assert.GreaterOrEqual(t, minute, 10*60+15, local)
		assert.LessOrEqual(t, minute, 11*60+45, local)
		assert.Zero(t, local.Second())
		assert.False(t, IsWeekend(local))
		assert.False(t, m.ScheduledAt.Before(monday))
	}
}

func TestMaterialize_ClipsToStartTime(t *testing.T) {
	s := newTestScheduler(5)
	settings := domain.DefaultCampaignSettings()

	midday := time.Date(2026, 3, 2, 13, 20, 30, 0, time.UTC)
	messages, err := s.Materialize(testCampaign(midday, settings, step(0, 0)), testLeads(40))
	require.NoError(t, err)

	for _, m := range messages {
		assert.Equal(t, "2026-03-02", dayOf(m.ScheduledAt))
		assert.False(t, m.ScheduledAt.Before(midday), m.ScheduledAt)
	}
}

func TestMaterialize_AfterWindowStartsNextBusinessDay(t *testing.T) {
	s := newTestScheduler(6)
	settings := domain.DefaultCampaignSettings()

	fridayEvening := time.Date(2026, 3, 6, 19, 0, 0, 0, time.UTC)
	messages, err := s.Materialize(testCampaign(fridayEvening, settings, step(0, 0)), testLeads(3))
	require.NoError(t, err)

	for _, m := range messages {
		assert.Equal(t, "2026-03-09", dayOf(m.ScheduledAt))
	}
}

func TestMaterialize_OffsetsCountFromFirstBusinessDay(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		steps []domain.SequenceStep
		want  map[int]string
	}{
		{
			name:  "friday after window",
			start: time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC),
			steps: []domain.SequenceStep{step(0, 0), step(1, 1), step(2, 3)},
			want:  map[int]string{0: "2026-03-09", 1: "2026-03-10", 2: "2026-03-12"},
		},
		{
			name:  "saturday",
			start: time.Date(2026, 3, 7, 11, 0, 0, 0, time.UTC),
			steps: []domain.SequenceStep{step(0, 0), step(1, 1)},
			want:  map[int]string{0: "2026-03-09", 1: "2026-03-10"},
		},
		{
			name:  "sunday before window",
			start: time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC),
			steps: []domain.SequenceStep{step(0, 0), step(1, 2)},
			want:  map[int]string{0: "2026-03-09", 1: "2026-03-11"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(11)
			messages, err := s.Materialize(testCampaign(tt.start, domain.DefaultCampaignSettings(), tt.steps...), testLeads(5))
			require.NoError(t, err)
			require.Len(t, messages, 5*len(tt.steps))

			latest := map[int]time.Time{}
			earliest := map[int]time.Time{}
			for _, m := range messages {
				assert.Equal(t, tt.want[m.StepNumber], dayOf(m.ScheduledAt), "step %d", m.StepNumber)
				// The weekend start must not narrow Monday's window.
				assert.GreaterOrEqual(t, m.ScheduledAt.Hour(), 9)
				if e, ok := earliest[m.StepNumber]; !ok || m.ScheduledAt.Before(e) {
					earliest[m.StepNumber] = m.ScheduledAt
				}
				if l, ok := latest[m.StepNumber]; !ok || m.ScheduledAt.After(l) {
					latest[m.StepNumber] = m.ScheduledAt
				}
			}
			// Steps on different days keep their order.
			for n := 1; n < len(tt.steps); n++ {
				if tt.want[n] != tt.want[n-1] {
					assert.True(t, latest[n-1].Before(earliest[n]), "step %d before step %d", n-1, n)
				}
			}
		})
	}
}

func TestMaterialize_Deterministic(t *testing.T) {
	settings := domain.DefaultCampaignSettings()
	c := testCampaign(monday, settings, step(0, 0), step(1, 1))

	first, err := newTestScheduler(42).Materialize(c, testLeads(30))
	require.NoError(t, err)
	second, err := newTestScheduler(42).Materialize(c, testLeads(30))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ScheduledAt, second[i].ScheduledAt)
	}
}

func TestMaterialize_DeduplicatesLeads(t *testing.T) {
	s := newTestScheduler(7)
	leads := append(testLeads(3), domain.Lead{ID: "lead-000"})

	messages, err := s.Materialize(testCampaign(monday, domain.DefaultCampaignSettings(), step(0, 0)), leads)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
}

func TestMaterialize_UsesStepChannel(t *testing.T) {
	s := newTestScheduler(8)
	linkedin := step(0, 0)
	linkedin.Channel = domain.ChannelLinkedIn

	messages, err := s.Materialize(testCampaign(monday, domain.DefaultCampaignSettings(), linkedin), testLeads(1))
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelLinkedIn, messages[0].Channel)
}

func TestMaterialize_InvalidSettings(t *testing.T) {
	s := newTestScheduler(9)

	bad := domain.DefaultCampaignSettings()
	bad.Timezone = "Mars/Olympus"
	_, err := s.Materialize(testCampaign(monday, bad, step(0, 0)), testLeads(1))
	assert.Error(t, err)

	bad = domain.DefaultCampaignSettings()
	bad.SendWindowEnd = "08:00"
	_, err = s.Materialize(testCampaign(monday, bad, step(0, 0)), testLeads(1))
	assert.ErrorIs(t, err, ErrInvalidWindow)

	bad = domain.DefaultCampaignSettings()
	bad.DailyLimit = 0
	_, err = s.Materialize(testCampaign(monday, bad, step(0, 0)), testLeads(1))
	assert.Error(t, err)
}
