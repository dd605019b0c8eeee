// Package outreach places campaign messages in time: business-day offsets,
// daily send windows and per-day caps.
package outreach

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
)

// Scheduler expands a campaign sequence over an audience into scheduled
// messages. The minute of each message inside the send window is drawn at
// random; inject a seeded source for reproducible results.
type Scheduler struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewScheduler creates a scheduler. A nil rng is seeded from the clock.
func NewScheduler(rng *rand.Rand) *Scheduler {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Scheduler{rng: rng, now: time.Now}
}

// Plan is the placement of one sequence step: the send day of every chunk
// of at most dailyLimit leads.
type Plan struct {
	Step int
	Days []time.Time
}

// Materialize returns one scheduled message per (lead, step). Leads are
// deduplicated by id, keeping the first occurrence. Messages are due no
// earlier than the campaign's scheduled time, or now when it is unset.
func (s *Scheduler) Materialize(c *domain.Campaign, leads []domain.Lead) ([]domain.ScheduledMessage, error) {
	settings := c.Settings
	if settings.DailyLimit <= 0 {
		return nil, fmt.Errorf("daily limit must be positive, got %d", settings.DailyLimit)
	}
	window, err := ParseWindow(settings.SendWindowStart, settings.SendWindowEnd)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", settings.Timezone, err)
	}

	start := s.now()
	if c.ScheduledAt != nil {
		start = *c.ScheduledAt
	}
	start = firstSendTime(start.In(loc), window, settings.SkipWeekends)

	audience := uniqueLeads(leads)
	chunks := (len(audience) + settings.DailyLimit - 1) / settings.DailyLimit

	messages := make([]domain.ScheduledMessage, 0, len(audience)*len(c.SequenceSteps))
	for _, step := range c.SequenceSteps {
		plan := s.plan(start, step, chunks, settings.SkipWeekends)

		channel := step.Channel
		if channel == "" {
			channel = c.Channel
		}

		for i, lead := range audience {
			day := plan.Days[i/settings.DailyLimit]
			messages = append(messages, domain.ScheduledMessage{
				CampaignID:   c.ID,
				EntityID:     lead.ID,
				EntityData:   lead.Data,
				StepNumber:   step.StepNumber,
				Channel:      channel,
				Status:       domain.MessageStatusScheduled,
				Subject:      step.Subject,
				TemplateBody: step.TemplateBody,
				ScheduledAt:  s.pickTime(day, window, start),
			})
		}
	}

	messagesPlanned.Add(float64(len(messages)))
	return messages, nil
}

// firstSendTime moves start to the earliest moment a message may go out:
// start itself when it falls inside a business day's window, otherwise the
// window start of the next business day. Offsets are counted from here.
func firstSendTime(start time.Time, w Window, skipWeekends bool) time.Time {
	if At(start, w.End).Before(start) {
		// Today's window is over.
		start = At(start.AddDate(0, 0, 1), w.Start)
	}
	if skipWeekends && IsWeekend(start) {
		start = At(nextBusinessDay(start, true), w.Start)
	}
	return start
}

// plan computes the send day of each chunk of a step: the step's base day
// is start advanced by DelayDays business days, chunk k goes k business
// days later. start must already be a business day.
func (s *Scheduler) plan(start time.Time, step domain.SequenceStep, chunks int, skipWeekends bool) Plan {
	base := AddBusinessDays(start, step.DelayDays, skipWeekends)

	days := make([]time.Time, chunks)
	for k := range days {
		days[k] = AddBusinessDays(base, k, skipWeekends)
	}
	return Plan{Step: step.StepNumber, Days: days}
}

// pickTime draws a minute inside the window on day, never earlier than
// notBefore.
func (s *Scheduler) pickTime(day time.Time, w Window, notBefore time.Time) time.Time {
	lo, hi := At(day, w.Start), At(day, w.End)
	if lo.Before(notBefore) {
		lo = notBefore.Truncate(time.Minute)
		if lo.Before(notBefore) {
			lo = lo.Add(time.Minute)
		}
	}
	if lo.After(hi) {
		lo = hi
	}

	span := int(hi.Sub(lo) / time.Minute)
	s.mu.Lock()
	offset := s.rng.IntN(span + 1)
	s.mu.Unlock()
	return lo.Add(time.Duration(offset) * time.Minute)
}

func uniqueLeads(leads []domain.Lead) []domain.Lead {
	seen := make(map[string]bool, len(leads))
	out := make([]domain.Lead, 0, len(leads))
	for _, l := range leads {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		out = append(out, l)
	}
	return out
}
