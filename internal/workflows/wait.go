package workflows

import "time"

// WaitUnit is the unit of a wait step.
type WaitUnit string

// Wait units.
const (
	WaitMinutes WaitUnit = "minutes"
	WaitHours   WaitUnit = "hours"
	WaitDays    WaitUnit = "days"
	WaitWeeks   WaitUnit = "weeks"
)

var unitDurations = map[WaitUnit]time.Duration{
	WaitMinutes: time.Minute,
	WaitHours:   time.Hour,
	WaitDays:    24 * time.Hour,
	WaitWeeks:   7 * 24 * time.Hour,
}

// WaitDuration returns amount*unit. Amount defaults to 1 and unit to days.
func WaitDuration(amount int, unit WaitUnit) time.Duration {
	if amount <= 0 {
		amount = 1
	}
	d, ok := unitDurations[unit]
	if !ok {
		d = unitDurations[WaitDays]
	}
	return time.Duration(amount) * d
}

func (w WaitStep) withDefaults() WaitStep {
	if w.Amount <= 0 {
		w.Amount = 1
	}
	if _, ok := unitDurations[w.Unit]; !ok {
		w.Unit = WaitDays
	}
	return w
}

// Duration returns the delay of the wait step.
func (w WaitStep) Duration() time.Duration {
	return WaitDuration(w.Amount, w.Unit)
}

// position moves from index idx past any wait steps, adding their
// durations to at. It returns the index of the next step to execute, which
// equals len(steps) when the sequence is exhausted, and its due time.
func position(steps []Step, idx int, at time.Time) (int, time.Time) {
	for idx < len(steps) {
		w, ok := steps[idx].(WaitStep)
		if !ok {
			break
		}
		at = at.Add(w.Duration())
		idx++
	}
	return idx, at
}
