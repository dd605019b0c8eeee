package outreach

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow is returned for a send window that cannot be parsed or
// ends before it starts.
var ErrInvalidWindow = errors.New("invalid send window")

// Window is a daily time-of-day range, in minutes after midnight. Both ends
// are inclusive.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses "HH:mm" bounds.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e < s {
		return Window{}, fmt.Errorf("%w: %s is before %s", ErrInvalidWindow, end, start)
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not HH:mm", ErrInvalidWindow, v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// At returns the moment minute minutes after midnight on t's calendar day,
// in t's location.
func At(t time.Time, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, t.Location())
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// AddBusinessDays advances t by days calendar days, not counting Saturdays
// and Sundays when skipWeekends is set. The time of day is preserved.
func AddBusinessDays(t time.Time, days int, skipWeekends bool) time.Time {
	if !skipWeekends {
		return t.AddDate(0, 0, days)
	}
	for days > 0 {
		t = t.AddDate(0, 0, 1)
		if !IsWeekend(t) {
			days--
		}
	}
	return t
}

// nextBusinessDay returns t, or the following Monday when t is a weekend
// day and weekends are skipped.
func nextBusinessDay(t time.Time, skipWeekends bool) time.Time {
	if skipWeekends && IsWeekend(t) {
		return AddBusinessDays(t, 1, true)
	}
	return t
}
