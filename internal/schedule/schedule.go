package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// specParser accepts standard 5-field cron expressions (minute hour dom month dow).
// Descriptors (@hourly etc.) are deliberately not accepted: every persisted
// rule is a plain 5-field spec so it round-trips through the store unchanged.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var (
	ErrEmptyRecurrence = errors.New("schedule: neither cron spec nor instant set")
	ErrDualRecurrence  = errors.New("schedule: both cron spec and instant set")
)

// Recurrence describes when a task fires: either a repeating 5-field cron
// rule (Spec) or a single absolute instant (At). Exactly one is set.
type Recurrence struct {
	Spec string    `json:"spec,omitempty"`
	At   time.Time `json:"at,omitempty"`
}

// OneTime reports whether this recurrence fires exactly once.
func (r Recurrence) OneTime() bool { return strings.TrimSpace(r.Spec) == "" && !r.At.IsZero() }

// Validate checks the mutual-exclusion invariant and that a cron spec parses.
func (r Recurrence) Validate() error {
	spec := strings.TrimSpace(r.Spec)
	switch {
	case spec == "" && r.At.IsZero():
		return ErrEmptyRecurrence
	case spec != "" && !r.At.IsZero():
		return ErrDualRecurrence
	case spec != "":
		if _, err := specParser.Parse(spec); err != nil {
			return fmt.Errorf("schedule: invalid cron spec %q: %w", spec, err)
		}
	}
	return nil
}

// Next returns the first fire instant strictly after the given time,
// interpreting a cron rule in loc. It returns the zero time when the
// recurrence is exhausted (a one-time instant that has passed) or invalid.
func (r Recurrence) Next(after time.Time, loc *time.Location) time.Time {
	if r.OneTime() {
		if r.At.After(after) {
			return r.At
		}
		return time.Time{}
	}
	spec := strings.TrimSpace(r.Spec)
	if spec == "" {
		return time.Time{}
	}
	if loc != nil {
		spec = "CRON_TZ=" + loc.String() + " " + spec
	}
	sched, err := specParser.Parse(spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(after)
}

// Describe renders a short human-readable summary of the recurrence.
func (r Recurrence) Describe(loc *time.Location) string {
	if r.OneTime() {
		at := r.At
		if loc != nil {
			at = at.In(loc)
		}
		return "once at " + at.Format("2006-01-02 15:04")
	}

	parts := strings.Fields(strings.TrimSpace(r.Spec))
	if len(parts) != 5 {
		return "cron " + r.Spec
	}
	minute, hour, dom, month, dow := parts[0], parts[1], parts[2], parts[3], parts[4]

	// Interval shapes: */N minutes, 0 */N hours, 0 * (hourly).
	if dom == "*" && month == "*" && dow == "*" {
		if strings.HasPrefix(minute, "*/") && hour == "*" {
			return "every " + minute[2:] + " minutes"
		}
		if minute == "0" && hour == "*" {
			return "every hour"
		}
		if minute == "0" && strings.HasPrefix(hour, "*/") {
			return "every " + hour[2:] + " hours"
		}
	}

	// Fixed time-of-day shapes.
	h, herr := strconv.Atoi(hour)
	m, merr := strconv.Atoi(minute)
	if herr == nil && merr == nil && dom == "*" && month == "*" {
		at := fmt.Sprintf("%02d:%02d", h, m)
		switch dow {
		case "*":
			return "every day at " + at
		case "1-5":
			return "every weekday at " + at
		case "0,6", "6,0":
			return "weekends at " + at
		default:
			if name, ok := dowNames[dow]; ok {
				return "every " + name + " at " + at
			}
		}
	}
	return "cron " + r.Spec
}

var dowNames = map[string]string{
	"0": "Sunday", "1": "Monday", "2": "Tuesday", "3": "Wednesday",
	"4": "Thursday", "5": "Friday", "6": "Saturday", "7": "Sunday",
}
