// Package scheduler resolves declarative effect schedules into concrete instants.
// A schedule is either a fixed time of day or a named sun phase, optionally
// shifted by a transition window and randomized by a symmetric jitter.
package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSchedule is returned when a schedule cannot be resolved.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Kind selects the base time of a schedule.
type Kind string

const (
	KindFixed Kind = "fixed"
	KindSun   Kind = "sun"
)

// Spec describes when an event should fire.
type Spec struct {
	Kind          Kind      `json:"kind"`
	FixedTime     TimeOfDay `json:"fixed_time"`          // used iff Kind == KindFixed
	SunEvent      string    `json:"sun_event,omitempty"` // used iff Kind == KindSun
	JitterMinutes int       `json:"jitter_minutes"`      // symmetric random offset bound
	Transition    Duration  `json:"transition"`          // ramp window
}

// FixedSpec returns a fixed time-of-day schedule with a one hour transition.
func FixedSpec(hour, min int) Spec {
	return Spec{
		Kind:       KindFixed,
		FixedTime:  NewTimeOfDay(hour, min, 0),
		Transition: Duration(time.Hour),
	}
}

// SunSpec returns a sun-relative schedule with a one hour transition.
// The fixed time is kept as a fallback value for callers switching the kind.
func SunSpec(event string, fallbackHour int) Spec {
	return Spec{
		Kind:       KindSun,
		FixedTime:  NewTimeOfDay(fallbackHour, 0, 0),
		SunEvent:   event,
		Transition: Duration(time.Hour),
	}
}

// Validate checks the static shape of the schedule. Whether a sun event exists
// on a given day is only known at resolution time.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindFixed:
		if s.FixedTime < 0 || time.Duration(s.FixedTime) >= 24*time.Hour {
			return fmt.Errorf("%w: fixed time %s out of range", ErrInvalidSchedule, s.FixedTime)
		}
	case KindSun:
		if s.SunEvent == "" {
			return fmt.Errorf("%w: sun event name is required", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	if s.JitterMinutes < 0 {
		return fmt.Errorf("%w: jitter must not be negative", ErrInvalidSchedule)
	}
	if s.Transition < 0 {
		return fmt.Errorf("%w: transition must not be negative", ErrInvalidSchedule)
	}
	return nil
}

// String renders the schedule for logs, e.g. "@sunset ~15m -1h0m0s".
func (s Spec) String() string {
	var sb strings.Builder
	if s.Kind == KindSun {
		sb.WriteString("@" + s.SunEvent)
	} else {
		sb.WriteString(s.FixedTime.String())
	}
	if s.JitterMinutes > 0 {
		fmt.Fprintf(&sb, " ~%dm", s.JitterMinutes)
	}
	if s.Transition > 0 {
		fmt.Fprintf(&sb, " (transition %s)", s.Transition.Duration())
	}
	return sb.String()
}

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

// Match "22:15", "06:30", "06:30:15"
var timeOfDayPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// NewTimeOfDay builds a TimeOfDay from clock components.
func NewTimeOfDay(hour, min, sec int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute + time.Duration(sec)*time.Second)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	matches := timeOfDayPattern.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return 0, fmt.Errorf("invalid time of day: %q", s)
	}

	hour, _ := strconv.Atoi(matches[1])
	min, _ := strconv.Atoi(matches[2])
	sec := 0
	if matches[3] != "" {
		sec, _ = strconv.Atoi(matches[3])
	}

	if hour > 23 {
		return 0, fmt.Errorf("invalid hour: %d", hour)
	}
	if min > 59 {
		return 0, fmt.Errorf("invalid minute: %d", min)
	}
	if sec > 59 {
		return 0, fmt.Errorf("invalid second: %d", sec)
	}

	return NewTimeOfDay(hour, min, sec), nil
}

// Clock returns the hour, minute and second components.
func (t TimeOfDay) Clock() (hour, min, sec int) {
	d := time.Duration(t)
	hour = int(d / time.Hour)
	min = int(d % time.Hour / time.Minute)
	sec = int(d % time.Minute / time.Second)
	return hour, min, sec
}

// On returns the instant of this time of day on the date of day, in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	day = day.In(loc)
	hour, min, sec := t.Clock()
	nsec := int(time.Duration(t) % time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, sec, nsec, loc)
}

func (t TimeOfDay) String() string {
	hour, min, sec := t.Clock()
	if sec != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hour, min, sec)
	}
	return fmt.Sprintf("%02d:%02d", hour, min)
}

// MarshalJSON encodes the time of day as "HH:MM[:SS]".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes "HH:MM[:SS]".
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Duration is a time.Duration that encodes to JSON as a Go duration string.
type Duration time.Duration

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration as e.g. "1h30m0s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	*d = Duration(n)
	return nil
}
