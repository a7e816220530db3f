package scheduler

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// SunTimesProvider returns the named sun phases for the date of day.
// Phases that do not occur on that day are absent from the result.
type SunTimesProvider interface {
	SunTimes(day time.Time) (map[string]time.Time, error)
}

// Resolver turns a Spec into the next concrete fire instant.
type Resolver struct {
	sun  SunTimesProvider
	tz   *time.Location
	intn func(n int) int
}

// NewResolver creates a resolver. sun may be nil, in which case only fixed
// schedules resolve.
func NewResolver(sun SunTimesProvider, tz *time.Location) *Resolver {
	if tz == nil {
		tz = time.Local
	}
	return &Resolver{
		sun:  sun,
		tz:   tz,
		intn: rand.IntN,
	}
}

// Resolve returns the next instant at which spec fires, strictly after now.
//
// With preOffset set, the transition duration is subtracted from the nominal
// time so that a ramp started at the returned instant completes at the
// nominal time. A result that is not after now is moved forward by a day;
// sun phases drift slightly between days, which is accepted.
func (r *Resolver) Resolve(spec Spec, now time.Time, preOffset bool) (time.Time, error) {
	base, err := r.base(spec, now)
	if err != nil {
		return time.Time{}, err
	}

	t := base
	if preOffset {
		t = t.Add(-spec.Transition.Duration())
	}
	if spec.JitterMinutes > 0 {
		j := spec.JitterMinutes
		t = t.Add(time.Duration(r.intn(2*j+1)-j) * time.Minute)
	}

	for !t.After(now) {
		t = t.Add(24 * time.Hour)
	}
	return t, nil
}

// Until returns the time remaining from now until spec fires.
func (r *Resolver) Until(spec Spec, now time.Time, preOffset bool) (time.Duration, error) {
	t, err := r.Resolve(spec, now, preOffset)
	if err != nil {
		return 0, err
	}
	return t.Sub(now), nil
}

// base returns the un-adjusted instant for today's date in the resolver timezone.
func (r *Resolver) base(spec Spec, now time.Time) (time.Time, error) {
	today := now.In(r.tz)

	switch spec.Kind {
	case KindFixed:
		return spec.FixedTime.On(today, r.tz), nil

	case KindSun:
		if r.sun == nil {
			return time.Time{}, fmt.Errorf("%w: sun schedule %q requires geo", ErrInvalidSchedule, spec.SunEvent)
		}
		phases, err := r.sun.SunTimes(today)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to get sun times: %w", err)
		}
		t, ok := phases[spec.SunEvent]
		if !ok {
			return time.Time{}, fmt.Errorf("%w: unknown sun event %q", ErrInvalidSchedule, spec.SunEvent)
		}
		return t, nil

	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, spec.Kind)
	}
}
