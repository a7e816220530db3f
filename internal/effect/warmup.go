package effect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/huefx/internal/hue"
	"github.com/dokzlo13/huefx/internal/scheduler"
)

const (
	legOn  = "on"
	legOff = "off"
)

// Warmup ramps color temperature lights up at the turn-on time and back down
// and off at the turn-off time, every day until cancelled.
//
// The turn-on ramp starts at the turn-on time; the turn-off ramp is shifted
// earlier by its transition so it ends at the turn-off time. Only the off
// leg re-arms the timers for the following day.
type Warmup struct {
	runner

	cfg      WarmupConfig
	gw       Gateway
	resolver Resolver
	clock    Clock

	mu   sync.Mutex
	next map[string]time.Time
}

// NewWarmup creates a warmup executor.
func NewWarmup(cfg WarmupConfig, gw Gateway, resolver Resolver, clock Clock) *Warmup {
	if clock == nil {
		clock = RealClock{}
	}
	w := &Warmup{
		cfg:      cfg,
		gw:       gw,
		resolver: resolver,
		clock:    clock,
		next:     make(map[string]time.Time),
	}
	w.runner.setup(KindWarmup)
	return w
}

// Start launches the effect.
func (w *Warmup) Start(ctx context.Context) error {
	return w.launch(ctx, w.run)
}

// NextTimes returns the armed fire time of each pending leg.
func (w *Warmup) NextTimes() map[string]time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]time.Time, len(w.next))
	for leg, at := range w.next {
		out[leg] = at
	}
	return out
}

func (w *Warmup) setNext(leg string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if at.IsZero() {
		delete(w.next, leg)
		return
	}
	w.next[leg] = at
}

func (w *Warmup) run(ctx context.Context, logger zerolog.Logger) error {
	if err := awaitPredecessor(ctx, w.clock, logger); err != nil {
		return err
	}
	l := newLights(w.gw, logger)

	ids, err := l.resolveByCapability(ctx, w.cfg.LightGroupID, (*hue.Light).SupportsColorTemperature)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("group %s has no color temperature lights", w.cfg.LightGroupID)
	}
	logger.Info().Strs("lights", ids).Msg("Warmup lights resolved")

	var onTimer, offTimer Timer
	defer func() {
		stopTimer(onTimer)
		stopTimer(offTimer)
	}()

	arm := func(t *Timer, leg string, spec scheduler.Spec, preOffset bool) error {
		now := w.clock.Now()
		at, err := w.resolver.Resolve(spec, now, preOffset)
		if err != nil {
			return fmt.Errorf("failed to schedule turn-%s: %w", leg, err)
		}
		stopTimer(*t)
		*t = w.clock.NewTimer(at.Sub(now))
		w.setNext(leg, at)

		logger.Info().
			Str("leg", leg).
			Str("schedule", spec.String()).
			Time("at", at).
			Dur("in", at.Sub(now)).
			Msg("Timer armed")
		return nil
	}
	armBoth := func() error {
		if err := arm(&onTimer, legOn, w.cfg.TurnOnAt, false); err != nil {
			return err
		}
		return arm(&offTimer, legOff, w.cfg.TurnOffAt, true)
	}

	if err := armBoth(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timerC(onTimer):
			onTimer = nil
			w.setNext(legOn, time.Time{})
			if ctx.Err() != nil {
				continue
			}
			logger.Info().Msg("Turn-on timer fired")
			l.switchOn(ctx, ids, hue.Ptr(w.cfg.MinColorTemp))
			w.ramp(ctx, l, ids, w.cfg.MinColorTemp, w.cfg.MaxColorTemp, w.cfg.TurnOnAt.Transition.Duration())

		case <-timerC(offTimer):
			offTimer = nil
			w.setNext(legOff, time.Time{})
			if ctx.Err() != nil {
				continue
			}
			logger.Info().Msg("Turn-off timer fired")
			if !w.ramp(ctx, l, ids, w.cfg.MaxColorTemp, w.cfg.MinColorTemp, w.cfg.TurnOffAt.Transition.Duration()) {
				continue
			}
			l.switchOff(ctx, ids)
			if err := armBoth(); err != nil {
				return err
			}
		}
	}
}

// ramp steps the color temperature one mired at a time from `from` to `to`
// inclusive. The first value is sent right away and the rest are spread over
// transition. It reports whether the ramp ran to completion.
func (w *Warmup) ramp(ctx context.Context, l *lights, ids []string, from, to uint16, transition time.Duration) bool {
	step := stepDuration(transition, from, to)
	dir := 1
	if to < from {
		dir = -1
	}

	l.logger.Info().
		Uint16("from", from).
		Uint16("to", to).
		Dur("step", step).
		Msg("Ramp started")

	for temp := int(from); ; temp += dir {
		if temp != int(from) {
			if err := sleep(ctx, w.clock, step); err != nil {
				l.logger.Info().Int("ct", temp).Msg("Ramp aborted")
				return false
			}
		}
		if ctx.Err() != nil {
			return false
		}
		l.setColorTemperature(ctx, uint16(temp), ids)
		if temp == int(to) {
			break
		}
	}

	l.logger.Info().Uint16("ct", to).Msg("Ramp finished")
	return true
}

// stepDuration spreads transition over the temperature span. A zero span
// yields no delay.
func stepDuration(transition time.Duration, from, to uint16) time.Duration {
	span := int(to) - int(from)
	if span < 0 {
		span = -span
	}
	if span == 0 {
		return 0
	}
	return transition / time.Duration(span)
}
