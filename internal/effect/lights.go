package effect

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/huefx/internal/hue"
)

// lights wraps the gateway with the best-effort command helpers effects share.
// Command failures are logged and never abort an effect.
type lights struct {
	gw      Gateway
	logger  zerolog.Logger
	pending sync.WaitGroup
}

func newLights(gw Gateway, logger zerolog.Logger) *lights {
	return &lights{gw: gw, logger: logger}
}

// inGroup reads the group membership and the state of every member.
// Lights whose state cannot be read are skipped.
func (l *lights) inGroup(ctx context.Context, groupID string) ([]*hue.Light, error) {
	ids, err := l.gw.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group %s: %w", groupID, err)
	}

	members := make([]*hue.Light, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		light, err := l.gw.GetLight(ctx, id)
		if err != nil {
			l.logger.Warn().Err(err).Str("light", id).Msg("Skipping light, state unavailable")
			continue
		}
		if light.ID == "" {
			light.ID = id
		}
		members = append(members, light)
	}
	return members, nil
}

// resolveByCapability returns the ids of group members matching pred.
func (l *lights) resolveByCapability(ctx context.Context, groupID string, pred func(*hue.Light) bool) ([]string, error) {
	members, err := l.inGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return idsOf(filter(members, pred)), nil
}

func (l *lights) switchOn(ctx context.Context, ids []string, ct *uint16) {
	if l.send(ctx, hue.Command{On: hue.Ptr(true), CT: ct}, ids) {
		l.verify(ctx, ids, true)
	}
}

func (l *lights) switchOff(ctx context.Context, ids []string) {
	if l.send(ctx, hue.Command{On: hue.Ptr(false)}, ids) {
		l.verify(ctx, ids, false)
	}
}

// verify reads each light back and logs any that did not reach the wanted power state.
func (l *lights) verify(ctx context.Context, ids []string, wantOn bool) {
	for _, id := range ids {
		light, err := l.gw.GetLight(ctx, id)
		if err != nil {
			l.logger.Warn().Err(err).Str("light", id).Msg("Readback failed")
			continue
		}
		if light.State.On != wantOn {
			l.logger.Warn().
				Str("light", id).
				Bool("want_on", wantOn).
				Bool("on", light.State.On).
				Msg("Light did not reach requested state")
		}
	}
}

func (l *lights) setColorTemperature(ctx context.Context, ct uint16, ids []string) {
	l.send(ctx, hue.Command{CT: &ct}, ids)
}

func (l *lights) setSaturation(ctx context.Context, sat uint8, ids []string) {
	l.send(ctx, hue.Command{Sat: &sat}, ids)
}

// send issues cmd and reports whether every light accepted it.
func (l *lights) send(ctx context.Context, cmd hue.Command, ids []string) bool {
	if len(ids) == 0 || ctx.Err() != nil {
		return false
	}
	if err := l.gw.SendCommand(ctx, cmd, ids...); err != nil {
		if ctx.Err() == nil {
			l.logger.Warn().Err(err).Strs("lights", ids).Msg("Light command failed")
		}
		return false
	}
	return true
}

// detach runs fn on its own goroutine without waiting for it. wait blocks
// until every detached call has returned.
func (l *lights) detach(ctx context.Context, fn func(ctx context.Context)) {
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error().Interface("panic", r).Msg("Detached light command panicked")
			}
		}()
		fn(ctx)
	}()
}

func (l *lights) wait() {
	l.pending.Wait()
}

func filter(in []*hue.Light, pred func(*hue.Light) bool) []*hue.Light {
	var out []*hue.Light
	for _, light := range in {
		if pred(light) {
			out = append(out, light)
		}
	}
	return out
}

func idsOf(in []*hue.Light) []string {
	ids := make([]string, 0, len(in))
	for _, light := range in {
		ids = append(ids, light.ID)
	}
	return ids
}
