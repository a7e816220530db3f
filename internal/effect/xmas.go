package effect

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/huefx/internal/hue"
)

// Xmas oscillation bounds. Higher saturation values are more saturated on the
// bridges this was tuned against, whatever the API docs say.
const (
	xmasMinSat uint8  = 25
	xmasMaxSat uint8  = 200
	xmasMinCT  uint16 = 153
	xmasMaxCT  uint16 = 454

	xmasTick           = time.Second
	xmasRestoreTimeout = 30 * time.Second
)

// Chromaticity of the red the color lights are set to.
var xmasRed = []float64{0.675, 0.322}

// Xmas cycles full-color lights through a red saturation wave and color
// temperature lights through a warm/cool wave until cancelled, then puts
// every light back the way it found it.
type Xmas struct {
	runner

	cfg   XmasConfig
	gw    Gateway
	clock Clock
	tick  time.Duration
}

// NewXmas creates a xmas executor.
func NewXmas(cfg XmasConfig, gw Gateway, clock Clock) *Xmas {
	if clock == nil {
		clock = RealClock{}
	}
	x := &Xmas{
		cfg:   cfg,
		gw:    gw,
		clock: clock,
		tick:  xmasTick,
	}
	x.runner.setup(KindXmas)
	return x
}

// Start launches the effect.
func (x *Xmas) Start(ctx context.Context) error {
	return x.launch(ctx, x.run)
}

func (x *Xmas) run(ctx context.Context, logger zerolog.Logger) error {
	if err := awaitPredecessor(ctx, x.clock, logger); err != nil {
		return err
	}
	l := newLights(x.gw, logger)

	// The member states read here are what gets restored at the end.
	members, err := l.inGroup(ctx, x.cfg.LightGroupID)
	if err != nil {
		return err
	}
	color := filter(members, (*hue.Light).SupportsColor)
	ambiance := filter(members, func(light *hue.Light) bool {
		return light.SupportsColorTemperature() && !light.SupportsColor()
	})
	if len(color)+len(ambiance) == 0 {
		return fmt.Errorf("group %s has no color or color temperature lights", x.cfg.LightGroupID)
	}

	colorIDs, ambianceIDs := idsOf(color), idsOf(ambiance)
	logger.Info().
		Strs("color", colorIDs).
		Strs("ambiance", ambianceIDs).
		Msg("Xmas lights resolved")

	snapshot := append(append([]*hue.Light{}, color...), ambiance...)
	defer x.restore(ctx, l, snapshot, logger)

	l.switchOn(ctx, append(append([]string{}, colorIDs...), ambianceIDs...), nil)
	l.send(ctx, hue.Command{XY: xmasRed}, colorIDs)

	steps := halfCycleSteps(x.cfg.CycleLength, x.tick)
	logger.Info().Int("steps", steps).Dur("tick", x.tick).Msg("Oscillation started")

	for i := 0; ; i = (i + 1) % (2 * steps) {
		if ctx.Err() != nil {
			break
		}

		sat, ct := xmasWave(i, steps)
		issued := x.clock.Now()
		l.detach(ctx, func(ctx context.Context) { l.setSaturation(ctx, sat, colorIDs) })
		l.detach(ctx, func(ctx context.Context) { l.setColorTemperature(ctx, ct, ambianceIDs) })

		// The tick is measured from issue, not from bridge acknowledgement.
		if err := sleep(ctx, x.clock, x.tick-x.clock.Now().Sub(issued)); err != nil {
			break
		}
	}
	return ctx.Err()
}

// restore waits for in-flight commands and then puts each light back into its
// captured state. Failures are logged only.
func (x *Xmas) restore(ctx context.Context, l *lights, snapshot []*hue.Light, logger zerolog.Logger) {
	l.wait()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), xmasRestoreTimeout)
	defer cancel()

	failed := 0
	for _, light := range snapshot {
		if err := x.gw.SendCommand(rctx, restoreCommand(light), light.ID); err != nil {
			failed++
			logger.Warn().Err(err).Str("light", light.ID).Msg("Failed to restore light")
		}
	}
	logger.Info().Int("lights", len(snapshot)).Int("failed", failed).Msg("Light state restored")
}

// restoreCommand rebuilds the command that returns light to its captured state.
func restoreCommand(light *hue.Light) hue.Command {
	s := light.State
	if !s.On {
		return hue.Command{On: hue.Ptr(false)}
	}

	cmd := hue.Command{On: hue.Ptr(true)}
	if s.Bri > 0 {
		cmd.Bri = hue.Ptr(s.Bri)
	}

	switch {
	case s.ColorMode == "xy" && len(s.XY) == 2:
		cmd.XY = s.XY
	case s.ColorMode == "hs":
		cmd.Hue = hue.Ptr(s.Hue)
		cmd.Sat = hue.Ptr(s.Sat)
	case s.ColorMode == "ct" && s.CT > 0:
		cmd.CT = hue.Ptr(s.CT)
	case light.SupportsColor() && len(s.XY) == 2:
		cmd.XY = s.XY
	case light.SupportsColorTemperature() && s.CT > 0:
		cmd.CT = hue.Ptr(s.CT)
	}
	return cmd
}

// halfCycleSteps returns how many ticks each half of a cycle takes. An odd
// tick count rounds up, so the cycle never runs shorter than configured.
func halfCycleSteps(cycleLength int, tick time.Duration) int {
	var ticks int64
	if tick >= time.Second {
		ticks = int64(cycleLength) / int64(tick/time.Second)
	} else {
		ticks = int64(cycleLength) * int64(time.Second/tick)
	}
	steps := int((ticks + 1) / 2)
	if steps < 1 {
		steps = 1
	}
	return steps
}

// xmasWave returns the saturation and color temperature at position i of a
// 2*steps long triangle wave: steps values rising from the minimum, then
// steps values falling from the maximum.
func xmasWave(i, steps int) (uint8, uint16) {
	satSpan := int(xmasMaxSat - xmasMinSat)
	ctSpan := int(xmasMaxCT - xmasMinCT)

	if i < steps {
		return xmasMinSat + uint8(satSpan*i/steps), xmasMinCT + uint16(ctSpan*i/steps)
	}
	j := i - steps
	return xmasMaxSat - uint8(satSpan*j/steps), xmasMaxCT - uint16(ctSpan*j/steps)
}
