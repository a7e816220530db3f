package effect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huefx/internal/hue"
)

type sentCommand struct {
	Light string
	Cmd   hue.Command
	At    time.Time
}

type fakeGateway struct {
	mu     sync.Mutex
	groups map[string][]string
	lights map[string]*hue.Light
	fail   map[string]bool
	sent   []sentCommand
	clock  Clock

	// latency delays every command, like a real bridge round trip.
	latency time.Duration
}

func newFakeGateway(lights ...*hue.Light) *fakeGateway {
	g := &fakeGateway{
		groups: make(map[string][]string),
		lights: make(map[string]*hue.Light),
		fail:   make(map[string]bool),
		clock:  RealClock{},
	}
	var ids []string
	for _, l := range lights {
		g.lights[l.ID] = l
		ids = append(ids, l.ID)
	}
	g.groups["1"] = ids
	return g
}

func (g *fakeGateway) GetGroup(ctx context.Context, groupID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids, ok := g.groups[groupID]
	if !ok {
		return nil, errors.New("group not found")
	}
	return append([]string(nil), ids...), nil
}

func (g *fakeGateway) GetLight(ctx context.Context, lightID string) (*hue.Light, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.lights[lightID]
	if !ok {
		return nil, errors.New("light not found")
	}
	cp := *l
	cp.State.XY = append([]float64(nil), l.State.XY...)
	return &cp, nil
}

func (g *fakeGateway) SendCommand(ctx context.Context, cmd hue.Command, lightIDs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.latency > 0 {
		select {
		case <-time.After(g.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for _, id := range lightIDs {
		g.sent = append(g.sent, sentCommand{Light: id, Cmd: cmd, At: g.clock.Now()})
		if g.fail[id] {
			errs = append(errs, errors.New("light "+id+" unreachable"))
			continue
		}
		if l, ok := g.lights[id]; ok {
			applyCommand(&l.State, cmd)
		}
	}
	return errors.Join(errs...)
}

func applyCommand(s *hue.LightState, cmd hue.Command) {
	if cmd.On != nil {
		s.On = *cmd.On
	}
	if cmd.Bri != nil {
		s.Bri = *cmd.Bri
	}
	if cmd.CT != nil {
		s.CT = *cmd.CT
		s.ColorMode = "ct"
	}
	if cmd.Sat != nil {
		s.Sat = *cmd.Sat
	}
	if len(cmd.XY) == 2 {
		s.XY = cmd.XY
		s.ColorMode = "xy"
	}
}

func (g *fakeGateway) commandsFor(id string) []sentCommand {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []sentCommand
	for _, s := range g.sent {
		if s.Light == id {
			out = append(out, s)
		}
	}
	return out
}

func (g *fakeGateway) cts(id string) []uint16 {
	var out []uint16
	for _, s := range g.commandsFor(id) {
		if s.Cmd.CT != nil && s.Cmd.On == nil {
			out = append(out, *s.Cmd.CT)
		}
	}
	return out
}

func (g *fakeGateway) sats(id string) []uint8 {
	var out []uint8
	for _, s := range g.commandsFor(id) {
		if s.Cmd.Sat != nil && s.Cmd.On == nil {
			out = append(out, *s.Cmd.Sat)
		}
	}
	return out
}

func (g *fakeGateway) isOn(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.lights[id]
	return ok && l.State.On
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func colorLight(id string, on bool) *hue.Light {
	return &hue.Light{
		ID:   id,
		Name: "color " + id,
		State: hue.LightState{
			On: on, Bri: 180, XY: []float64{0.31, 0.33}, CT: 300, ColorMode: "xy", Reachable: true,
		},
		Capabilities: hue.Capabilities{Control: hue.Control{
			ColorGamutType: "C",
			CT:             &hue.CTRange{Min: 153, Max: 500},
		}},
	}
}

func ambianceLight(id string, on bool) *hue.Light {
	return &hue.Light{
		ID:   id,
		Name: "ambiance " + id,
		State: hue.LightState{
			On: on, Bri: 90, CT: 366, ColorMode: "ct", Reachable: true,
		},
		Capabilities: hue.Capabilities{Control: hue.Control{
			CT: &hue.CTRange{Min: 153, Max: 454},
		}},
	}
}

func whiteLight(id string) *hue.Light {
	return &hue.Light{
		ID:    id,
		Name:  "white " + id,
		State: hue.LightState{On: true, Bri: 254, Reachable: true},
	}
}

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	ch    chan time.Time
	done  bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.done = true
		t.ch <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.done
	t.done = true
	return active
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves the clock forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.done = true
		next.ch <- next.at
	}
	c.now = target
}

// AdvanceTo moves the clock to at.
func (c *fakeClock) AdvanceTo(at time.Time) {
	c.Advance(at.Sub(c.Now()))
}

func (c *fakeClock) waitPending(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.pending() == n }, 2*time.Second, time.Millisecond,
		"expected %d pending timers, have %d", n, c.pending())
}

func waitDone(t *testing.T, exec Executor) {
	t.Helper()
	select {
	case <-exec.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("executor did not stop, state %s", exec.State())
	}
}
