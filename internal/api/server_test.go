package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/geo"
	"github.com/dokzlo13/huefx/internal/hue"
	"github.com/dokzlo13/huefx/internal/ledger"
	"github.com/dokzlo13/huefx/internal/orchestrator"
)

type fakeEffects struct {
	mu      sync.Mutex
	configs orchestrator.Configs
	active  *orchestrator.RunInfo
	applied []effect.Config
	stopped int
}

func newFakeEffects() *fakeEffects {
	return &fakeEffects{configs: orchestrator.Configs{
		Warmup: effect.NewWarmupConfig(),
		Xmas:   effect.NewXmasConfig(),
	}}
}

func (f *fakeEffects) Active() *orchestrator.RunInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeEffects) Configs() (orchestrator.Configs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs, nil
}

func (f *fakeEffects) Config(kind effect.Kind) (effect.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case effect.KindWarmup:
		return f.configs.Warmup, nil
	case effect.KindXmas:
		return f.configs.Xmas, nil
	}
	return nil, orchestrator.ErrUnknownEffect
}

func (f *fakeEffects) Apply(ctx context.Context, cfg effect.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applied = append(f.applied, cfg)
	switch c := cfg.(type) {
	case effect.WarmupConfig:
		f.configs.Warmup = c
	case effect.XmasConfig:
		f.configs.Xmas = c
	}
	if cfg.IsActive() {
		f.active = &orchestrator.RunInfo{ID: "run-1", Kind: cfg.Kind(), Config: cfg, State: effect.StateRunning}
	}
	return nil
}

func (f *fakeEffects) appliedConfigs() []effect.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]effect.Config(nil), f.applied...)
}

func (f *fakeEffects) setActive(info *orchestrator.RunInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = info
}

func (f *fakeEffects) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.active = nil
	return nil
}

type fakeGroups struct {
	groups []hue.Group
	err    error
}

func (f fakeGroups) Groups(ctx context.Context) ([]hue.Group, error) { return f.groups, f.err }

type fakeSun struct{}

func (fakeSun) Phases(day time.Time) ([]geo.SunPhase, error) {
	return []geo.SunPhase{
		{Name: geo.PhaseSunrise, Time: time.Date(day.Year(), day.Month(), day.Day(), 8, 0, 0, 0, day.Location())},
		{Name: geo.PhaseSunset, Time: time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, day.Location())},
	}, nil
}

type fakeHistory struct{ entries []*ledger.Entry }

func (f fakeHistory) Recent(limit int) ([]*ledger.Entry, error) {
	if limit > 0 && limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthAndReady(t *testing.T) {
	s, ts := newTestServer(t, Options{Effects: newFakeEffects()})

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.SetReady(true)
	resp, body = do(t, http.MethodGet, ts.URL+"/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestStatus(t *testing.T) {
	effects := newFakeEffects()
	_, ts := newTestServer(t, Options{Effects: effects})

	resp, body := do(t, http.MethodGet, ts.URL+"/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["active"])

	configs := body["configs"].(map[string]any)
	xmas := configs["xmas"].(map[string]any)
	assert.Equal(t, float64(60), xmas["cycle_length"])
}

func TestApplyEffect_StartsXmas(t *testing.T) {
	effects := newFakeEffects()
	_, ts := newTestServer(t, Options{Effects: effects})

	resp, body := do(t, http.MethodPost, ts.URL+"/api/effects/xmas", `{"active": true, "cycle_length": 20}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	applied := effects.appliedConfigs()
	require.Len(t, applied, 1)
	xmas := applied[0].(effect.XmasConfig)
	assert.True(t, xmas.Active)
	assert.Equal(t, 20, xmas.CycleLength)
	assert.Equal(t, "1", xmas.LightGroupID, "fields missing from the body keep their stored values")

	active := body["active"].(map[string]any)
	assert.Equal(t, "xmas", active["kind"])
	assert.Equal(t, "running", active["state"])
}

func TestApplyEffect_PartialWarmupUpdate(t *testing.T) {
	effects := newFakeEffects()
	_, ts := newTestServer(t, Options{Effects: effects})

	body := `{"turn_on_at": {"kind": "fixed", "fixed_time": "18:30", "jitter_minutes": 5, "transition": "20m"}}`
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/effects/warmup", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	applied := effects.appliedConfigs()[0].(effect.WarmupConfig)
	assert.False(t, applied.Active)
	assert.Equal(t, "18:30", applied.TurnOnAt.FixedTime.String())
	assert.Equal(t, "sunrise", applied.TurnOffAt.SunEvent)
}

func TestApplyEffect_Errors(t *testing.T) {
	_, ts := newTestServer(t, Options{Effects: newFakeEffects()})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown_kind", "/api/effects/strobe", `{}`, http.StatusNotFound},
		{"invalid_json", "/api/effects/xmas", `{"cycle_length":`, http.StatusBadRequest},
		{"unknown_field", "/api/effects/xmas", `{"speed": 3}`, http.StatusBadRequest},
		{"empty_body", "/api/effects/xmas", ``, http.StatusBadRequest},
		{"validation", "/api/effects/xmas", `{"cycle_length": 1}`, http.StatusBadRequest},
		{"bad_temperature", "/api/effects/warmup", `{"min_color_temp": 100}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetEffect(t *testing.T) {
	_, ts := newTestServer(t, Options{Effects: newFakeEffects()})

	resp, body := do(t, http.MethodGet, ts.URL+"/api/effects/warmup", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(effect.MinColorTemp), body["min_color_temp"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/effects/strobe", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStopEffect(t *testing.T) {
	effects := newFakeEffects()
	effects.setActive(&orchestrator.RunInfo{ID: "r", Kind: effect.KindWarmup})
	_, ts := newTestServer(t, Options{Effects: effects})

	resp, body := do(t, http.MethodPost, ts.URL+"/api/effects/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	effects.mu.Lock()
	assert.Equal(t, 1, effects.stopped)
	effects.mu.Unlock()
	assert.Nil(t, body["active"])
}

func TestGroups(t *testing.T) {
	groups := fakeGroups{groups: []hue.Group{{ID: "1", Name: "Living room", Lights: []string{"1", "2"}}}}
	_, ts := newTestServer(t, Options{Effects: newFakeEffects(), Groups: groups})

	resp, err := http.Get(ts.URL + "/api/groups")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded []hue.Group
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, groups.groups, decoded)

	_, failing := newTestServer(t, Options{Effects: newFakeEffects(), Groups: fakeGroups{err: errors.New("bridge down")}})
	resp2, body := do(t, http.MethodGet, failing.URL+"/api/groups", "")
	assert.Equal(t, http.StatusBadGateway, resp2.StatusCode)
	assert.Equal(t, "bridge down", body["error"])
}

func TestSun(t *testing.T) {
	_, ts := newTestServer(t, Options{Effects: newFakeEffects(), Sun: fakeSun{}})

	resp, body := do(t, http.MethodGet, ts.URL+"/api/sun?date=2024-06-21", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2024-06-21", body["date"])
	assert.Len(t, body["phases"], 2)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/sun?date=june", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, noSun := newTestServer(t, Options{Effects: newFakeEffects()})
	resp, _ = do(t, http.MethodGet, noSun.URL+"/api/sun", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	history := fakeHistory{entries: []*ledger.Entry{
		{ID: 2, RunID: "b", Effect: "xmas", Event: "effect_started"},
		{ID: 1, RunID: "a", Effect: "warmup", Event: "effect_stopped"},
	}}
	_, ts := newTestServer(t, Options{Effects: newFakeEffects(), History: history})

	resp, err := http.Get(ts.URL + "/api/history?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []ledger.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].RunID)

	bad, _ := do(t, http.MethodGet, ts.URL+"/api/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	_, disabled := newTestServer(t, Options{Effects: newFakeEffects()})
	off, _ := do(t, http.MethodGet, disabled.URL+"/api/history", "")
	assert.Equal(t, http.StatusNotFound, off.StatusCode)
}

func TestWebsocket_StatusAndEvents(t *testing.T) {
	effects := newFakeEffects()
	hub := NewHub(nil, func() any { return effects.Active() })
	bus := eventbus.New()
	hub.Subscribe(bus)
	_, ts := newTestServer(t, Options{Effects: effects, Hub: hub})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := read()
	assert.Equal(t, MessageStatus, first.Type)
	assert.Nil(t, first.Payload)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	effects.setActive(&orchestrator.RunInfo{ID: "run-9", Kind: effect.KindXmas, State: effect.StateRunning})
	bus.Publish(eventbus.Event{Type: eventbus.EventEffectStarted, RunID: "run-9", Effect: "xmas"})

	ev := read()
	assert.Equal(t, MessageEvent, ev.Type)
	assert.Equal(t, "effect_started", ev.Payload.(map[string]any)["type"])

	status := read()
	assert.Equal(t, MessageStatus, status.Type)
	assert.Equal(t, "run-9", status.Payload.(map[string]any)["id"])

	hub.CloseAll()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://huefx.local:8080/ws", nil)

	sameHostOnly := checkOrigin(nil)
	assert.True(t, sameHostOnly(req), "no origin header")

	req.Header.Set("Origin", "http://huefx.local:8080")
	assert.True(t, sameHostOnly(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, sameHostOnly(req))
	assert.True(t, checkOrigin([]string{"http://evil.example"})(req))
	assert.True(t, checkOrigin([]string{"*"})(req))
}
