package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/orchestrator"
)

type message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// fakeClient records published messages.
type fakeClient struct {
	mu       sync.Mutex
	messages []message
	err      error
	closed   bool
}

func (f *fakeClient) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) on(topic string) []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message
	for _, m := range f.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func TestNewTopics(t *testing.T) {
	topics := NewTopics("home/huefx")
	assert.Equal(t, "home/huefx/active", topics.Active)
	assert.Equal(t, "home/huefx/events", topics.Events)
	assert.Equal(t, "home/huefx/availability", topics.Availability)
}

func TestPublishStatus_NoActiveEffect(t *testing.T) {
	client := &fakeClient{}
	p := NewStatusPublisher(client, "huefx", func() *orchestrator.RunInfo { return nil })

	require.NoError(t, p.PublishStatus())

	msgs := client.on("huefx/active")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Retained)
	assert.JSONEq(t, `{"active":null}`, string(msgs[0].Payload))
}

func TestHandleEvent_PublishesEventAndStatus(t *testing.T) {
	client := &fakeClient{}
	info := &orchestrator.RunInfo{
		ID:        "run-1",
		Kind:      effect.KindXmas,
		Config:    effect.NewXmasConfig().WithActive(true),
		StartedAt: time.Date(2024, 12, 24, 18, 0, 0, 0, time.UTC),
		State:     effect.StateRunning,
	}
	p := NewStatusPublisher(client, "huefx", func() *orchestrator.RunInfo { return info })

	require.NoError(t, p.HandleEvent(eventbus.Event{Type: eventbus.EventEffectStarted, RunID: "run-1", Effect: "xmas"}))

	events := client.on("huefx/events")
	require.Len(t, events, 1)
	assert.False(t, events[0].Retained)
	var ev eventbus.Event
	require.NoError(t, json.Unmarshal(events[0].Payload, &ev))
	assert.Equal(t, eventbus.EventEffectStarted, ev.Type)

	status := client.on("huefx/active")
	require.Len(t, status, 1)
	var decoded struct {
		Active struct {
			ID     string         `json:"id"`
			Kind   string         `json:"kind"`
			State  string         `json:"state"`
			Config map[string]any `json:"config"`
		} `json:"active"`
	}
	require.NoError(t, json.Unmarshal(status[0].Payload, &decoded))
	assert.Equal(t, "run-1", decoded.Active.ID)
	assert.Equal(t, "xmas", decoded.Active.Kind)
	assert.Equal(t, "running", decoded.Active.State)
	assert.Equal(t, float64(60), decoded.Active.Config["cycle_length"])
}

func TestHandleEvent_ClientError(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := NewStatusPublisher(client, "huefx", func() *orchestrator.RunInfo { return nil })

	assert.Error(t, p.HandleEvent(eventbus.Event{Type: eventbus.EventEffectStopped}))
}

func TestSubscribe(t *testing.T) {
	client := &fakeClient{}
	bus := eventbus.New()
	p := NewStatusPublisher(client, "huefx", func() *orchestrator.RunInfo { return nil })
	p.Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventEffectFinished, RunID: "r", Effect: "warmup"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)

	assert.Len(t, client.on("huefx/events"), 1)
	assert.Len(t, client.on("huefx/active"), 1)
}

func TestClose_MarksOffline(t *testing.T) {
	client := &fakeClient{}
	p := NewStatusPublisher(client, "huefx", nil)

	require.NoError(t, p.Close())

	msgs := client.on("huefx/availability")
	require.Len(t, msgs, 1)
	assert.Equal(t, Offline, string(msgs[0].Payload))
	assert.True(t, msgs[0].Retained)
	assert.True(t, client.closed)
}
