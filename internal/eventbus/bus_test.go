package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToTypedAndWildcardHandlers(t *testing.T) {
	bus := NewWithConfig(2, 10)
	defer bus.Close(context.Background())

	var (
		mu      sync.Mutex
		started []string
		all     []EventType
		wg      sync.WaitGroup
	)
	wg.Add(3)

	bus.Subscribe(EventEffectStarted, func(e Event) {
		defer wg.Done()
		mu.Lock()
		started = append(started, e.RunID)
		mu.Unlock()
	})
	bus.SubscribeAll(func(e Event) {
		defer wg.Done()
		mu.Lock()
		all = append(all, e.Type)
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventEffectStarted, RunID: "a"})
	bus.Publish(Event{Type: EventEffectStopped, RunID: "a"})

	waitTimeout(t, &wg)
	assert.Equal(t, []string{"a"}, started)
	assert.ElementsMatch(t, []EventType{EventEffectStarted, EventEffectStopped}, all)
}

func TestBus_HandlerPanicDoesNotKillWorker(t *testing.T) {
	bus := NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	bus.Subscribe(EventEffectFinished, func(e Event) {
		defer wg.Done()
		if e.RunID == "boom" {
			panic("handler failure")
		}
	})

	bus.Publish(Event{Type: EventEffectFinished, RunID: "boom"})
	bus.Publish(Event{Type: EventEffectFinished, RunID: "ok"})
	waitTimeout(t, &wg)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := NewWithConfig(1, 1)
	called := false
	bus.SubscribeAll(func(Event) { called = true })

	bus.Close(context.Background())
	bus.Close(context.Background())

	require.NotPanics(t, func() { bus.Publish(Event{Type: EventEffectStarted}) })
	assert.False(t, called)
}

func TestBus_PublishStampsTime(t *testing.T) {
	bus := New()
	defer bus.Close(context.Background())

	got := make(chan Event, 1)
	bus.SubscribeAll(func(e Event) { got <- e })
	bus.Publish(Event{Type: EventEffectStarted})

	select {
	case e := <-got:
		assert.WithinDuration(t, time.Now(), e.Time, time.Minute)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
}
