package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huefx/internal/db"
	"github.com/dokzlo13/huefx/internal/eventbus"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndRecent(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2024, 12, 10, 18, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append("run-1", "warmup", "effect_started", base, nil))
	require.NoError(t, l.Append("run-1", "warmup", "effect_stopped", base.Add(time.Minute), map[string]any{"reason": "replaced"}))
	require.NoError(t, l.Append("run-2", "xmas", "effect_started", base.Add(time.Minute), nil))

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "run-2", entries[0].RunID)
	assert.Equal(t, "effect_stopped", entries[1].Event)
	assert.Equal(t, "replaced", entries[1].Detail["reason"])
	assert.Equal(t, base, entries[2].Timestamp)
	assert.Nil(t, entries[2].Detail)

	limited, err := l.Recent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestByRun(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2024, 12, 10, 18, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append("run-1", "xmas", "effect_started", base, nil))
	require.NoError(t, l.Append("run-2", "warmup", "effect_started", base.Add(time.Second), nil))
	require.NoError(t, l.Append("run-1", "xmas", "effect_finished", base.Add(2*time.Second), map[string]any{"state": "cancelled"}))

	entries, err := l.ByRun("run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "effect_started", entries[0].Event)
	assert.Equal(t, "cancelled", entries[1].Detail["state"])
}

func TestDeleteOlderThan(t *testing.T) {
	l := newTestLedger(t)
	now := time.Date(2024, 12, 10, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Append("old", "warmup", "effect_started", now.Add(-48*time.Hour), nil))
	require.NoError(t, l.Append("new", "warmup", "effect_started", now.Add(-time.Hour), nil))

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := l.Recent(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].RunID)
}

func TestSubscribeRecordsBusEvents(t *testing.T) {
	l := newTestLedger(t)
	bus := eventbus.New()
	l.Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventEffectStarted, RunID: "abc", Effect: "xmas", State: "running"})
	bus.Publish(eventbus.Event{Type: eventbus.EventEffectFinished, RunID: "abc", Effect: "xmas", State: "failed", Error: "boom"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)

	entries, err := l.ByRun("abc")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	events := []string{entries[0].Event, entries[1].Event}
	assert.ElementsMatch(t, []string{"effect_started", "effect_finished"}, events)
	for _, e := range entries {
		if e.Event == "effect_finished" {
			assert.Equal(t, "boom", e.Detail["error"])
		}
	}
}

func TestCleaner(t *testing.T) {
	l := newTestLedger(t)
	now := time.Now()

	require.NoError(t, l.Append("old", "warmup", "effect_started", now.Add(-10*24*time.Hour), nil))
	require.NoError(t, l.Append("new", "warmup", "effect_started", now, nil))

	c, err := NewCleaner(l, 7*24*time.Hour, "")
	require.NoError(t, err)
	c.RunOnce()

	entries, err := l.Recent(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].RunID)

	c.Start()
	c.Stop()
}

func TestNewCleaner_Validation(t *testing.T) {
	l := newTestLedger(t)

	_, err := NewCleaner(l, 0, "@daily")
	assert.Error(t, err)

	_, err = NewCleaner(l, time.Hour, "every tuesday")
	assert.Error(t, err)

	_, err = NewCleaner(l, time.Hour, "0 3 * * *")
	assert.NoError(t, err)
}
