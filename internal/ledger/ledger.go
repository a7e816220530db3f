// Package ledger keeps an append-only history of effect runs.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/eventbus"
)

// DefaultLimit caps Recent when no limit is given.
const DefaultLimit = 100

// Entry is a single lifecycle transition of an effect run.
type Entry struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	Effect    string         `json:"effect"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Ledger provides append-only history logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append records a transition. detail may be nil.
func (l *Ledger) Append(runID, effect, event string, at time.Time, detail map[string]any) error {
	var detailJSON sql.NullString
	if len(detail) > 0 {
		data, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to marshal detail: %w", err)
		}
		detailJSON = sql.NullString{String: string(data), Valid: true}
	}
	if at.IsZero() {
		at = l.now()
	}

	_, err := l.db.Exec(
		`INSERT INTO effect_history (run_id, effect, event, timestamp, detail) VALUES (?, ?, ?, ?, ?)`,
		runID, effect, event, at.UTC().UnixMilli(), detailJSON,
	)
	return err
}

// Record stores a bus event.
func (l *Ledger) Record(ev eventbus.Event) error {
	detail := map[string]any{}
	if ev.State != "" {
		detail["state"] = ev.State
	}
	if ev.Reason != "" {
		detail["reason"] = ev.Reason
	}
	if ev.Error != "" {
		detail["error"] = ev.Error
	}
	return l.Append(ev.RunID, ev.Effect, string(ev.Type), ev.Time, detail)
}

// Subscribe records every bus event.
func (l *Ledger) Subscribe(bus *eventbus.Bus) {
	bus.SubscribeAll(func(ev eventbus.Event) {
		if err := l.Record(ev); err != nil {
			log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to record effect history")
		}
	})
}

// Recent returns the newest entries first.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := l.db.Query(`
		SELECT id, run_id, effect, event, timestamp, detail
		FROM effect_history
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ByRun returns the entries of one run in the order they happened.
func (l *Ledger) ByRun(runID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, run_id, effect, event, timestamp, detail
		FROM effect_history
		WHERE run_id = ?
		ORDER BY timestamp ASC, id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`DELETE FROM effect_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var detail sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.Effect, &entry.Event, &timestamp, &detail); err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		if detail.Valid && detail.String != "" {
			entry.Detail = make(map[string]any)
			if err := json.Unmarshal([]byte(detail.String), &entry.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal detail: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
