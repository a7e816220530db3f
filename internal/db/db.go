// Package db opens the SQLite database shared by the effect history and the geocache.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

var schema = []struct {
	name string
	ddl  string
}{
	{
		// Append-only record of effect runs: one row per started/stopped/finished transition.
		name: "effect_history",
		ddl: `
			CREATE TABLE IF NOT EXISTS effect_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL,
				effect TEXT NOT NULL,
				event TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				detail TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_history_ts ON effect_history(timestamp);
			CREATE INDEX IF NOT EXISTS idx_history_run ON effect_history(run_id);
		`,
	},
	{
		name: "geocache",
		ddl: `
			CREATE TABLE IF NOT EXISTS geocache (
				query TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				created_at INTEGER NOT NULL
			);
		`,
	},
}

// Open opens the database at path and creates missing tables.
// ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = path
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every new connection would otherwise see its own empty database.
		sqlDB.SetMaxOpenConns(1)
	}

	for _, s := range schema {
		if _, err := sqlDB.Exec(s.ddl); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to create %s table: %w", s.name, err)
		}
	}

	return &DB{sqlDB}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
