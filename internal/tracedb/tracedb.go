// Package tracedb persists a harness run's local-event logs to SQLite so a
// failing scenario can be replayed or inspected after the process exits —
// an optional debug aid the engine never depends on. Uses database/sql
// against the modernc.org/sqlite driver, WAL journal mode plus a
// busy_timeout pragma on open, and INSERT ... ON CONFLICT upserts for
// idempotent re-runs of the same seed.
package tracedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"distsim/internal/message"
)

// DB stores local events recorded across one or more scenario runs.
type DB struct {
	db *sql.DB
}

// Open creates path's parent directory if needed and opens (or creates) the
// trace database.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("tracedb: create directory: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracedb: open %s: %w", path, err)
	}
	if _, err := sqlDB.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("tracedb: set journal mode: %w", err)
	}
	if _, err := sqlDB.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("tracedb: set busy timeout: %w", err)
	}
	if _, err := sqlDB.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	harness    TEXT NOT NULL,
	scenario   TEXT NOT NULL,
	seed       INTEGER NOT NULL,
	passed     INTEGER,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
)`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("tracedb: initialize runs schema: %w", err)
	}
	if _, err := sqlDB.Exec(`
CREATE TABLE IF NOT EXISTS local_events (
	run_id   TEXT NOT NULL REFERENCES runs(run_id),
	node_id  TEXT NOT NULL,
	seq      INTEGER NOT NULL,
	kind     TEXT NOT NULL,
	time     REAL NOT NULL,
	msg_kind TEXT NOT NULL,
	payload  TEXT NOT NULL,
	PRIMARY KEY (run_id, node_id, seq)
)`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("tracedb: initialize local_events schema: %w", err)
	}
	return &DB{db: sqlDB}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// RecordRun upserts a run's identity (so the same run_id can be re-traced
// across repeated invocations of the same scenario/seed during debugging)
// and, if passed is non-nil, its final pass/fail outcome.
func (d *DB) RecordRun(runID, harness, scenario string, seed int64, passed *bool) error {
	var passedVal any
	if passed != nil {
		passedVal = boolToInt(*passed)
	}
	_, err := d.db.Exec(`
INSERT INTO runs (run_id, harness, scenario, seed, passed)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	harness  = excluded.harness,
	scenario = excluded.scenario,
	seed     = excluded.seed,
	passed   = COALESCE(excluded.passed, runs.passed)`,
		runID, harness, scenario, seed, passedVal)
	if err != nil {
		return fmt.Errorf("tracedb: record run %q: %w", runID, err)
	}
	return nil
}

// RecordEvents persists nodeID's local-event log under runID, replacing
// any previously recorded events for that (run, node) pair.
func (d *DB) RecordEvents(runID, nodeID string, events []message.LocalEvent) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("tracedb: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM local_events WHERE run_id = ? AND node_id = ?`, runID, nodeID); err != nil {
		return fmt.Errorf("tracedb: clear prior events for %q: %w", nodeID, err)
	}
	stmt, err := tx.Prepare(`
INSERT INTO local_events (run_id, node_id, seq, kind, time, msg_kind, payload)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("tracedb: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, ev := range events {
		if _, err := stmt.Exec(runID, nodeID, i, ev.Kind.String(), ev.Time, ev.Message.Kind, ev.Message.Payload); err != nil {
			return fmt.Errorf("tracedb: insert event %d for %q: %w", i, nodeID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tracedb: commit: %w", err)
	}
	return nil
}

// ReplayEvents returns nodeID's recorded local-event log for runID, in the
// original sequence order, for post-mortem inspection of a failed run.
func (d *DB) ReplayEvents(runID, nodeID string) ([]message.LocalEvent, error) {
	rows, err := d.db.Query(`
SELECT kind, time, msg_kind, payload FROM local_events
WHERE run_id = ? AND node_id = ?
ORDER BY seq`, runID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("tracedb: query events for %q: %w", nodeID, err)
	}
	defer rows.Close()

	var out []message.LocalEvent
	for rows.Next() {
		var kindStr, msgKind, payload string
		var t float64
		if err := rows.Scan(&kindStr, &t, &msgKind, &payload); err != nil {
			return nil, fmt.Errorf("tracedb: scan event row: %w", err)
		}
		out = append(out, message.LocalEvent{
			Kind:    parseEventKind(kindStr),
			Time:    t,
			Message: message.Envelope{Kind: msgKind, Payload: payload},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracedb: iterate event rows: %w", err)
	}
	return out, nil
}

func parseEventKind(s string) message.EventKind {
	if s == message.LocalOutput.String() {
		return message.LocalOutput
	}
	return message.LocalInput
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
