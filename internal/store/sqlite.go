// Package store persists session snapshots in sqlite so a crashed process
// can resume a live game on restart.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"about-last-night/server/internal/game/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_snapshot (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_snapshot_updated ON session_snapshot(updated_at);
`

// SQLite implements the hub's snapshot store on a local database file.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The hub serializes writes already; a single connection avoids
	// SQLITE_BUSY on the file-backed database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Save upserts the snapshot keyed by session id.
func (s *SQLite) Save(snap session.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO session_snapshot (id, status, updated_at, payload)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    updated_at = excluded.updated_at,
    payload = excluded.payload`,
		snap.ID, string(snap.Status), time.Now().UTC(), string(payload))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Load returns the most recent non-ended snapshot, if any.
func (s *SQLite) Load() (session.Snapshot, bool, error) {
	row := s.db.QueryRow(`
SELECT payload FROM session_snapshot
WHERE status != ?
ORDER BY updated_at DESC
LIMIT 1`, string(session.StatusEnded))

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return session.Snapshot{}, false, nil
		}
		return session.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return session.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Clear drops every persisted snapshot.
func (s *SQLite) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM session_snapshot`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
