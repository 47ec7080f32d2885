package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Process lifecycle events.
const (
	EventProcessStarted = "process.started"
	EventProcessStopped = "process.stopped"
	EventSessionOpened  = "session.opened"
	EventSessionFailed  = "session.failed"
)

// Conversation loop events.
const (
	EventInstructionsSent  = "instructions.sent"
	EventUtteranceReceived = "utterance.received"
	EventUtteranceIgnored  = "utterance.ignored"
	EventReplySent         = "reply.sent"
	EventReplyFailed       = "reply.failed"
	EventPollFailed        = "poll.failed"
	EventRefreshCompleted  = "refresh.completed"
	EventRefreshFailed     = "refresh.failed"
	EventRecoveryAttempted = "recovery.attempted"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates the events table.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`)
	return err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// LatestRun returns the id of the most recent root process.started event,
// or 0 when the journal is empty.
func LatestRun(db *sql.DB) (int64, error) {
	var id int64
	err := db.QueryRow(
		`SELECT id FROM events WHERE event_type = ? AND parent_id IS NULL ORDER BY id DESC LIMIT 1`,
		EventProcessStarted,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// RunByID returns the root event id of the run with the given run_id.
func RunByID(db *sql.DB, runID string) (int64, error) {
	var id int64
	err := db.QueryRow(
		`SELECT id FROM events
		 WHERE event_type = ? AND parent_id IS NULL AND json_extract(payload, '$.run_id') = ?
		 ORDER BY id DESC LIMIT 1`,
		EventProcessStarted, runID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("run %s not found", runID)
	}
	return id, err
}
