package db

import (
	"database/sql"
	"os"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Journal records the events of one process run under a single root
// process.started event. Write failures are logged, never returned: the
// journal is an audit trail and must not stop the loop.
type Journal struct {
	db    *sql.DB
	runID string
	root  int64
	log   *zap.Logger
}

// StartJournal writes the root event of a new run. attrs are merged into
// its payload next to run_id and pid.
func StartJournal(database *sql.DB, attrs map[string]any, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	runID := ulid.Make().String()
	payload := map[string]any{"run_id": runID, "pid": os.Getpid()}
	for k, v := range attrs {
		payload[k] = v
	}
	root, err := LogEvent(database, nil, EventProcessStarted, payload)
	if err != nil {
		return nil, err
	}
	return &Journal{db: database, runID: runID, root: root, log: log}, nil
}

// RunID is the ULID of this run.
func (j *Journal) RunID() string { return j.runID }

// Root is the id of the run's process.started event.
func (j *Journal) Root() int64 { return j.root }

// Record appends an event under parent, or under the run root when parent
// is 0. It returns the new event id, or 0 if the write failed.
func (j *Journal) Record(parent int64, eventType string, payload map[string]any) int64 {
	if parent == 0 {
		parent = j.root
	}
	id, err := LogEvent(j.db, &parent, eventType, payload)
	if err != nil {
		j.log.Warn("journal write failed", zap.String("event", eventType), zap.Error(err))
		return 0
	}
	return id
}
