package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EventLog is a local, append-only sqlite record of named events.
// cmd/drillctl records phase transitions, spindle-revolution counts and
// the cycle machine's own events (mode selection, homing, drill bursts)
// into it; safety verdicts are not recorded. It is a queryable local
// log, separate from CSV operational logging.
type EventLog struct {
	db *sql.DB
}

// NewEventLog opens (creating if necessary) the sqlite database at path.
func NewEventLog(path string) (*EventLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	log := &EventLog{db: db}
	if err := log.init(); err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}

func (l *EventLog) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		fields TEXT NOT NULL,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_name ON events(name);
	CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON events(recorded_at);
	`
	_, err := l.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create event log schema: %w", err)
	}
	return nil
}

// Record appends one event row. fields is marshaled to JSON verbatim.
func (l *EventLog) Record(name string, fields map[string]interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal event fields: %w", err)
	}

	_, err = l.db.Exec(`INSERT INTO events (name, fields) VALUES (?, ?)`, name, string(data))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventRow is one row read back from the event log.
type EventRow struct {
	ID         int64
	Name       string
	Fields     map[string]interface{}
	RecordedAt time.Time
}

// Recent returns up to limit of the most recently recorded events.
func (l *EventLog) Recent(limit int) ([]EventRow, error) {
	rows, err := l.db.Query(`SELECT id, name, fields, recorded_at FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var row EventRow
		var fieldsJSON string
		if err := rows.Scan(&row.ID, &row.Name, &fieldsJSON, &row.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		_ = json.Unmarshal([]byte(fieldsJSON), &row.Fields)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (l *EventLog) Close() error {
	return l.db.Close()
}
