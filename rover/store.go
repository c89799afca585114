package rover

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EventStore persists navigation transitions and watchdog alerts to a
// local SQLite database, grouped by patrol session. Recording failures are
// logged and swallowed: the event log must never take navigation down.
type EventStore struct {
	db      *sql.DB
	session string
}

// NavEvent is one recorded navigation transition.
type NavEvent struct {
	Session   string    `json:"session"`
	FromState string    `json:"from"`
	ToState   string    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertEvent is one recorded watchdog alert.
type AlertEvent struct {
	Session   string    `json:"session"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// OpenEventStore opens (creating if needed) the event database at path.
func OpenEventStore(path string) (*EventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening event database: %w", err)
	}

	// Timestamps are unix seconds supplied by the application; sqlite
	// TEXT timestamps do not scan into Go types cleanly.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			ended_at INTEGER
		);
		CREATE TABLE IF NOT EXISTS nav_events (
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			from_state TEXT,
			to_state TEXT,
			reason TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS alerts (
			alert_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			kind TEXT,
			detail TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating event schema: %w", err)
	}

	return &EventStore{db: db}, nil
}

// BeginSession opens a new patrol session and returns its id. Transitions
// and alerts recorded afterwards are attributed to it.
func (s *EventStore) BeginSession() (string, error) {
	id := uuid.NewString()
	if _, err := s.db.Exec("INSERT INTO sessions (session_id, started_at) VALUES (?, ?)",
		id, time.Now().Unix()); err != nil {
		return "", fmt.Errorf("beginning session: %w", err)
	}
	s.session = id
	return id, nil
}

// EndSession stamps the current session as finished.
func (s *EventStore) EndSession() error {
	if s.session == "" {
		return nil
	}
	_, err := s.db.Exec("UPDATE sessions SET ended_at = ? WHERE session_id = ?", time.Now().Unix(), s.session)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	s.session = ""
	return nil
}

// Session returns the current session id, empty when none is open.
func (s *EventStore) Session() string {
	return s.session
}

// RecordTransition implements EventRecorder.
func (s *EventStore) RecordTransition(from, to NavState, reason string) {
	_, err := s.db.Exec(
		"INSERT INTO nav_events (session_id, from_state, to_state, reason, created_at) VALUES (?, ?, ?, ?, ?)",
		s.session, from.String(), to.String(), reason, time.Now().Unix())
	if err != nil {
		log.Printf("[STORE] error recording transition: %v", err)
	}
}

// RecordAlert implements EventRecorder.
func (s *EventStore) RecordAlert(kind, detail string) {
	_, err := s.db.Exec(
		"INSERT INTO alerts (session_id, kind, detail, created_at) VALUES (?, ?, ?, ?)",
		s.session, kind, detail, time.Now().Unix())
	if err != nil {
		log.Printf("[STORE] error recording alert: %v", err)
	}
}

// RecentEvents returns up to limit navigation events, newest first.
func (s *EventStore) RecentEvents(limit int) ([]NavEvent, error) {
	rows, err := s.db.Query(`
		SELECT session_id, from_state, to_state, reason, created_at
		FROM nav_events ORDER BY event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying nav events: %w", err)
	}
	defer rows.Close()

	var events []NavEvent
	for rows.Next() {
		var ev NavEvent
		var createdUnix int64
		if err := rows.Scan(&ev.Session, &ev.FromState, &ev.ToState, &ev.Reason, &createdUnix); err != nil {
			return nil, fmt.Errorf("scanning nav event: %w", err)
		}
		ev.Timestamp = time.Unix(createdUnix, 0)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *EventStore) RecentAlerts(limit int) ([]AlertEvent, error) {
	rows, err := s.db.Query(`
		SELECT session_id, kind, detail, created_at
		FROM alerts ORDER BY alert_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertEvent
	for rows.Next() {
		var a AlertEvent
		var createdUnix int64
		if err := rows.Scan(&a.Session, &a.Kind, &a.Detail, &createdUnix); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Timestamp = time.Unix(createdUnix, 0)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close releases the database handle.
func (s *EventStore) Close() error {
	return s.db.Close()
}
