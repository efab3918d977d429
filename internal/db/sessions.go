package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNoSession is returned when recording without an active session.
var ErrNoSession = errors.New("no active session")

// Session is one run of the service.
type Session struct {
	ID         string   `json:"session_id"`
	Label      string   `json:"label"`
	ConfigJSON string   `json:"config_json"`
	StartedAt  float64  `json:"started_at"`
	EndedAt    *float64 `json:"ended_at,omitempty"`
}

// StartSession creates a session and makes it the target for subsequent
// Record calls. configJSON is the estimator calibration in effect.
func (db *DB) StartSession(label, configJSON string) (*Session, error) {
	if configJSON == "" {
		configJSON = "{}"
	}
	s := &Session{
		ID:         uuid.New().String(),
		Label:      label,
		ConfigJSON: configJSON,
		StartedAt:  db.now(),
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, label, config_json, started_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.Label, s.ConfigJSON, s.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	db.mu.Lock()
	db.session = s.ID
	db.mu.Unlock()
	return s, nil
}

// EndSession stamps the active session's end time and clears it.
func (db *DB) EndSession() error {
	db.mu.Lock()
	id := db.session
	db.session = ""
	db.mu.Unlock()

	if id == "" {
		return ErrNoSession
	}
	if _, err := db.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, db.now(), id); err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	return nil
}

// CurrentSession returns the active session ID, or "" when none.
func (db *DB) CurrentSession() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.session
}

// Sessions returns the most recent sessions first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT session_id, label, config_json, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var ended sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.Label, &s.ConfigJSON, &s.StartedAt, &ended); err != nil {
			return nil, err
		}
		if ended.Valid {
			v := ended.Float64
			s.EndedAt = &v
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
