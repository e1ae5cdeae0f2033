// Package store journals bus events, published alerts and delivery
// outcomes to sqlite so operators can audit what the system saw and
// what it sent.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sentry.report/internal/alerts"
	"github.com/banshee-data/sentry.report/internal/eventbus"
	"github.com/banshee-data/sentry.report/internal/monitoring"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the sqlite journal.
type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the journal at path and applies any
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("store: migrate instance: %w", err)
	}
	// Closing m would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// RecordEvent journals one bus event.
func (s *Store) RecordEvent(e eventbus.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("store: encode event data: %w", err)
	}
	_, err = s.Exec(
		`INSERT OR IGNORE INTO events (id, event_type, source, priority, data, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Source, e.Priority, string(data), e.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: record event: %w", err)
	}
	return nil
}

// RecordAlert journals one accepted alert.
func (s *Store) RecordAlert(a alerts.Alert) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("store: encode alert data: %w", err)
	}
	_, err = s.Exec(
		`INSERT OR IGNORE INTO alerts (id, alert_type, location, priority, message, data, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Location, string(a.Priority), a.Message, string(data), a.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: record alert: %w", err)
	}
	return nil
}

// RecordDispatch journals the settled outcome of a notification task.
func (s *Store) RecordDispatch(task *alerts.Task) error {
	_, err := s.Exec(
		`INSERT INTO dispatches (alert_id, state, attempts, last_error, timestamp) VALUES (?, ?, ?, ?, ?)`,
		task.Alert.ID, string(task.State), task.Attempts, task.LastErr, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: record dispatch: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit journaled events, newest first. An
// empty eventType matches everything.
func (s *Store) RecentEvents(eventType string, limit int) ([]eventbus.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, event_type, source, priority, data, timestamp FROM events`
	args := []interface{}{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []eventbus.Event
	for rows.Next() {
		var e eventbus.Event
		var data string
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.Priority, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				monitoring.Logf("store: event %s has undecodable data: %v", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentAlerts returns up to limit journaled alerts, newest first.
func (s *Store) RecentAlerts(limit int) ([]alerts.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Query(
		`SELECT id, alert_type, location, priority, message, data, timestamp FROM alerts ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var a alerts.Alert
		var priority, data string
		if err := rows.Scan(&a.ID, &a.Type, &a.Location, &priority, &a.Message, &data, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		a.Priority = alerts.Priority(priority)
		if data != "" && data != "null" {
			if err := json.Unmarshal([]byte(data), &a.Data); err != nil {
				monitoring.Logf("store: alert %s has undecodable data: %v", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DispatchStats returns the number of journaled dispatches per state.
func (s *Store) DispatchStats() (map[string]int, error) {
	rows, err := s.Query(`SELECT state, COUNT(*) FROM dispatches GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("store: query dispatches: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("store: scan dispatch stat: %w", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}
