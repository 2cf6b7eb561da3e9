// Package sqlite implements store.IncidentStore backed by SQLite. It is the
// opt-in durable swap for the in-memory ledger; no other component changes
// when it is used.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/store"
)

// Store persists incidents and audit events in a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Serialize writers; modernc.org/sqlite is not safe for concurrent
	// write connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS incidents (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL DEFAULT 'detected',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			body       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS incident_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			incident_id TEXT NOT NULL,
			kind        TEXT NOT NULL,
			payload     TEXT NOT NULL DEFAULT '{}',
			created_at  DATETIME NOT NULL,
			FOREIGN KEY (incident_id) REFERENCES incidents(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_incident_id
			ON incident_events(incident_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create registers a new incident.
func (s *Store) Create(inc *model.Incident) error {
	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encoding incident: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO incidents (id, status, created_at, updated_at, body)
		 VALUES (?, ?, ?, ?, ?)`,
		inc.ID, inc.Status, inc.CreatedAt, inc.UpdatedAt, string(body),
	)
	return err
}

// Get returns a snapshot of the incident.
func (s *Store) Get(id string) (*model.Incident, error) {
	row := s.db.QueryRow(`SELECT body FROM incidents WHERE id = ?`, id)
	return scanIncident(row)
}

// List returns summaries of all incidents, newest first.
func (s *Store) List() ([]model.Summary, error) {
	rows, err := s.db.Query(`SELECT body FROM incidents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var inc model.Incident
		if err := json.Unmarshal([]byte(body), &inc); err != nil {
			return nil, fmt.Errorf("decoding incident: %w", err)
		}
		out = append(out, inc.Summary())
	}
	return out, rows.Err()
}

// Update applies fn to the incident inside a transaction.
func (s *Store) Update(id string, fn func(*model.Incident) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	inc, err := scanIncident(tx.QueryRow(`SELECT body FROM incidents WHERE id = ?`, id))
	if err != nil {
		return err
	}

	if err := fn(inc); err != nil {
		return err
	}
	inc.UpdatedAt = time.Now().UTC()

	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encoding incident: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE incidents SET status = ?, updated_at = ?, body = ? WHERE id = ?`,
		inc.Status, inc.UpdatedAt, string(body), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendEvent appends one record to the incident's durable audit log.
func (s *Store) AppendEvent(ev model.AgentEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM incidents WHERE id = ?`, ev.IncidentID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	_, err = s.db.Exec(
		`INSERT INTO incident_events (incident_id, kind, payload, created_at)
		 VALUES (?, ?, ?, ?)`,
		ev.IncidentID, ev.Kind, string(payload), ev.Timestamp,
	)
	return err
}

// Events returns the incident's audit log in append order.
func (s *Store) Events(incidentID string) ([]model.AgentEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, payload, created_at FROM incident_events
		 WHERE incident_id = ? ORDER BY id ASC`, incidentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.AgentEvent
	for rows.Next() {
		ev := model.AgentEvent{IncidentID: incidentID}
		var payload string
		if err := rows.Scan(&ev.ID, &ev.Kind, &payload, &ev.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanIncident(row scannable) (*model.Incident, error) {
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var inc model.Incident
	if err := json.Unmarshal([]byte(body), &inc); err != nil {
		return nil, fmt.Errorf("decoding incident: %w", err)
	}
	return &inc, nil
}
