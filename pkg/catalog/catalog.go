// Package catalog keeps a local record of proxy sessions in SQLite so
// past captures can be found again: which command ran, in which mode,
// against which event log, and how it ended.
package catalog

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createSessionsTable = `CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	command TEXT NOT NULL,
	events_path TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	event_count INTEGER NOT NULL DEFAULT 0,
	exit_clean INTEGER NOT NULL DEFAULT 0
)`

// Session is one proxy run.
type Session struct {
	ID         string
	Mode       string
	Command    []string
	EventsPath string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	EventCount int
	ExitClean  bool
}

type Manager struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at path.
func Open(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createSessionsTable); err != nil {
		db.Close()
		return nil, err
	}
	return &Manager{db: db}, nil
}

// Begin records the start of a session.
func (m *Manager) Begin(s Session) error {
	_, err := m.db.Exec(
		`INSERT INTO sessions (id, mode, command, events_path, started_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Mode, strings.Join(s.Command, " "), s.EventsPath, s.StartedAt,
	)
	return err
}

// Finish records how a session ended.
func (m *Manager) Finish(id string, eventCount int, clean bool) error {
	cleanInt := 0
	if clean {
		cleanInt = 1
	}
	_, err := m.db.Exec(
		`UPDATE sessions SET finished_at = ?, event_count = ?, exit_clean = ? WHERE id = ?`,
		time.Now(), eventCount, cleanInt, id,
	)
	return err
}

// Get returns one session by id.
func (m *Manager) Get(id string) (*Session, error) {
	row := m.db.QueryRow(
		`SELECT id, mode, command, events_path, started_at, finished_at, event_count, exit_clean
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Recent returns the most recent sessions, newest first.
func (m *Manager) Recent(limit int) ([]Session, error) {
	rows, err := m.db.Query(
		`SELECT id, mode, command, events_path, started_at, finished_at, event_count, exit_clean
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// Close closes the database.
func (m *Manager) Close() error {
	return m.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var command string
	var cleanInt int
	if err := row.Scan(&s.ID, &s.Mode, &command, &s.EventsPath, &s.StartedAt, &s.FinishedAt, &s.EventCount, &cleanInt); err != nil {
		return nil, err
	}
	if command != "" {
		s.Command = strings.Split(command, " ")
	}
	s.ExitClean = cleanInt == 1
	return &s, nil
}
