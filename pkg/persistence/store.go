// Package persistence provides an optional SQLite transcript store. It is
// purely additive: the guidance workflow never reads from it, so a disabled
// or failing store changes nothing about session behavior.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"guidance/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	edition    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role       TEXT NOT NULL,
	text       TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
`

// TurnRecord is one persisted transcript entry.
type TurnRecord struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed transcript store.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the transcript database at path.
func Open(path string) (*Store, error) {
	// WAL mode with a busy timeout; SQLite supports a single writer.
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("Transcript database ready: %s", path)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSession upserts the session row. Called once per new task.
func (s *Store) RecordSession(ctx context.Context, id, query, edition string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, query, edition, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET query = excluded.query, edition = excluded.edition`,
		id, query, edition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// RecordTurn appends one transcript entry with the workflow state it landed in.
func (s *Store) RecordTurn(ctx context.Context, sessionID, role, text, state string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, text, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, role, text, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// Transcript returns the ordered transcript for a session.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, role, text, state, created_at FROM turns WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []TurnRecord
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.SessionID, &t.Role, &t.Text, &t.State, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript rows: %w", err)
	}
	return turns, nil
}
