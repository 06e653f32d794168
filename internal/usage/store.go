package usage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable append-only event log behind a ledger, kept in
// SQLite. Aggregates are recomputed by SQL at read time; nothing here is
// ever updated or deleted.
type Store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	context_id TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_context ON usage_events(context_id);
`

// OpenStore opens (creating if needed) the usage event database at path.
// Use ":memory:" for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes one event.
func (s *Store) Append(r Record) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_events (context_id, prompt_tokens, completion_tokens, ts) VALUES (?, ?, ?, ?)`,
		r.ContextID, r.PromptTokens, r.CompletionTokens, r.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// TotalFor aggregates stored events; an empty contextID aggregates all.
func (s *Store) TotalFor(contextID string) (Totals, error) {
	query := `SELECT COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0), COUNT(*) FROM usage_events`
	args := []interface{}{}
	if contextID != "" {
		query += ` WHERE context_id = ?`
		args = append(args, contextID)
	}

	var t Totals
	row := s.db.QueryRow(query, args...)
	if err := row.Scan(&t.PromptTokens, &t.CompletionTokens, &t.Records); err != nil {
		return Totals{}, fmt.Errorf("aggregate usage: %w", err)
	}
	t.TotalTokens = t.PromptTokens + t.CompletionTokens
	return t, nil
}

// History returns stored events in append order; an empty contextID returns
// everything.
func (s *Store) History(contextID string) ([]Record, error) {
	query := `SELECT context_id, prompt_tokens, completion_tokens, ts FROM usage_events`
	args := []interface{}{}
	if contextID != "" {
		query += ` WHERE context_id = ?`
		args = append(args, contextID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.ContextID, &r.PromptTokens, &r.CompletionTokens, &ts); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse usage timestamp %q: %w", ts, err)
		}
		r.Timestamp = parsed
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
