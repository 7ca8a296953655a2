// Package store persists conversation event logs in SQLite. It implements
// the engine's store-the-array persistence contract durably: every batch
// rewrites the log idempotently, and LoadEvents reconstructs it for crash
// recovery.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/convo/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    conversation_id TEXT NOT NULL,
    event_index     INTEGER NOT NULL,
    created_at      TEXT NOT NULL,
    type            TEXT NOT NULL,
    payload         TEXT NOT NULL,
    PRIMARY KEY (conversation_id, event_index)
);
`

// SQLite stores event logs keyed by conversation id.
type SQLite struct {
	db *sql.DB
}

// Open opens (and initializes) a store at the given path. Use ":memory:"
// for tests.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite store: %w", err)
	}
	return &SQLite{db: db}, nil
}

// StoreEvents persists the whole log for one conversation. The write is
// transactional and idempotent: indices already present are replaced,
// stale rows beyond the log length are removed.
func (s *SQLite) StoreEvents(ctx context.Context, conversationID string, events []models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event #%d: %w", ev.EventIndex, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO events (conversation_id, event_index, created_at, type, payload)
			 VALUES (?, ?, ?, ?, ?)`,
			conversationID, ev.EventIndex, ev.CreatedAt.UTC().Format(time.RFC3339Nano),
			string(ev.Type), string(payload),
		); err != nil {
			return fmt.Errorf("store event #%d: %w", ev.EventIndex, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE conversation_id = ? AND event_index >= ?`,
		conversationID, len(events),
	); err != nil {
		return fmt.Errorf("trim stale events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store transaction: %w", err)
	}
	return nil
}

// LoadEvents reconstructs the log for one conversation in index order.
func (s *SQLite) LoadEvents(ctx context.Context, conversationID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE conversation_id = ? ORDER BY event_index`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode stored event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Conversations lists the stored conversation ids.
func (s *SQLite) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT conversation_id FROM events ORDER BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
