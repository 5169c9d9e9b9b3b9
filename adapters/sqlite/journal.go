package sqlite

import (
	"context"
	"fmt"

	"github.com/artfold/designbridge/ports"
)

// Journal persists the dispatch audit trail.
type Journal struct {
	db *DB
}

// NewJournal creates a journal backed by db.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// AppendBatch stores entries in order, atomically.
func (j *Journal) AppendBatch(ctx context.Context, entries []ports.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO journal (id, event_type, payload, at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.EventType, string(e.Payload), e.At.UTC()); err != nil {
			return fmt.Errorf("insert journal entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]ports.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, event_type, payload, at FROM journal ORDER BY rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []ports.JournalEntry
	for rows.Next() {
		var e ports.JournalEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.EventType, &payload, &e.At); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ensure interface compliance.
var _ ports.Journal = (*Journal)(nil)
