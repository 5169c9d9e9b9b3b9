// Package sqlite provides SQLite implementations of storage ports.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection and ensures the schema exists.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{DB: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS journal (
	id         TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload    TEXT NOT NULL,
	at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_at ON journal(at);
`
