package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conversation_turns_session_idx ON conversation_turns (session_id, id)`,
	},
	insert:    `INSERT INTO conversation_turns (session_id, role, payload, created_at) VALUES (?, ?, ?, ?)`,
	selectAll: `SELECT payload FROM conversation_turns WHERE session_id = ? ORDER BY id`,
	selectTail: `SELECT payload FROM (
		SELECT id, payload FROM conversation_turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
	) ORDER BY id`,
}

// SQLiteStore is a Store backed by a local SQLite file.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{sqlStore{db: db, dialect: sqliteDialect, opts: opts}}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
