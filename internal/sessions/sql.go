package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/tgassist/pkg/models"
)

// sqlDialect holds the statements that differ between SQL backends.
type sqlDialect struct {
	name       string
	schema     []string
	insert     string
	selectAll  string
	selectTail string
}

// sqlStore is the shared implementation of the SQL backends. Turns live in
// conversation_turns ordered by an auto-incrementing id.
type sqlStore struct {
	db      *sql.DB
	dialect sqlDialect
	opts    Options
}

// Migrate creates the turns table and index when missing.
func (s *sqlStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.dialect.name, err)
		}
	}
	return nil
}

// DB exposes the underlying database connection.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func (s *sqlStore) Load(ctx context.Context, sessionID string) ([]models.Turn, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if s.opts.MaxTurns > 0 {
		rows, err = s.db.QueryContext(ctx, s.dialect.selectTail, sessionID, s.opts.MaxTurns)
	} else {
		rows, err = s.db.QueryContext(ctx, s.dialect.selectAll, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	defer rows.Close()

	turns := []models.Turn{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn, err := decodeTurn(payload)
		if errors.Is(err, errInvalidRole) {
			continue
		}
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return turns, nil
}

// Append inserts all turns in a single transaction.
func (s *sqlStore) Append(ctx context.Context, sessionID string, turns ...models.Turn) error {
	if err := validateAppend(sessionID, turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, turn := range turns {
		payload, err := encodeTurn(turn)
		if err != nil {
			return err
		}
		createdAt := turn.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, s.dialect.insert, sessionID, string(turn.Role), string(payload), createdAt); err != nil {
			return fmt.Errorf("append session %s: %w", sessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
