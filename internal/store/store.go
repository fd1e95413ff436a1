// Package store persists collection jobs, proposed changes, entity
// match audit rows, and the system-of-record entity records in sqlite.
// All multi-row writes from a single job commit in one transaction.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/homeatlas/homeatlas/pkg/errors"
	"github.com/homeatlas/homeatlas/pkg/logging"
)

// Store wraps the sqlite database.
type Store struct {
	db     *sql.DB
	logger *zerolog.Logger
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations. Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapStore("open", "database", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent job execution.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logging.Default()}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to set sqlite pragmas")
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema. Statements are idempotent.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.WrapStore("migrate", "schema", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStore("tx", "begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapStore("tx", "commit", err)
	}
	return nil
}

// toMillis converts a time to a stored epoch-milliseconds value.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// toNullMillis converts an optional time.
func toNullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

// fromMillis converts a stored epoch-milliseconds value to UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// fromNullMillis converts a nullable stored value.
func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// now returns the current UTC time truncated to millisecond precision,
// matching storage resolution.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
