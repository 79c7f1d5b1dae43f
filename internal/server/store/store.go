// Package store is the typed repository over the SQLite schema: raw
// notification rows, presence sessions, role events and the per-day
// roll-ups. All methods are context-first and safe to run inside a
// transaction via WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides the repository operations the engine and the read
// API require.
type Store struct {
	db DBTX
}

// New creates a Store backed by the given database handle.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store whose operations run on the given transaction.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx}
}

// InTx runs fn inside a transaction on db, committing on success and
// rolling back on error.
func InTx(ctx context.Context, db *sql.DB, fn func(*Store) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(New(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
