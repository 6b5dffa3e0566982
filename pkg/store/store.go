// Package store is the embedded relational layer: staged raw items with
// dedupe, canonical events, correlated alerts, and the read-only network
// inventory. Single process, single SQLite file; migrations are additive
// only.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrStore wraps database-level failures that abort the current batch.
var ErrStore = errors.New("store error")

// TimeFormat is how timestamps are persisted. RFC3339 UTC strings compare
// lexicographically, which the ingest window filters rely on.
const TimeFormat = time.RFC3339

// DB owns the SQLite handle.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	handle, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStore, path, err)
	}
	// One writer at a time; the orchestrator is strictly sequential.
	handle.SetMaxOpenConns(1)

	d := &DB{sql: handle}
	if err := d.migrate(ctx); err != nil {
		_ = handle.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.sql.Close() }

// Tx is one transaction. The orchestrator opens one per raw item; all
// correlation work commits atomically at the item boundary.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (d *DB) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStore, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStore, err)
	}
	return nil
}

// querier lets the row-level helpers run against the DB or a Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func formatTime(t time.Time) string { return t.UTC().Format(TimeFormat) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(TimeFormat, s)
}
