// Package store implements the persistence collaborator spec.md treats as
// external: a single-writer SQL store with reentrant writer-scope
// transactions. It is grounded in the original hub's Database/DBWriter
// pattern (a process-wide writer lock, a counter of nested writer scopes,
// commit only at the outermost exit, rollback on an explicit sentinel) —
// reimplemented here via context propagation instead of a reentrant mutex,
// since only one goroutine at a time walks a single call chain through a
// writer scope and context is the idiomatic way to carry that scope down.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrRollback is the rollback sentinel: returning it from a writer
// function aborts the scope without propagating an error to the caller,
// matching the original's RollbackException being swallowed by its
// context manager.
var ErrRollback = errors.New("store: rollback")

// ErrNoRow reports that a query expected to find a row found none.
var ErrNoRow = sql.ErrNoRows

type writerKey struct{}

type writerState struct {
	tx *sql.Tx
}

// Store owns the single underlying SQLite connection pool and the writer
// scope machinery.
type Store struct {
	db *sql.DB
	// writerMu serializes entry into a brand-new (non-nested) writer
	// scope, mirroring the original's single shared writer connection.
	writerMu sync.Mutex
}

// Open opens (and, if needed, creates) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer at a time regardless of pool size
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithWriter runs fn inside a writer scope. If ctx already carries one
// (a nested call), fn runs against the same transaction and this call does
// not commit or roll back — only the outermost call does. Returning
// ErrRollback aborts the scope (rolls back) without the error surfacing to
// the caller, exactly like the original's rollback-sentinel semantics.
func (s *Store) WithWriter(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(writerKey{}).(*writerState); ok {
		return fn(ctx)
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin writer scope: %w", err)
	}
	ctx2 := context.WithValue(ctx, writerKey{}, &writerState{tx: tx})

	err = fn(ctx2)
	if errors.Is(err, ErrRollback) {
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit writer scope: %w", err)
	}
	return nil
}

// Query executes a read. Inside a writer scope it reads through that
// scope's pending transaction (so a writer sees its own writes); outside
// one it uses a short-lived connection from the pool.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if ws, ok := ctx.Value(writerKey{}).(*writerState); ok {
		return ws.tx.QueryContext(ctx, query, args...)
	}
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow is the single-row counterpart to Query.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if ws, ok := ctx.Value(writerKey{}).(*writerState); ok {
		return ws.tx.QueryRowContext(ctx, query, args...)
	}
	return s.db.QueryRowContext(ctx, query, args...)
}

// Exec runs a write. Inside a writer scope it writes through that scope's
// transaction (committed only when the scope's outermost call returns);
// outside one it auto-commits a single-statement transaction, matching
// the original's "write() without a surrounding writer()" behavior.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if ws, ok := ctx.Value(writerKey{}).(*writerState); ok {
		return ws.tx.ExecContext(ctx, query, args...)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// EnsureTable runs createStmt iff a SELECT 1 FROM table fails, i.e. the
// table doesn't exist yet — matching the original's check_database_table.
func (s *Store) EnsureTable(ctx context.Context, table, createStmt string) error {
	var dummy int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1").Scan(&dummy)
	if err == nil || err == sql.ErrNoRows {
		return nil // table exists (empty or not)
	}
	_, err = s.db.ExecContext(ctx, createStmt)
	return err
}
