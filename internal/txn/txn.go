// Package txn implements nested transactions over a single dedicated
// SQLite connection: a top-level BEGIN (DEFERRED or IMMEDIATE) plus
// uniquely-named SAVEPOINTs for every nesting level beneath it, since
// SQLite itself has no nested BEGIN.
package txn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Tx is one top-level transaction and its stack of open savepoints, all
// running on a single reserved *sql.Conn for the duration.
type Tx struct {
	conn  *sql.Conn
	mu    sync.Mutex
	depth int // 1 once BEGIN has run; +1 per open Savepoint
	seq   int
	done  bool
}

// Begin reserves a connection from db and starts a top-level
// transaction. immediate selects BEGIN IMMEDIATE, which acquires the
// write lock up front — used for optimistic put/upsert paths that
// would otherwise report a write conflict too late, after already
// reading under a deferred transaction.
func Begin(ctx context.Context, db *sql.DB, immediate bool) (*Tx, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("txn: reserve connection: %w", err)
	}
	mode := "DEFERRED"
	if immediate {
		mode = "IMMEDIATE"
	}
	if _, err := conn.ExecContext(ctx, "BEGIN "+mode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("txn: begin %s: %w", mode, err)
	}
	return &Tx{conn: conn, depth: 1}, nil
}

// ExecContext runs a statement against the transaction's connection.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query against the transaction's connection.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query against the transaction's
// connection.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.conn.QueryRowContext(ctx, query, args...)
}

// Depth reports the current nesting depth: 1 at the top level, 2 inside
// one open Savepoint, and so on.
func (t *Tx) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depth
}

// Commit commits the top-level transaction. It is an error to call
// Commit while a Savepoint opened from this Tx is still open.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return fmt.Errorf("txn: already finished")
	}
	if t.depth != 1 {
		t.mu.Unlock()
		return fmt.Errorf("txn: commit called with %d savepoint(s) still open", t.depth-1)
	}
	t.done = true
	t.mu.Unlock()

	_, execErr := t.conn.ExecContext(ctx, "COMMIT")
	closeErr := t.conn.Close()
	if execErr != nil {
		return fmt.Errorf("txn: commit: %w", execErr)
	}
	return closeErr
}

// Rollback rolls back and ends the whole top-level transaction,
// discarding any open savepoints along with it.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.mu.Unlock()

	_, execErr := t.conn.ExecContext(ctx, "ROLLBACK")
	closeErr := t.conn.Close()
	if execErr != nil {
		return fmt.Errorf("txn: rollback: %w", execErr)
	}
	return closeErr
}

// Savepoint is one nested transaction level.
type Savepoint struct {
	tx       *Tx
	name     string
	resolved bool
}

// Savepoint opens a new nested transaction level with a name unique
// within this Tx.
func (t *Tx) Savepoint(ctx context.Context) (*Savepoint, error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil, fmt.Errorf("txn: transaction already finished")
	}
	t.seq++
	name := fmt.Sprintf("sp_%d", t.seq)
	t.mu.Unlock()

	if _, err := t.conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("txn: savepoint %s: %w", name, err)
	}

	t.mu.Lock()
	t.depth++
	t.mu.Unlock()
	return &Savepoint{tx: t, name: name}, nil
}

// Release commits this savepoint into its parent level.
func (s *Savepoint) Release(ctx context.Context) error {
	if s.resolved {
		return fmt.Errorf("txn: savepoint %s already resolved", s.name)
	}
	if _, err := s.tx.conn.ExecContext(ctx, "RELEASE "+s.name); err != nil {
		return fmt.Errorf("txn: release %s: %w", s.name, err)
	}
	s.resolved = true
	s.tx.mu.Lock()
	s.tx.depth--
	s.tx.mu.Unlock()
	return nil
}

// Rollback discards this savepoint's writes, then releases it so the
// savepoint stack stays balanced for the parent level.
func (s *Savepoint) Rollback(ctx context.Context) error {
	if s.resolved {
		return fmt.Errorf("txn: savepoint %s already resolved", s.name)
	}
	if _, err := s.tx.conn.ExecContext(ctx, "ROLLBACK TO "+s.name); err != nil {
		return fmt.Errorf("txn: rollback to %s: %w", s.name, err)
	}
	if _, err := s.tx.conn.ExecContext(ctx, "RELEASE "+s.name); err != nil {
		return fmt.Errorf("txn: release %s after rollback: %w", s.name, err)
	}
	s.resolved = true
	s.tx.mu.Lock()
	s.tx.depth--
	s.tx.mu.Unlock()
	return nil
}

// WithSavepoint runs fn inside a new savepoint, releasing it on success
// and rolling it back if fn returns an error or panics.
func WithSavepoint(ctx context.Context, t *Tx, fn func(*Tx) error) (err error) {
	sp, err := t.Savepoint(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sp.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(t); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return sp.Release(ctx)
}
