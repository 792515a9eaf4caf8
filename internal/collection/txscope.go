package collection

import (
	"context"
	"database/sql"

	"github.com/doclite/doclite/internal/txn"
)

// txCtxKey scopes an ambient transaction onto a context, used by the root
// façade's transaction(fn) to run every collection call fn makes against
// the same reserved connection instead of the pool's writer *sql.DB. The
// writer connection is capped at one physical connection (package
// driver), so a collection method that called the pool directly from
// inside an open transaction would block forever waiting for the
// connection the transaction itself is holding.
type txCtxKey struct{}

// WithTx returns a context under which every Collection operation targets
// tx's connection instead of acquiring one from the pool.
func WithTx(ctx context.Context, tx *txn.Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

func txFromContext(ctx context.Context) (*txn.Tx, bool) {
	tx, ok := ctx.Value(txCtxKey{}).(*txn.Tx)
	return tx, ok
}

// AmbientTx reports the transaction, if any, that ctx carries via
// WithTx — used by the root façade's transaction(fn) to decide between
// opening a fresh top-level transaction and nesting a SAVEPOINT on an
// already-open one.
func AmbientTx(ctx context.Context) (*txn.Tx, bool) {
	return txFromContext(ctx)
}

// writer returns the executor a write should target: the ambient
// transaction if ctx carries one, else the pool's writer connection.
func (c *Collection) writer(ctx context.Context) Executor {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return c.pool.WriterDB()
}

// multiRowQuerier is the read-only surface of pool.Reader, also satisfied
// by *txn.Tx, covering both single- and multi-row reads.
type multiRowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reader returns the executor a read should target: the ambient
// transaction if ctx carries one (so reads observe that transaction's own
// uncommitted writes), else a pooled reader connection.
func (c *Collection) reader(ctx context.Context) multiRowQuerier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return c.pool.Reader()
}

// scope is a transaction-like unit of work: either a brand-new top-level
// transaction on the pool's writer connection, or a SAVEPOINT nested
// inside an ambient one. Either way callers drive it through the same
// Executor methods and settle it with commit/rollback.
type scope interface {
	Executor
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

// topScope wraps a brand-new top-level *txn.Tx.
type topScope struct{ tx *txn.Tx }

func (s topScope) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}
func (s topScope) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, query, args...)
}
func (s topScope) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}
func (s topScope) commit(ctx context.Context) error   { return s.tx.Commit(ctx) }
func (s topScope) rollback(ctx context.Context) error { return s.tx.Rollback(ctx) }

// nestedScope wraps a SAVEPOINT opened on an ambient *txn.Tx. Statements
// still run against the ambient Tx's own connection — SAVEPOINT doesn't
// get its own connection, it's just a rollback point on the same one.
type nestedScope struct {
	tx *txn.Tx
	sp *txn.Savepoint
}

func (s nestedScope) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}
func (s nestedScope) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, query, args...)
}
func (s nestedScope) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}
func (s nestedScope) commit(ctx context.Context) error   { return s.sp.Release(ctx) }
func (s nestedScope) rollback(ctx context.Context) error { return s.sp.Rollback(ctx) }

// beginScope opens a new unit of work: a SAVEPOINT on ctx's ambient
// transaction if one is present, else a fresh BEGIN IMMEDIATE on the
// pool's writer connection.
func (c *Collection) beginScope(ctx context.Context) (scope, error) {
	if tx, ok := txFromContext(ctx); ok {
		sp, err := tx.Savepoint(ctx)
		if err != nil {
			return nil, err
		}
		return nestedScope{tx: tx, sp: sp}, nil
	}
	tx, err := txn.Begin(ctx, c.pool.WriterDB(), true)
	if err != nil {
		return nil, err
	}
	return topScope{tx: tx}, nil
}
