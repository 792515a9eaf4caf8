// Package doclite is an embedded document-store engine layered over
// SQLite: schema-validated JSON documents, synthesized constrained
// columns for fast filtering, optimistic concurrency, a declarative
// query builder translated to SQL, transactions (including nested
// savepoints), versioned per-collection migrations, and vec0-based
// vector similarity search. Grounded on sgx-labs-statelessagent's
// internal/store.DB (a single *sql.DB wrapper with a migrate() pass run
// at Open), generalized from one fixed schema to a registry of
// independently-migrated collections.
package doclite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/collection"
	"github.com/doclite/doclite/internal/dberr"
	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/hooks"
	"github.com/doclite/doclite/internal/ident"
	"github.com/doclite/doclite/internal/jsonval"
	"github.com/doclite/doclite/internal/migrate"
	"github.com/doclite/doclite/internal/pool"
	"github.com/doclite/doclite/internal/schema"
	"github.com/doclite/doclite/internal/txn"
)

// openDatabases counts live Database instances process-wide so Close can
// clear the shared document-parse cache (internal/jsonval) only when the
// last one goes away, per this engine's documented global-cache lifetime.
var openDatabases int32

// Database is one open database file (or in-memory instance): a
// connection pool, a migration runner, a hook dispatcher, and a registry
// of collections that also serves as the SQL translator's cross-
// collection name resolver.
type Database struct {
	opts     Options
	id       string
	pool     *pool.Pool
	migrator *migrate.Runner
	hooks    *hooks.Dispatcher
	logger   Logger

	mu          sync.RWMutex
	collections map[string]*Collection
}

// Open creates or opens a database according to opts.
func Open(opts Options) (*Database, error) {
	opts = opts.withDefaults()

	p, err := pool.Open(opts.poolConfig())
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "open", Cause: err}
	}

	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}

	mode := hooks.ModeSafe
	if opts.HookMode == "strict" {
		mode = hooks.ModeStrict
	}

	db := &Database{
		opts:        opts,
		id:          uuid.NewString(),
		pool:        p,
		hooks:       hooks.New(mode, logger),
		logger:      logger,
		collections: make(map[string]*Collection),
	}
	db.migrator = migrate.NewRunner(p, db.id)
	if err := db.migrator.EnsureSchema(context.Background()); err != nil {
		p.Close()
		return nil, err
	}

	atomic.AddInt32(&openDatabases, 1)
	_ = db.hooks.Dispatch(context.Background(), hooks.EventDatabaseInit, db.id)
	return db, nil
}

// ID returns the unique id this Database instance scopes its migration
// cache with.
func (db *Database) ID() string { return db.id }

// Resolve implements internal/sqlgen.Resolver, letting any collection's
// joins and subqueries reference any other registered collection.
func (db *Database) Resolve(name string) (*coldef.Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("doclite: unknown collection %q", name)
	}
	return c.inner.Table(), nil
}

func validateCollectionName(name string) error {
	if err := ident.ValidateCollectionName(name); err != nil {
		return &dberr.ValidationError{Reason: "invalid collection name", Cause: err}
	}
	return nil
}

// CollectionOptions parameterizes Database.Collection.
type CollectionOptions struct {
	// Fields declares the constrained (synthesized-column) fields of
	// the collection's current shape.
	Fields map[string]field.Definition
	// Version is the collection's target schema version; defaults to 1.
	// Bumping it triggers internal/migrate's diff-and-upgrade pass.
	Version int
	// Upgrades runs, keyed by target version, the first time a
	// collection is brought up to that version.
	Upgrades map[int]migrate.UpgradeFunc
	// Seed runs once, immediately after a brand-new collection's table
	// is created.
	Seed migrate.SeedFunc
}

// Collection returns the named collection, creating its physical table
// (or migrating it forward) as needed. sch describes the document shape
// every insert/put is validated against.
func (db *Database) Collection(ctx context.Context, name string, sch *schema.Type, opts CollectionOptions) (*Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	version := opts.Version
	if version <= 0 {
		version = 1
	}

	spec := migrate.CollectionSpec{
		Name:     name,
		Schema:   sch,
		Version:  version,
		Fields:   opts.Fields,
		Upgrades: opts.Upgrades,
		Seed:     opts.Seed,
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	isNew := false
	if _, exists := db.collections[name]; !exists {
		isNew = true
	}

	table, err := db.migrator.EnsureCollection(ctx, spec)
	if err != nil {
		return nil, err
	}

	inner := collection.New(table, db.pool, db, db.hooks)
	facade := &Collection{db: db, name: name, schema: sch, inner: inner}
	db.collections[name] = facade

	if isNew {
		_ = db.hooks.Dispatch(ctx, hooks.EventCollectionCreate, name)
	}
	return facade, nil
}

// DropCollection removes name's physical table and every resource (vec0
// shadow tables, indexes, triggers) generated alongside it, and
// unregisters it from the resolver.
func (db *Database) DropCollection(ctx context.Context, name string) error {
	db.mu.Lock()
	c, ok := db.collections[name]
	if !ok {
		db.mu.Unlock()
		return &dberr.NotFoundError{ID: name}
	}
	delete(db.collections, name)
	db.mu.Unlock()

	for _, f := range c.inner.Table().VectorFields() {
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", c.inner.Table().VecTableName(f))
		if _, err := db.pool.WriterDB().ExecContext(ctx, stmt); err != nil {
			return &dberr.DatabaseError{Code: "exec", Cause: err}
		}
	}
	if _, err := db.pool.WriterDB().ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
		return &dberr.DatabaseError{Code: "exec", Cause: err}
	}
	_ = db.hooks.Dispatch(ctx, hooks.EventCollectionDrop, name)
	return nil
}

// Transaction runs fn under one transaction: ordinary Collection calls
// made from fn (via the ctx it receives) are routed onto this
// transaction's own reserved connection instead of the pool, so they
// never block waiting for a connection the transaction itself is
// holding (see internal/collection/txscope.go). A call to Transaction
// from inside an already-running one nests as a SAVEPOINT rather than a
// new top-level transaction.
func (db *Database) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := collection.AmbientTx(ctx); ok {
		sp, err := tx.Savepoint(ctx)
		if err != nil {
			return &dberr.DatabaseError{Code: "savepoint", Cause: err}
		}
		if err := db.hooks.Dispatch(ctx, hooks.EventBeforeTransaction, nil); err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			_ = sp.Rollback(ctx)
			_ = db.hooks.Dispatch(ctx, hooks.EventTransactionError, err)
			return err
		}
		if err := sp.Release(ctx); err != nil {
			return &dberr.DatabaseError{Code: "release", Cause: err}
		}
		return db.hooks.Dispatch(ctx, hooks.EventAfterTransaction, nil)
	}

	tx, err := txn.Begin(ctx, db.pool.WriterDB(), true)
	if err != nil {
		return &dberr.DatabaseError{Code: "begin", Cause: err}
	}
	txCtx := collection.WithTx(ctx, tx)

	if err := db.hooks.Dispatch(ctx, hooks.EventBeforeTransaction, nil); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		_ = db.hooks.Dispatch(ctx, hooks.EventTransactionError, err)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &dberr.DatabaseError{Code: "commit", Cause: err}
	}
	return db.hooks.Dispatch(ctx, hooks.EventAfterTransaction, nil)
}

// Exec runs a raw statement, targeting an ambient transaction's
// connection if ctx carries one (set by Transaction), else the pool's
// writer connection, retrying transient SQLITE_BUSY failures when
// AutoReconnect is enabled.
func (db *Database) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx, ok := collection.AmbientTx(ctx); ok {
		return tx.ExecContext(ctx, query, args...)
	}
	var res sql.Result
	err := db.withRetry(ctx, func() error {
		var execErr error
		res, execErr = db.pool.WriterDB().ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Query runs a raw read-only query, targeting an ambient transaction's
// connection if present, else a pooled reader connection.
func (db *Database) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx, ok := collection.AmbientTx(ctx); ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return db.pool.Reader().QueryContext(ctx, query, args...)
}

func (db *Database) withRetry(ctx context.Context, op func() error) error {
	if !db.opts.AutoReconnect {
		return op()
	}
	attempts := time.Duration(db.opts.ConnectionPool.RetryAttempts)
	step := db.opts.ConnectionPool.RetryDelay
	// Sum of a linear series (step, 2*step, ..., attempts*step) bounds how
	// long RetryAttempts worth of linear backoff can actually take, rather
	// than the flat step*(attempts+1) an exponential policy would need.
	maxElapsed := step * attempts * (attempts + 1) / 2
	return pool.Retry(ctx, step, maxElapsed, isTransientBusy, op)
}

func isTransientBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Use registers a plugin under name, discovering the hooks it
// implements by reflection (internal/hooks.Dispatcher.Use).
func (db *Database) Use(name string, plugin any) []hooks.Event {
	return db.hooks.Use(name, plugin)
}

// Unuse removes a previously registered plugin.
func (db *Database) Unuse(name string) {
	db.hooks.Unuse(name)
}

// GetMigrationStatus returns the error, if any, from name's last
// migration pass.
func (db *Database) GetMigrationStatus(name string) error {
	return db.migrator.GetMigrationStatus(name)
}

// WaitForInitialization reports name's migration outcome once its
// EnsureCollection pass (run synchronously inside Collection) has
// settled.
func (db *Database) WaitForInitialization(ctx context.Context, name string) error {
	return db.migrator.WaitForInitialization(ctx, name)
}

// Close closes every pooled connection. Once the last open Database in
// the process closes, the shared document-parse cache
// (internal/jsonval) is cleared so it doesn't pin memory for a process
// that may never open another database.
func (db *Database) Close() error {
	_ = db.hooks.Dispatch(context.Background(), hooks.EventDatabaseClose, db.id)
	err := db.pool.Close()
	if atomic.AddInt32(&openDatabases, -1) == 0 {
		jsonval.Default().Clear()
	}
	if err != nil {
		return &dberr.DatabaseError{Code: "close", Cause: err}
	}
	return nil
}
