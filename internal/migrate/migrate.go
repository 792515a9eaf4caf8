// Package migrate implements version-keyed schema evolution for
// collections: on first reference it materializes a collection's
// physical table (running its seed function, if any); on a version bump
// it diffs the stored constrained-field set against the target shape,
// emits additive ALTER TABLE ADD COLUMN/index/trigger DDL for the
// difference, and runs each version's upgrade step in order inside one
// transaction. Grounded on the teacher's internal/store/db.go migrate()
// (versioned []struct{version int; fn func() error} list, each gated on
// a stored version read from a key/value metadata table) and BeadsLog's
// internal/storage/sqlite/migrations.go named-ordered-migration-list
// shape, adapted from "one global schema version" to "one version per
// collection" and from in-memory-only tracking to a cache table so a
// restart doesn't re-run an already-applied migration.
package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/dberr"
	"github.com/doclite/doclite/internal/ddl"
	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/pool"
	"github.com/doclite/doclite/internal/schema"
	"github.com/doclite/doclite/internal/txn"
)

// Executor is the minimal surface a seed or upgrade function needs —
// satisfied by *txn.Tx, so migration work runs inside the runner's own
// transaction rather than opening one of its own.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpgradeFunc runs once, inside the migration transaction, to bring a
// collection from version-1 to version.
type UpgradeFunc func(ctx context.Context, exec Executor) error

// SeedFunc runs once, inside the migration transaction, immediately
// after a brand-new collection's table is created.
type SeedFunc func(ctx context.Context, exec Executor) error

// CollectionSpec is everything the runner needs to bring one collection
// up to its target shape.
type CollectionSpec struct {
	Name     string
	Schema   *schema.Type
	Version  int
	Fields   map[string]field.Definition
	Upgrades map[int]UpgradeFunc
	Seed     SeedFunc
}

// Runner owns schema-version bookkeeping for every collection in one
// database file, scoped by dbID so migration-cache rows from one
// database instance never shadow another's (spec.md §4.L: migration
// results are cached per (databaseInstance, collection, version)).
type Runner struct {
	pool *pool.Pool
	dbID string

	mu     sync.Mutex
	status map[string]error
}

// NewRunner constructs a Runner over p, scoped to dbID.
func NewRunner(p *pool.Pool, dbID string) *Runner {
	return &Runner{pool: p, dbID: dbID, status: make(map[string]error)}
}

// EnsureSchema creates the runner's own bookkeeping tables. Safe to call
// more than once; must run before EnsureCollection.
func (r *Runner) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _schema_versions (
			collection TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			constrained_fields TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS doclite_migration_cache (
			db_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			version INTEGER NOT NULL,
			applied_at INTEGER NOT NULL,
			PRIMARY KEY (db_id, collection, version)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.WriterDB().ExecContext(ctx, stmt); err != nil {
			return &dberr.DatabaseError{Code: "migrate-schema", Cause: err}
		}
	}
	return nil
}

type storedShape struct {
	Version int
	Fields  map[string]field.Definition
}

func (r *Runner) loadStored(ctx context.Context, q Executor, name string) (storedShape, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT version, constrained_fields FROM _schema_versions WHERE collection = ?`, name)
	var version int
	var fieldsJSON string
	if err := row.Scan(&version, &fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return storedShape{}, false, nil
		}
		return storedShape{}, false, &dberr.DatabaseError{Code: "scan", Cause: err}
	}
	var fields map[string]field.Definition
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return storedShape{}, false, fmt.Errorf("migrate: decode stored field set for %q: %w", name, err)
	}
	return storedShape{Version: version, Fields: fields}, true, nil
}

func (r *Runner) recordShape(ctx context.Context, exec Executor, name string, version int, fields map[string]field.Definition) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("migrate: encode field set for %q: %w", name, err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO _schema_versions (collection, version, constrained_fields, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET version = excluded.version,
			constrained_fields = excluded.constrained_fields, updated_at = excluded.updated_at`,
		name, version, string(encoded), time.Now().Unix())
	if err != nil {
		return &dberr.DatabaseError{Code: "exec", Cause: err}
	}
	return nil
}

func (r *Runner) isCached(ctx context.Context, exec Executor, name string, version int) (bool, error) {
	row := exec.QueryRowContext(ctx,
		`SELECT 1 FROM doclite_migration_cache WHERE db_id = ? AND collection = ? AND version = ?`,
		r.dbID, name, version)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, &dberr.DatabaseError{Code: "scan", Cause: err}
	}
	return true, nil
}

func (r *Runner) recordCache(ctx context.Context, exec Executor, name string, version int) error {
	_, err := exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO doclite_migration_cache (db_id, collection, version, applied_at) VALUES (?, ?, ?, ?)`,
		r.dbID, name, version, time.Now().Unix())
	if err != nil {
		return &dberr.DatabaseError{Code: "exec", Cause: err}
	}
	return nil
}

// EnsureCollection brings spec's collection up to spec.Version, creating
// its physical table on first reference (running Seed, if any) or
// diffing and migrating forward otherwise, and returns the resulting
// table descriptor. Any failure is retained and replayed by
// GetMigrationStatus/WaitForInitialization for this collection name.
func (r *Runner) EnsureCollection(ctx context.Context, spec CollectionSpec) (*coldef.Table, error) {
	target := coldef.NewTable(spec.Name, spec.Schema, spec.Fields)

	if len(target.VectorFields()) > 0 && !r.pool.Capabilities().Vectors {
		return nil, r.fail(spec.Name, &dberr.DatabaseError{Code: "vectors-unsupported",
			Cause: fmt.Errorf("migrate: collection %q has VECTOR fields but the driver has no vector support", spec.Name)})
	}

	tx, err := txn.Begin(ctx, r.pool.WriterDB(), true)
	if err != nil {
		return nil, r.fail(spec.Name, &dberr.DatabaseError{Code: "begin", Cause: err})
	}

	stored, found, err := r.loadStored(ctx, tx, spec.Name)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, r.fail(spec.Name, err)
	}

	if !found {
		if err := r.createFresh(ctx, tx, target, spec); err != nil {
			_ = tx.Rollback(ctx)
			return nil, r.fail(spec.Name, err)
		}
	} else if stored.Version < spec.Version {
		if err := r.upgrade(ctx, tx, target, spec, stored); err != nil {
			_ = tx.Rollback(ctx)
			return nil, r.fail(spec.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, r.fail(spec.Name, &dberr.DatabaseError{Code: "commit", Cause: err})
	}
	r.clearStatus(spec.Name)
	return target, nil
}

func (r *Runner) createFresh(ctx context.Context, tx *txn.Tx, target *coldef.Table, spec CollectionSpec) error {
	plan, err := ddl.Generate(target)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, plan.CreateTable); err != nil {
		return &dberr.DatabaseError{Code: "exec", Cause: err}
	}
	for _, stmt := range plan.Auxiliary {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &dberr.DatabaseError{Code: "exec", Cause: err}
		}
	}
	if spec.Seed != nil {
		if err := spec.Seed(ctx, tx); err != nil {
			return fmt.Errorf("migrate: seed %q: %w", spec.Name, err)
		}
	}
	return r.recordShape(ctx, tx, spec.Name, spec.Version, spec.Fields)
}

func (r *Runner) upgrade(ctx context.Context, tx *txn.Tx, target *coldef.Table, spec CollectionSpec, stored storedShape) error {
	for _, f := range target.Fields {
		if _, existed := stored.Fields[f.Path]; existed {
			continue
		}
		stmt, err := ddl.AlterAddColumn(target, f)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &dberr.DatabaseError{Code: "exec", Cause: err}
		}
	}
	for path, f := range stored.Fields {
		if _, stillPresent := target.FieldByPath(path); stillPresent {
			continue
		}
		for _, stmt := range ddl.DropFieldStatements(target, f) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return &dberr.DatabaseError{Code: "exec", Cause: err}
			}
		}
	}

	plan, err := ddl.Generate(target)
	if err != nil {
		return err
	}
	for _, stmt := range plan.Auxiliary {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &dberr.DatabaseError{Code: "exec", Cause: err}
		}
	}

	for v := stored.Version + 1; v <= spec.Version; v++ {
		cached, err := r.isCached(ctx, tx, spec.Name, v)
		if err != nil {
			return err
		}
		if cached {
			continue
		}
		if fn, ok := spec.Upgrades[v]; ok {
			if err := fn(ctx, tx); err != nil {
				return fmt.Errorf("migrate: upgrade %q to v%d: %w", spec.Name, v, err)
			}
		}
		if err := r.recordCache(ctx, tx, spec.Name, v); err != nil {
			return err
		}
	}

	return r.recordShape(ctx, tx, spec.Name, spec.Version, spec.Fields)
}

func (r *Runner) fail(name string, err error) error {
	r.mu.Lock()
	r.status[name] = err
	r.mu.Unlock()
	return err
}

func (r *Runner) clearStatus(name string) {
	r.mu.Lock()
	delete(r.status, name)
	r.mu.Unlock()
}

// GetMigrationStatus returns the error retained from name's last
// EnsureCollection call, or nil if it succeeded (or hasn't run).
func (r *Runner) GetMigrationStatus(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[name]
}

// WaitForInitialization reports name's migration outcome. EnsureCollection
// runs synchronously today, so this never actually blocks — it exists so
// callers can use the same wait-then-check idiom spec.md describes for a
// future asynchronous migration path.
func (r *Runner) WaitForInitialization(ctx context.Context, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return r.GetMigrationStatus(name)
}
