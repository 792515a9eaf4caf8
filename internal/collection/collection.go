// Package collection implements the public CRUD/query surface over one
// physical table: it orchestrates schema validation (internal/schema),
// SQL translation (internal/sqlgen), transactions (internal/txn), the
// connection pool (internal/pool), and hook dispatch (internal/hooks),
// and maps backend constraint failures onto the concrete error kinds
// callers see (internal/dberr). Grounded on the teacher's
// internal/store/notes.go (transactional bulk insert with a paired vec0
// table) and claims.go (UpsertClaim's ON CONFLICT pattern).
package collection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/dberr"
	"github.com/doclite/doclite/internal/hooks"
	"github.com/doclite/doclite/internal/jsonval"
	"github.com/doclite/doclite/internal/pool"
	"github.com/doclite/doclite/internal/query"
	"github.com/doclite/doclite/internal/schema"
	"github.com/doclite/doclite/internal/sqlgen"
)

// Executor is satisfied by *sql.DB and *txn.Tx, letting every read/write
// helper run identically whether or not it's inside a transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Collection wires together one collection's physical table, the shared
// pool, and cross-collection resolution needed by joins and subqueries.
type Collection struct {
	table    *coldef.Table
	pool     *pool.Pool
	resolver sqlgen.Resolver
	hooks    *hooks.Dispatcher
	cache    *jsonval.Cache
}

// New constructs a Collection. resolver must be able to resolve table's
// own name (for self-joins) as well as every other collection a join or
// subquery might reference.
func New(table *coldef.Table, p *pool.Pool, resolver sqlgen.Resolver, dispatcher *hooks.Dispatcher) *Collection {
	return &Collection{table: table, pool: p, resolver: resolver, hooks: dispatcher, cache: jsonval.Default()}
}

// Table exposes the underlying physical table descriptor, used by the
// migration runner and root façade.
func (c *Collection) Table() *coldef.Table { return c.table }

// Document is a decoded document with its _id and _version attached
// under those same keys, matching the document's own wire shape.
type Document = map[string]any

func (c *Collection) decode(id, docJSON string, version int64) (Document, error) {
	raw, err := c.cache.Parse(docJSON)
	if err != nil {
		return nil, fmt.Errorf("collection: decode document %q: %w", id, err)
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("collection: document %q is not a JSON object", id)
	}
	doc["_id"] = id
	doc["_version"] = version
	return doc, nil
}

func (c *Collection) encode(doc Document) (string, error) {
	data, err := jsonval.Encode(doc)
	if err != nil {
		return "", fmt.Errorf("collection: encode document: %w", err)
	}
	return string(data), nil
}

func (c *Collection) validate(doc Document) error {
	if err := schema.Validate(c.table.Schema, doc); err != nil {
		return &dberr.ValidationError{Reason: "document does not conform to collection schema", Cause: err}
	}
	return nil
}

func stripMeta(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if k == "_id" || k == "_version" {
			continue
		}
		out[k] = v
	}
	return out
}

// classifyWriteError maps a raw driver error from an insert/update
// statement to the concrete error kind callers expect, falling back to a
// generic DatabaseError when the message doesn't look like a constraint
// violation.
func classifyWriteError(err error, id string) error {
	if err == nil {
		return nil
	}
	if mapped, ok := dberr.ClassifyConstraintViolation(err.Error(), id); ok {
		return mapped
	}
	return &dberr.DatabaseError{Code: "exec", Cause: err}
}

func mergeDocuments(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if existing, ok := out[k].(map[string]any); ok {
			if incoming, ok := v.(map[string]any); ok {
				out[k] = mergeDocuments(existing, incoming)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Insert stores doc as a new document, generating _id if absent.
func (c *Collection) Insert(ctx context.Context, doc Document) (Document, error) {
	stored := make(Document, len(doc))
	for k, v := range doc {
		stored[k] = v
	}
	id, _ := stored["_id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	stored["_id"] = id
	stored["_version"] = int64(1)

	if err := c.dispatchBefore(ctx, hooks.EventBeforeInsert, stored); err != nil {
		return nil, err
	}

	body := stripMeta(stored)
	if err := c.validate(body); err != nil {
		c.dispatchErr(ctx, err)
		return nil, err
	}
	docJSON, err := c.encode(body)
	if err != nil {
		c.dispatchErr(ctx, err)
		return nil, err
	}

	compiled := sqlgen.CompileInsert(c.table, id, docJSON)
	if _, err := c.writer(ctx).ExecContext(ctx, compiled.SQL, compiled.Args...); err != nil {
		mapped := classifyWriteError(err, id)
		c.dispatchErr(ctx, mapped)
		return nil, mapped
	}

	if err := c.dispatchAfter(ctx, hooks.EventAfterInsert, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// InsertBulk pre-checks existing ids with one batched query, then runs a
// single transaction inserting every document; any single failure rolls
// back the whole batch.
func (c *Collection) InsertBulk(ctx context.Context, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	prepared := make([]Document, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		stored := make(Document, len(doc))
		for k, v := range doc {
			stored[k] = v
		}
		id, _ := stored["_id"].(string)
		if id == "" {
			id = uuid.NewString()
		}
		stored["_id"] = id
		stored["_version"] = int64(1)
		prepared[i] = stored
		ids[i] = id
	}

	existing, err := c.existingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		err := &dberr.UniqueConstraintError{Field: "_id", ID: existing[0]}
		c.dispatchErr(ctx, err)
		return nil, err
	}

	sc, err := c.beginScope(ctx)
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "begin", Cause: err}
	}

	for _, stored := range prepared {
		if err := c.dispatchBefore(ctx, hooks.EventBeforeInsert, stored); err != nil {
			_ = sc.rollback(ctx)
			return nil, err
		}
		body := stripMeta(stored)
		if err := c.validate(body); err != nil {
			_ = sc.rollback(ctx)
			c.dispatchErr(ctx, err)
			return nil, err
		}
		docJSON, err := c.encode(body)
		if err != nil {
			_ = sc.rollback(ctx)
			c.dispatchErr(ctx, err)
			return nil, err
		}
		compiled := sqlgen.CompileInsert(c.table, stored["_id"].(string), docJSON)
		if _, err := sc.ExecContext(ctx, compiled.SQL, compiled.Args...); err != nil {
			_ = sc.rollback(ctx)
			mapped := classifyWriteError(err, stored["_id"].(string))
			c.dispatchErr(ctx, mapped)
			return nil, mapped
		}
	}

	if err := sc.commit(ctx); err != nil {
		return nil, &dberr.DatabaseError{Code: "commit", Cause: err}
	}

	for _, stored := range prepared {
		if err := c.dispatchAfter(ctx, hooks.EventAfterInsert, stored); err != nil {
			return prepared, err
		}
	}
	return prepared, nil
}

func (c *Collection) existingIDs(ctx context.Context, ids []string) ([]string, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	sqlText := fmt.Sprintf("SELECT _id FROM %s WHERE _id IN (%s)", c.table.Name, strings.Join(placeholders, ","))
	rows, err := c.reader(ctx).QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "query", Cause: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &dberr.DatabaseError{Code: "scan", Cause: err}
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Put loads the existing document inside BEGIN IMMEDIATE, merges patch
// into it, validates, and writes it back guarded by the version read at
// the start of this call.
func (c *Collection) Put(ctx context.Context, id string, patch Document) (Document, error) {
	sc, err := c.beginScope(ctx)
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "begin", Cause: err}
	}

	existing, version, err := c.findByID(ctx, sc, id)
	if err != nil {
		_ = sc.rollback(ctx)
		c.dispatchErr(ctx, err)
		return nil, err
	}

	if err := c.dispatchBefore(ctx, hooks.EventBeforeUpdate, patch); err != nil {
		_ = sc.rollback(ctx)
		return nil, err
	}

	merged := mergeDocuments(stripMeta(existing), patch)
	if err := c.validate(merged); err != nil {
		_ = sc.rollback(ctx)
		c.dispatchErr(ctx, err)
		return nil, err
	}
	docJSON, err := c.encode(merged)
	if err != nil {
		_ = sc.rollback(ctx)
		c.dispatchErr(ctx, err)
		return nil, err
	}

	compiled := sqlgen.CompilePut(c.table, id, docJSON, version)
	res, err := sc.ExecContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		_ = sc.rollback(ctx)
		mapped := classifyWriteError(err, id)
		c.dispatchErr(ctx, mapped)
		return nil, mapped
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		_, actual, findErr := c.findByID(ctx, sc, id)
		_ = sc.rollback(ctx)
		if findErr != nil {
			c.dispatchErr(ctx, findErr)
			return nil, findErr
		}
		mismatch := &dberr.VersionMismatchError{ID: id, Expected: version, Actual: actual}
		c.dispatchErr(ctx, mismatch)
		return nil, mismatch
	}

	if err := sc.commit(ctx); err != nil {
		return nil, &dberr.DatabaseError{Code: "commit", Cause: err}
	}

	merged["_id"] = id
	merged["_version"] = version + 1
	if err := c.dispatchAfter(ctx, hooks.EventAfterUpdate, merged); err != nil {
		return merged, err
	}
	return merged, nil
}

// PutUpdate is one item of a PutBulk call.
type PutUpdate struct {
	ID    string
	Patch Document
}

// PutBulk applies every update inside one transaction, merging each
// item against its current stored document with no version check.
func (c *Collection) PutBulk(ctx context.Context, updates []PutUpdate) ([]Document, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	sc, err := c.beginScope(ctx)
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "begin", Cause: err}
	}

	results := make([]Document, 0, len(updates))
	for _, u := range updates {
		existing, version, err := c.findByID(ctx, sc, u.ID)
		if err != nil {
			_ = sc.rollback(ctx)
			c.dispatchErr(ctx, err)
			return nil, err
		}
		merged := mergeDocuments(stripMeta(existing), u.Patch)
		if err := c.validate(merged); err != nil {
			_ = sc.rollback(ctx)
			c.dispatchErr(ctx, err)
			return nil, err
		}
		docJSON, err := c.encode(merged)
		if err != nil {
			_ = sc.rollback(ctx)
			c.dispatchErr(ctx, err)
			return nil, err
		}
		compiled := sqlgen.CompilePut(c.table, u.ID, docJSON, version)
		if _, err := sc.ExecContext(ctx, compiled.SQL, compiled.Args...); err != nil {
			_ = sc.rollback(ctx)
			mapped := classifyWriteError(err, u.ID)
			c.dispatchErr(ctx, mapped)
			return nil, mapped
		}
		merged["_id"] = u.ID
		merged["_version"] = version + 1
		results = append(results, merged)
	}

	if err := sc.commit(ctx); err != nil {
		return nil, &dberr.DatabaseError{Code: "commit", Cause: err}
	}
	return results, nil
}

// AtomicUpdate applies ops as one fused statement with no prior read of
// the document. expectedVersion <= 0 skips the optimistic-concurrency
// check.
func (c *Collection) AtomicUpdate(ctx context.Context, id string, ops []query.UpdateOp, expectedVersion int64) (Document, error) {
	if err := c.dispatchBefore(ctx, hooks.EventBeforeUpdate, id); err != nil {
		return nil, err
	}

	compiled, err := sqlgen.CompileAtomicUpdate(c.table, id, expectedVersion, ops)
	if err != nil {
		wrapped := &dberr.ValidationError{Reason: "invalid atomic update operator", Cause: err}
		c.dispatchErr(ctx, wrapped)
		return nil, wrapped
	}

	res, err := c.writer(ctx).ExecContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		mapped := classifyWriteError(err, id)
		c.dispatchErr(ctx, mapped)
		return nil, mapped
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		_, actual, findErr := c.findByID(ctx, c.writer(ctx), id)
		if findErr != nil {
			c.dispatchErr(ctx, findErr)
			return nil, findErr
		}
		if expectedVersion > 0 {
			mismatch := &dberr.VersionMismatchError{ID: id, Expected: expectedVersion, Actual: actual}
			c.dispatchErr(ctx, mismatch)
			return nil, mismatch
		}
		notFound := &dberr.NotFoundError{ID: id}
		c.dispatchErr(ctx, notFound)
		return nil, notFound
	}

	updated, _, err := c.findByID(ctx, c.writer(ctx), id)
	if err != nil {
		return nil, err
	}
	if err := c.dispatchAfter(ctx, hooks.EventAfterUpdate, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// Upsert replaces id's document (or creates it) via ON CONFLICT, then
// reloads it to report the resulting version.
func (c *Collection) Upsert(ctx context.Context, id string, doc Document) (Document, error) {
	body := stripMeta(doc)
	if err := c.validate(body); err != nil {
		c.dispatchErr(ctx, err)
		return nil, err
	}
	if err := c.dispatchBefore(ctx, hooks.EventBeforeUpdate, body); err != nil {
		return nil, err
	}
	docJSON, err := c.encode(body)
	if err != nil {
		c.dispatchErr(ctx, err)
		return nil, err
	}

	compiled := sqlgen.CompileUpsert(c.table, id, docJSON)
	if _, err := c.writer(ctx).ExecContext(ctx, compiled.SQL, compiled.Args...); err != nil {
		mapped := classifyWriteError(err, id)
		c.dispatchErr(ctx, mapped)
		return nil, mapped
	}

	updated, _, err := c.findByID(ctx, c.writer(ctx), id)
	if err != nil {
		return nil, err
	}
	if err := c.dispatchAfter(ctx, hooks.EventAfterUpdate, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// UpsertBulk applies Upsert to every item inside one transaction.
func (c *Collection) UpsertBulk(ctx context.Context, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	sc, err := c.beginScope(ctx)
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "begin", Cause: err}
	}

	results := make([]Document, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc["_id"].(string)
		if id == "" {
			id = uuid.NewString()
		}
		body := stripMeta(doc)
		if err := c.validate(body); err != nil {
			_ = sc.rollback(ctx)
			c.dispatchErr(ctx, err)
			return nil, err
		}
		docJSON, err := c.encode(body)
		if err != nil {
			_ = sc.rollback(ctx)
			c.dispatchErr(ctx, err)
			return nil, err
		}
		compiled := sqlgen.CompileUpsert(c.table, id, docJSON)
		if _, err := sc.ExecContext(ctx, compiled.SQL, compiled.Args...); err != nil {
			_ = sc.rollback(ctx)
			mapped := classifyWriteError(err, id)
			c.dispatchErr(ctx, mapped)
			return nil, mapped
		}
		updated, _, err := c.findByID(ctx, sc, id)
		if err != nil {
			_ = sc.rollback(ctx)
			c.dispatchErr(ctx, err)
			return nil, err
		}
		results = append(results, updated)
	}

	if err := sc.commit(ctx); err != nil {
		return nil, &dberr.DatabaseError{Code: "commit", Cause: err}
	}
	return results, nil
}

// Delete removes one document by id. Vector rows are removed by the
// AFTER DELETE trigger generated alongside the table (package ddl).
func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := c.dispatchBefore(ctx, hooks.EventBeforeDelete, id); err != nil {
		return err
	}
	compiled := sqlgen.CompileDelete(c.table, id)
	res, err := c.writer(ctx).ExecContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		mapped := &dberr.DatabaseError{Code: "exec", Cause: err}
		c.dispatchErr(ctx, mapped)
		return mapped
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		notFound := &dberr.NotFoundError{ID: id}
		c.dispatchErr(ctx, notFound)
		return notFound
	}
	return c.dispatchAfter(ctx, hooks.EventAfterDelete, id)
}

// DeleteBulk removes every id in one transaction.
func (c *Collection) DeleteBulk(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sc, err := c.beginScope(ctx)
	if err != nil {
		return &dberr.DatabaseError{Code: "begin", Cause: err}
	}
	compiled := sqlgen.CompileDeleteBulk(c.table, ids)
	if _, err := sc.ExecContext(ctx, compiled.SQL, compiled.Args...); err != nil {
		_ = sc.rollback(ctx)
		mapped := &dberr.DatabaseError{Code: "exec", Cause: err}
		c.dispatchErr(ctx, mapped)
		return mapped
	}
	if err := sc.commit(ctx); err != nil {
		return &dberr.DatabaseError{Code: "commit", Cause: err}
	}
	return nil
}

// FindByID loads a single document by id.
func (c *Collection) FindByID(ctx context.Context, id string) (Document, error) {
	doc, _, err := c.findByID(ctx, c.reader(ctx), id)
	return doc, err
}

// rowQuerier is the common subset of *sql.DB, *txn.Tx, and pool.Reader
// that findByID needs, letting it run against whichever connection the
// caller is already holding.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Collection) findByID(ctx context.Context, q rowQuerier, id string) (Document, int64, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf("SELECT doc, _version FROM %s WHERE _id = ?", c.table.Name), id)
	var docJSON string
	var version int64
	if err := row.Scan(&docJSON, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, &dberr.NotFoundError{ID: id}
		}
		return nil, 0, &dberr.DatabaseError{Code: "scan", Cause: err}
	}
	doc, err := c.decode(id, docJSON, version)
	if err != nil {
		return nil, 0, err
	}
	return doc, version, nil
}

func (c *Collection) dispatchBefore(ctx context.Context, ev hooks.Event, payload any) error {
	if c.hooks == nil {
		return nil
	}
	return c.hooks.Dispatch(ctx, ev, payload)
}

func (c *Collection) dispatchAfter(ctx context.Context, ev hooks.Event, payload any) error {
	if c.hooks == nil {
		return nil
	}
	return c.hooks.Dispatch(ctx, ev, payload)
}

func (c *Collection) dispatchErr(ctx context.Context, err error) {
	if c.hooks == nil || err == nil {
		return
	}
	c.hooks.DispatchError(ctx, err)
}
