package doclite

import (
	"context"

	icollection "github.com/doclite/doclite/internal/collection"
	"github.com/doclite/doclite/internal/query"
	"github.com/doclite/doclite/internal/schema"
)

// Document is a decoded document, its _id and _version attached under
// those same keys.
type Document = icollection.Document

// PutUpdate is one item of a PutBulk call.
type PutUpdate = icollection.PutUpdate

// VectorSearchOptions parameterizes Collection.VectorSearch.
type VectorSearchOptions = icollection.VectorSearchOptions

// VectorResult is one ranked nearest-neighbor match.
type VectorResult = icollection.VectorResult

// RebuildReport summarizes a RebuildIndexes pass.
type RebuildReport = icollection.RebuildReport

// Cursor streams query results one document at a time.
type Cursor = icollection.Cursor

// Collection is the public CRUD and query surface over one physical
// table, bound to the Database it was obtained from.
type Collection struct {
	db     *Database
	name   string
	schema *schema.Type
	inner  *icollection.Collection
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Insert stores doc as a new document, generating _id if absent.
func (c *Collection) Insert(ctx context.Context, doc Document) (Document, error) {
	return c.inner.Insert(ctx, doc)
}

// InsertBulk inserts every document inside one transaction; any single
// failure (e.g. a duplicate _id) rolls back the whole batch.
func (c *Collection) InsertBulk(ctx context.Context, docs []Document) ([]Document, error) {
	return c.inner.InsertBulk(ctx, docs)
}

// Put merges patch into the document addressed by id and stores the
// result, bumping _version.
func (c *Collection) Put(ctx context.Context, id string, patch Document) (Document, error) {
	return c.inner.Put(ctx, id, patch)
}

// PutBulk applies every update inside one transaction.
func (c *Collection) PutBulk(ctx context.Context, updates []PutUpdate) ([]Document, error) {
	return c.inner.PutBulk(ctx, updates)
}

// AtomicUpdate applies ops as one fused statement with no prior read of
// the document. expectedVersion <= 0 skips the optimistic-concurrency
// check.
func (c *Collection) AtomicUpdate(ctx context.Context, id string, ops []query.UpdateOp, expectedVersion int64) (Document, error) {
	return c.inner.AtomicUpdate(ctx, id, ops, expectedVersion)
}

// Upsert inserts doc if id doesn't exist, else replaces it wholesale.
func (c *Collection) Upsert(ctx context.Context, id string, doc Document) (Document, error) {
	return c.inner.Upsert(ctx, id, doc)
}

// UpsertBulk applies Upsert to every item inside one transaction.
func (c *Collection) UpsertBulk(ctx context.Context, docs []Document) ([]Document, error) {
	return c.inner.UpsertBulk(ctx, docs)
}

// Delete removes one document by id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	return c.inner.Delete(ctx, id)
}

// DeleteBulk removes every id in one transaction.
func (c *Collection) DeleteBulk(ctx context.Context, ids []string) error {
	return c.inner.DeleteBulk(ctx, ids)
}

// FindByID loads a single document by id.
func (c *Collection) FindByID(ctx context.Context, id string) (Document, error) {
	return c.inner.FindByID(ctx, id)
}

// VectorSearch requires opts.Field to be a declared VECTOR field of
// matching dimensionality and returns matches ordered nearest-first.
func (c *Collection) VectorSearch(ctx context.Context, opts VectorSearchOptions) ([]VectorResult, error) {
	return c.inner.VectorSearch(ctx, opts)
}

// RebuildIndexes repairs every vec0 shadow row that is missing or stale
// relative to its document body.
func (c *Collection) RebuildIndexes(ctx context.Context) (RebuildReport, error) {
	return c.inner.RebuildIndexes(ctx)
}

// Where starts a query chain scoped to this collection's own schema.
func (c *Collection) Where(fieldPath string, op query.Op, value any) *QueryBuilder {
	return &QueryBuilder{coll: c, b: query.New(c.name, c.schema).Where(fieldPath, op, value)}
}

// OrderBy starts a query chain with no filter, ordered by fieldPath.
func (c *Collection) OrderBy(fieldPath string, desc bool) *QueryBuilder {
	return &QueryBuilder{coll: c, b: query.New(c.name, c.schema).OrderBy(fieldPath, desc)}
}

// Limit starts a query chain with no filter, capped at n results.
func (c *Collection) Limit(n int) *QueryBuilder {
	return &QueryBuilder{coll: c, b: query.New(c.name, c.schema).Limit(n)}
}

// Offset starts a query chain with no filter, skipping the first n
// results.
func (c *Collection) Offset(n int) *QueryBuilder {
	return &QueryBuilder{coll: c, b: query.New(c.name, c.schema).Offset(n)}
}

// Page starts a query chain with no filter, scoped to one page of
// pageSize results.
func (c *Collection) Page(page, pageSize int) *QueryBuilder {
	return &QueryBuilder{coll: c, b: query.New(c.name, c.schema).Page(page, pageSize)}
}

// Distinct starts a query chain with no filter, deduplicating rows.
func (c *Collection) Distinct() *QueryBuilder {
	return &QueryBuilder{coll: c, b: query.New(c.name, c.schema).Distinct()}
}

// Query starts an empty query chain, for callers that only want
// terminal methods (ToArray/Count/...) over the whole collection.
func (c *Collection) Query() *QueryBuilder {
	return &QueryBuilder{coll: c, b: query.New(c.name, c.schema)}
}

// QueryBuilder chains filter/sort/paging calls and terminates with a
// method that actually runs the query. Every chaining method mirrors
// internal/query.Builder's immutable-return style, adapted to return a
// *QueryBuilder for this specific collection instead of a bare
// *query.Builder.
type QueryBuilder struct {
	coll *Collection
	b    *query.Builder
}

// Where adds another filter, ANDed with any already accumulated.
func (q *QueryBuilder) Where(fieldPath string, op query.Op, value any) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Where(fieldPath, op, value)}
}

// WhereBetween adds an inclusive range filter.
func (q *QueryBuilder) WhereBetween(fieldPath string, lo, hi any) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.WhereBetween(fieldPath, lo, hi)}
}

// OrderBy adds another ORDER BY term.
func (q *QueryBuilder) OrderBy(fieldPath string, desc bool) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.OrderBy(fieldPath, desc)}
}

// Limit caps the result count.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Limit(n)}
}

// Offset skips the first n results.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Offset(n)}
}

// Page scopes the query to one page of pageSize results.
func (q *QueryBuilder) Page(page, pageSize int) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Page(page, pageSize)}
}

// Distinct deduplicates rows.
func (q *QueryBuilder) Distinct() *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Distinct()}
}

// WhereVector adds a vector similarity filter against fieldPath, usable
// alongside ordinary Where filters in the same query (unlike
// Collection.VectorSearch, which always runs as a dedicated vec0 query).
func (q *QueryBuilder) WhereVector(fieldPath string, distance string, queryVector any, k int) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.WhereVector(fieldPath, distance, queryVector, k)}
}

// WhereExists adds a correlated subquery filter requiring at least one
// matching row in collection, joined on localField = foreignField.
func (q *QueryBuilder) WhereExists(collection, localField, foreignField string, inner *query.Options) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.WhereExists(collection, localField, foreignField, inner)}
}

// WhereNotExists is the negated form of WhereExists.
func (q *QueryBuilder) WhereNotExists(collection, localField, foreignField string, inner *query.Options) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.WhereNotExists(collection, localField, foreignField, inner)}
}

// GroupBy appends grouping field paths.
func (q *QueryBuilder) GroupBy(fieldPaths ...string) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.GroupBy(fieldPaths...)}
}

// Having adds a top-level AND'd post-aggregation filter.
func (q *QueryBuilder) Having(nodes ...query.Node) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Having(nodes...)}
}

// Aggregate appends a SELECT aggregate.
func (q *QueryBuilder) Aggregate(fn query.AggregateFn, fieldPath, alias string, distinct bool) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Aggregate(fn, fieldPath, alias, distinct)}
}

// Join appends a join against another collection.
func (q *QueryBuilder) Join(kind query.JoinKind, collection, alias string, on query.JoinOn) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Join(kind, collection, alias, on)}
}

// Select restricts the projected fields.
func (q *QueryBuilder) Select(fieldPaths ...string) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Select(fieldPaths...)}
}

// And combines nodes under one AND group and adds it as a filter.
func (q *QueryBuilder) And(nodes ...query.Node) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.And(nodes...)}
}

// Or combines nodes under one OR group and adds it as a filter.
func (q *QueryBuilder) Or(nodes ...query.Node) *QueryBuilder {
	return &QueryBuilder{coll: q.coll, b: q.b.Or(nodes...)}
}

// ToArray runs the query and returns every matching document.
func (q *QueryBuilder) ToArray(ctx context.Context) ([]Document, error) {
	opts, err := q.b.Build()
	if err != nil {
		return nil, err
	}
	return q.coll.inner.ToArray(ctx, opts)
}

// First runs the query and returns its first match, or (nil, nil) if
// there is none.
func (q *QueryBuilder) First(ctx context.Context) (Document, error) {
	opts, err := q.b.Build()
	if err != nil {
		return nil, err
	}
	return q.coll.inner.First(ctx, opts)
}

// Count runs the query's filters as a COUNT(*).
func (q *QueryBuilder) Count(ctx context.Context) (int64, error) {
	opts, err := q.b.Build()
	if err != nil {
		return 0, err
	}
	return q.coll.inner.Count(ctx, opts)
}

// Rows runs the query and returns each result row as a column-keyed map,
// for use with Aggregate/GroupBy/Select queries whose result columns
// aren't a plain document (ToArray/First/Iterator assume the latter).
func (q *QueryBuilder) Rows(ctx context.Context) ([]map[string]any, error) {
	opts, err := q.b.Build()
	if err != nil {
		return nil, err
	}
	return q.coll.inner.Rows(ctx, opts)
}

// Iterator opens a streaming cursor over the query's results.
func (q *QueryBuilder) Iterator(ctx context.Context) (*Cursor, error) {
	opts, err := q.b.Build()
	if err != nil {
		return nil, err
	}
	return q.coll.inner.Iterator(ctx, opts)
}
