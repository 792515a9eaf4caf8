package collection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doclite/doclite/internal/dberr"
	"github.com/doclite/doclite/internal/hooks"
	"github.com/doclite/doclite/internal/query"
	"github.com/doclite/doclite/internal/sqlgen"
)

// scanDocs reads every row of rows as a (_id, doc, _version) triple and
// decodes it into a Document.
func (c *Collection) scanDocs(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var id, docJSON string
		var version int64
		if err := rows.Scan(&id, &docJSON, &version); err != nil {
			return nil, &dberr.DatabaseError{Code: "scan", Cause: err}
		}
		doc, err := c.decode(id, docJSON, version)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ToArray runs opts and returns every matching document.
func (c *Collection) ToArray(ctx context.Context, opts *query.Options) ([]Document, error) {
	if err := c.dispatchBefore(ctx, hooks.EventBeforeQuery, opts); err != nil {
		return nil, err
	}
	compiled, err := sqlgen.CompileSelect(c.resolver, c.table, opts)
	if err != nil {
		wrapped := &dberr.ValidationError{Reason: "invalid query", Cause: err}
		c.dispatchErr(ctx, wrapped)
		return nil, wrapped
	}
	rows, err := c.reader(ctx).QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		mapped := &dberr.DatabaseError{Code: "query", Cause: err}
		c.dispatchErr(ctx, mapped)
		return nil, mapped
	}
	docs, err := c.scanDocs(rows)
	if err != nil {
		c.dispatchErr(ctx, err)
		return nil, err
	}
	if err := c.dispatchAfter(ctx, hooks.EventAfterQuery, docs); err != nil {
		return docs, err
	}
	return docs, nil
}

// First runs opts with an implicit limit of 1 and returns the first
// match, or (nil, nil) if there is none.
func (c *Collection) First(ctx context.Context, opts *query.Options) (Document, error) {
	narrowed := opts.Clone()
	narrowed.HasLimit = true
	narrowed.Limit = 1
	docs, err := c.ToArray(ctx, &narrowed)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// Count runs opts' filters as a COUNT(*) query, ignoring any
// SelectFields/Aggregates already present.
func (c *Collection) Count(ctx context.Context, opts *query.Options) (int64, error) {
	counting := opts.Clone()
	counting.Aggregates = []query.Aggregate{{Fn: query.AggCount, Field: "*"}}
	counting.SelectFields = nil
	counting.OrderBy = nil
	counting.HasLimit = false
	counting.Offset = 0

	compiled, err := sqlgen.CompileSelect(c.resolver, c.table, &counting)
	if err != nil {
		return 0, &dberr.ValidationError{Reason: "invalid query", Cause: err}
	}
	row := c.reader(ctx).QueryRowContext(ctx, compiled.SQL, compiled.Args...)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, &dberr.DatabaseError{Code: "scan", Cause: err}
	}
	return n, nil
}

// Rows runs opts and returns each result row as a column-name-keyed map,
// for queries shaped by Aggregate/GroupBy/Select whose result set isn't
// the usual (_id, doc, _version) document triple ToArray expects.
func (c *Collection) Rows(ctx context.Context, opts *query.Options) ([]map[string]any, error) {
	compiled, err := sqlgen.CompileSelect(c.resolver, c.table, opts)
	if err != nil {
		return nil, &dberr.ValidationError{Reason: "invalid query", Cause: err}
	}
	rows, err := c.reader(ctx).QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "query", Cause: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "scan", Cause: err}
	}

	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &dberr.DatabaseError{Code: "scan", Cause: err}
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = dest[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Cursor streams query results one document at a time without
// materializing the whole result set, closing its underlying rows when
// exhausted or explicitly Closed.
type Cursor struct {
	rows *sql.Rows
	coll *Collection
	cur  Document
	err  error
}

// Iterator opens a streaming cursor over opts' results.
func (c *Collection) Iterator(ctx context.Context, opts *query.Options) (*Cursor, error) {
	compiled, err := sqlgen.CompileSelect(c.resolver, c.table, opts)
	if err != nil {
		return nil, &dberr.ValidationError{Reason: "invalid query", Cause: err}
	}
	rows, err := c.reader(ctx).QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "query", Cause: err}
	}
	return &Cursor{rows: rows, coll: c}, nil
}

// Next advances the cursor, returning false at end of results or on
// error (check Err to distinguish the two).
func (cur *Cursor) Next() bool {
	if cur.err != nil || !cur.rows.Next() {
		return false
	}
	var id, docJSON string
	var version int64
	if err := cur.rows.Scan(&id, &docJSON, &version); err != nil {
		cur.err = &dberr.DatabaseError{Code: "scan", Cause: err}
		return false
	}
	doc, err := cur.coll.decode(id, docJSON, version)
	if err != nil {
		cur.err = err
		return false
	}
	cur.cur = doc
	return true
}

// Doc returns the document loaded by the most recent successful Next.
func (cur *Cursor) Doc() Document { return cur.cur }

// Err reports any error encountered during iteration.
func (cur *Cursor) Err() error {
	if cur.err != nil {
		return cur.err
	}
	return cur.rows.Err()
}

// Close releases the cursor's underlying rows. Safe to call more than
// once.
func (cur *Cursor) Close() error { return cur.rows.Close() }

// VectorSearchOptions parameterizes a nearest-neighbor query.
type VectorSearchOptions struct {
	Field string
	Query []float32
	Limit int
	Where *query.Options
}

// VectorResult is one ranked nearest-neighbor match.
type VectorResult struct {
	Document Document
	Distance float64
}

// VectorSearch requires Field to be a declared VECTOR field of matching
// dimensionality and returns matches ordered nearest-first.
func (c *Collection) VectorSearch(ctx context.Context, opts VectorSearchOptions) ([]VectorResult, error) {
	def, ok := c.table.FieldByPath(opts.Field)
	if !ok || def.VectorDimensions == 0 {
		return nil, &dberr.ValidationError{Reason: fmt.Sprintf("%q is not a declared vector field", opts.Field)}
	}
	if len(opts.Query) != def.VectorDimensions {
		return nil, &dberr.ValidationError{Reason: fmt.Sprintf(
			"vector has %d dimensions, field %q expects %d", len(opts.Query), opts.Field, def.VectorDimensions)}
	}

	compiled, err := sqlgen.CompileVectorSearch(c.resolver, c.table, opts.Field, opts.Query, opts.Limit, opts.Where)
	if err != nil {
		return nil, &dberr.ValidationError{Reason: "invalid vector search", Cause: err}
	}
	rows, err := c.reader(ctx).QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, &dberr.DatabaseError{Code: "query", Cause: err}
	}
	defer rows.Close()

	var out []VectorResult
	for rows.Next() {
		var id, docJSON string
		var version int64
		var distance float64
		if err := rows.Scan(&id, &docJSON, &version, &distance); err != nil {
			return nil, &dberr.DatabaseError{Code: "scan", Cause: err}
		}
		doc, err := c.decode(id, docJSON, version)
		if err != nil {
			return nil, err
		}
		out = append(out, VectorResult{Document: doc, Distance: distance})
	}
	return out, rows.Err()
}

// RebuildReport summarizes a RebuildIndexes pass.
type RebuildReport struct {
	Scanned int
	Fixed   int
	Errors  []error
}

// RebuildIndexes streams every row and, for every VECTOR field, repairs
// its vec0 shadow row whenever it's missing or diverges from the value
// derivable from the document body. Constrained scalar/text columns
// never need repair here: they are SQLite GENERATED ALWAYS AS columns
// and cannot diverge from doc (package ddl).
func (c *Collection) RebuildIndexes(ctx context.Context) (RebuildReport, error) {
	var report RebuildReport
	vectorFields := c.table.VectorFields()
	if len(vectorFields) == 0 {
		row := c.reader(ctx).QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", c.table.Name))
		var n int
		if err := row.Scan(&n); err != nil {
			return report, &dberr.DatabaseError{Code: "scan", Cause: err}
		}
		report.Scanned = n
		return report, nil
	}

	rows, err := c.reader(ctx).QueryContext(ctx, fmt.Sprintf("SELECT rowid, _id, doc FROM %s", c.table.Name))
	if err != nil {
		return report, &dberr.DatabaseError{Code: "query", Cause: err}
	}
	defer rows.Close()

	type row struct {
		rowid int64
		id    string
		doc   string
	}
	var allRows []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.rowid, &r.id, &r.doc); err != nil {
			return report, &dberr.DatabaseError{Code: "scan", Cause: err}
		}
		allRows = append(allRows, r)
	}
	if err := rows.Err(); err != nil {
		return report, &dberr.DatabaseError{Code: "scan", Cause: err}
	}

	for _, r := range allRows {
		report.Scanned++
		for _, f := range vectorFields {
			fixed, err := c.repairVectorRow(ctx, f, r.rowid, r.id, r.doc)
			if err != nil {
				report.Errors = append(report.Errors, err)
				continue
			}
			if fixed {
				report.Fixed++
			}
		}
	}
	return report, nil
}
