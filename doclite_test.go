package doclite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/query"
	"github.com/doclite/doclite/internal/schema"
)

func notesSchema() *schema.Type {
	return schema.Object(map[string]*schema.Type{
		"name":  schema.String(),
		"count": schema.Number(),
	}, []string{"name"})
}

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(Options{
		Path:             filepath.Join(t.TempDir(), "doclite.db"),
		DriverName:       "sqlite-runtime",
		SharedConnection: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func openTestCollection(t *testing.T, db *Database, name string, sch *schema.Type, fields map[string]field.Definition) *Collection {
	t.Helper()
	c, err := db.Collection(context.Background(), name, sch, CollectionOptions{Fields: fields})
	require.NoError(t, err)
	return c
}

// Version monotonicity: insert -> put -> atomicUpdate -> upsert, each
// bumping _version by exactly one.
func TestVersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	notes := openTestCollection(t, db, "notes", notesSchema(), nil)

	doc, err := notes.Insert(ctx, Document{"name": "a", "count": float64(0)})
	require.NoError(t, err)
	id := doc["_id"].(string)
	assert.EqualValues(t, 1, doc["_version"])

	doc, err = notes.Put(ctx, id, Document{"count": float64(1)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, doc["_version"])

	doc, err = notes.AtomicUpdate(ctx, id, []query.UpdateOp{query.Inc("count", 2)}, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, doc["_version"])
	assert.EqualValues(t, 3, doc["count"])

	doc, err = notes.Upsert(ctx, id, Document{"name": "a", "count": float64(3)})
	require.NoError(t, err)
	assert.EqualValues(t, 4, doc["_version"])
}

// Optimistic conflict: an AtomicUpdate against a stale version raises
// VersionMismatchError reporting both the version it expected and the
// one actually stored.
func TestOptimisticConflict(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	notes := openTestCollection(t, db, "notes", notesSchema(), nil)

	doc, err := notes.Insert(ctx, Document{"name": "a", "count": float64(0)})
	require.NoError(t, err)
	id := doc["_id"].(string)

	_, err = notes.Put(ctx, id, Document{"count": float64(5)})
	require.NoError(t, err)
	_, err = notes.Put(ctx, id, Document{"count": float64(6)})
	require.NoError(t, err)

	ops := []query.UpdateOp{query.Set("count", float64(9))}
	_, err = notes.AtomicUpdate(ctx, id, ops, 2)
	var vme *VersionMismatchError
	require.ErrorAs(t, err, &vme)
	assert.EqualValues(t, 2, vme.Expected)
	assert.EqualValues(t, 3, vme.Actual)
}

// Coherence: a constrained scalar column and json_extract(doc, ...) over
// the same path always agree, before and after an atomic update.
func TestConstrainedFieldCoherence(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	sch := schema.Object(map[string]*schema.Type{
		"price": schema.Number(),
	}, []string{"price"})
	prices := openTestCollection(t, db, "prices", sch, map[string]field.Definition{
		"price": {Index: true},
	})

	doc, err := prices.Insert(ctx, Document{"price": 9.5})
	require.NoError(t, err)
	id := doc["_id"].(string)

	var column, extracted float64
	row := db.pool.WriterDB().QueryRowContext(ctx, "SELECT price, json_extract(doc, '$.price') FROM prices WHERE _id = ?", id)
	require.NoError(t, row.Scan(&column, &extracted))
	assert.Equal(t, 9.5, column)
	assert.Equal(t, 9.5, extracted)

	_, err = prices.AtomicUpdate(ctx, id, []query.UpdateOp{query.Set("price", 12.0)}, 0)
	require.NoError(t, err)

	row = db.pool.WriterDB().QueryRowContext(ctx, "SELECT price, json_extract(doc, '$.price') FROM prices WHERE _id = ?", id)
	require.NoError(t, row.Scan(&column, &extracted))
	assert.Equal(t, 12.0, column)
	assert.Equal(t, 12.0, extracted)
}

// Atomic bulk rollback: a batch containing a duplicate _id fails whole,
// leaving the collection's count unchanged.
func TestInsertBulkRollsBackOnDuplicateID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	notes := openTestCollection(t, db, "notes", notesSchema(), nil)

	existing, err := notes.Insert(ctx, Document{"name": "a", "count": float64(0)})
	require.NoError(t, err)

	before, err := notes.Query().Count(ctx)
	require.NoError(t, err)

	_, err = notes.InsertBulk(ctx, []Document{
		{"name": "a", "count": float64(0)},
		{"_id": existing["_id"], "name": "a", "count": float64(0)},
	})
	var uce *UniqueConstraintError
	require.ErrorAs(t, err, &uce)

	after, err := notes.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// Vector round trip: nearest-neighbor search over three orthogonal unit
// vectors returns the exact match first, ascending by cosine distance.
func TestVectorSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := Open(Options{
		Path:             filepath.Join(t.TempDir(), "vectors.db"),
		DriverName:       "sqlite-native",
		SharedConnection: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sch := schema.Object(map[string]*schema.Type{
		"embedding": schema.Array(schema.Number()),
	}, nil)
	docs := openTestCollection(t, db, "vecs", sch, map[string]field.Definition{
		"embedding": {VectorDimensions: 3},
	})

	for _, v := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
		_, err := docs.Insert(ctx, Document{"embedding": v})
		require.NoError(t, err)
	}

	results, err := docs.VectorSearch(ctx, VectorSearchOptions{
		Field: "embedding",
		Query: []float32{1, 0, 0},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

// Nested transaction rollback of inner: the outer transaction's insert
// survives; the inner transaction's, rolled back by its own error,
// doesn't.
func TestNestedTransactionRollsBackInnerOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	notes := openTestCollection(t, db, "notes", notesSchema(), nil)

	errBoom := errors.New("boom")
	err := db.Transaction(ctx, func(ctx context.Context) error {
		if _, err := notes.Insert(ctx, Document{"name": "a", "count": float64(0)}); err != nil {
			return err
		}
		innerErr := db.Transaction(ctx, func(ctx context.Context) error {
			if _, err := notes.Insert(ctx, Document{"name": "b", "count": float64(0)}); err != nil {
				return err
			}
			return errBoom
		})
		if !errors.Is(innerErr, errBoom) {
			t.Fatalf("inner transaction error = %v, want %v", innerErr, errBoom)
		}
		return nil
	})
	require.NoError(t, err)

	all, err := notes.Query().ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0]["name"])
}
