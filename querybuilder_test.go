package doclite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/query"
	"github.com/doclite/doclite/internal/schema"
)

func usersAndOrdersSchemas() (*schema.Type, *schema.Type) {
	users := schema.Object(map[string]*schema.Type{
		"name": schema.String(),
	}, []string{"name"})
	orders := schema.Object(map[string]*schema.Type{
		"userId": schema.String(),
		"total":  schema.Number(),
	}, []string{"userId", "total"})
	return users, orders
}

// Join: orders joined back to their owning user, filtered on the joined
// user's name.
func TestQueryBuilderJoin(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	usersSch, ordersSch := usersAndOrdersSchemas()
	users := openTestCollection(t, db, "users", usersSch, nil)
	orders := openTestCollection(t, db, "orders", ordersSch, map[string]field.Definition{
		"userId": {Index: true},
		"total":  {},
	})

	ada, err := users.Insert(ctx, Document{"name": "ada"})
	require.NoError(t, err)
	_, err = users.Insert(ctx, Document{"name": "grace"})
	require.NoError(t, err)

	_, err = orders.Insert(ctx, Document{"userId": ada["_id"], "total": float64(42)})
	require.NoError(t, err)
	_, err = orders.Insert(ctx, Document{"userId": ada["_id"], "total": float64(7)})
	require.NoError(t, err)

	docs, err := orders.Query().
		Join(query.JoinInner, "users", "u", query.JoinOn{Left: "orders.userId", Right: "u._id"}).
		Where("u.name", query.OpEq, "ada").
		OrderBy("total", true).
		ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.EqualValues(t, 42, docs[0]["total"])
	assert.EqualValues(t, 7, docs[1]["total"])
}

// GroupBy/Having/Aggregate: per-user order totals, only users whose sum
// exceeds a threshold.
func TestQueryBuilderGroupByHavingAggregate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, ordersSch := usersAndOrdersSchemas()
	orders := openTestCollection(t, db, "orders", ordersSch, map[string]field.Definition{
		"userId": {Index: true},
		"total":  {},
	})

	for _, o := range []Document{
		{"userId": "u1", "total": float64(10)},
		{"userId": "u1", "total": float64(15)},
		{"userId": "u2", "total": float64(5)},
	} {
		_, err := orders.Insert(ctx, o)
		require.NoError(t, err)
	}

	rows, err := orders.Query().
		Aggregate(query.AggSum, "total", "total_sum", false).
		GroupBy("userId").
		Having(query.F("total_sum", query.OpGt, float64(20))).
		Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 25, rows[0]["total_sum"])
}

// Select: project a single field instead of the whole document.
func TestQueryBuilderSelect(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	notes := openTestCollection(t, db, "notes", notesSchema(), nil)
	_, err := notes.Insert(ctx, Document{"name": "a", "count": float64(1)})
	require.NoError(t, err)

	rows, err := notes.Query().Select("name").Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["name"])
}

// WhereExists/WhereNotExists: orders whose user still exists vs. not.
func TestQueryBuilderWhereExistsNotExists(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	usersSch, ordersSch := usersAndOrdersSchemas()
	users := openTestCollection(t, db, "users", usersSch, nil)
	orders := openTestCollection(t, db, "orders", ordersSch, map[string]field.Definition{
		"userId": {Index: true},
		"total":  {},
	})

	ada, err := users.Insert(ctx, Document{"name": "ada"})
	require.NoError(t, err)
	_, err = orders.Insert(ctx, Document{"userId": ada["_id"], "total": float64(1)})
	require.NoError(t, err)
	_, err = orders.Insert(ctx, Document{"userId": "ghost", "total": float64(2)})
	require.NoError(t, err)

	withUser, err := orders.Query().
		WhereExists("users", "userId", "_id", nil).
		ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, withUser, 1)
	assert.EqualValues(t, 1, withUser[0]["total"])

	orphaned, err := orders.Query().
		WhereNotExists("users", "userId", "_id", nil).
		ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.EqualValues(t, 2, orphaned[0]["total"])
}

// WhereVector: a similarity filter composed inside an ordinary query
// chain, combinable with non-vector filters (unlike Collection.VectorSearch).
func TestQueryBuilderWhereVector(t *testing.T) {
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

	results, err := docs.Query().
		WhereVector("embedding", "cosine", []float32{1, 0, 0}, 1).
		ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualValues(t, []any{float64(1), float64(0), float64(0)}, results[0]["embedding"])
}
