package sqlgen

import (
	"fmt"
	"testing"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/query"
	"github.com/doclite/doclite/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]*coldef.Table

func (f fakeResolver) Resolve(name string) (*coldef.Table, error) {
	t, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("no such collection %q", name)
	}
	return t, nil
}

func usersTable() *coldef.Table {
	sch := schema.Object(map[string]*schema.Type{
		"name": schema.String(),
		"age":  schema.Number(),
	}, []string{"name", "age"})
	return coldef.NewTable("users", sch, map[string]field.Definition{
		"age": {Index: true},
	})
}

func ordersTable() *coldef.Table {
	sch := schema.Object(map[string]*schema.Type{
		"userId": schema.String(),
		"total":  schema.Number(),
	}, []string{"userId", "total"})
	return coldef.NewTable("orders", sch, map[string]field.Definition{
		"userId": {},
		"total":  {},
	})
}

func TestCompileSelectBasicFilter(t *testing.T) {
	opts, err := query.New("users", usersTable().Schema).Where("age", query.OpGte, float64(18)).Build()
	require.NoError(t, err)

	c, err := CompileSelect(fakeResolver{}, usersTable(), opts)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "WHERE users.age >= ?")
	assert.Equal(t, []any{float64(18)}, c.Args)
}

func TestCompileSelectUnconstrainedFieldUsesJSONExtract(t *testing.T) {
	opts, err := query.New("users", usersTable().Schema).Where("name", query.OpEq, "ada").Build()
	require.NoError(t, err)

	c, err := CompileSelect(fakeResolver{}, usersTable(), opts)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "json_extract(users.doc, '$.name') = ?")
}

func TestCompileSelectOrGroup(t *testing.T) {
	opts, err := query.New("users", usersTable().Schema).
		Or(query.F("age", query.OpLt, float64(18)), query.F("age", query.OpGt, float64(65))).
		Build()
	require.NoError(t, err)

	c, err := CompileSelect(fakeResolver{}, usersTable(), opts)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "WHERE (users.age < ? OR users.age > ?)")
}

func TestCompileSelectJoin(t *testing.T) {
	opts, err := query.New("users", usersTable().Schema).
		Join(query.JoinInner, "orders", "o", query.JoinOn{Left: "users._id", Right: "o.userId"}).
		Where("o.total", query.OpGt, float64(100)).
		Build()
	require.NoError(t, err)
	// field-existence validation only checks the base collection's schema,
	// joined-field validation happens at translation time via the resolver.
	require.NoError(t, err)

	resolver := fakeResolver{"orders": ordersTable()}
	c, err := CompileSelect(resolver, usersTable(), opts)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "INNER JOIN orders AS o ON")
	assert.Contains(t, c.SQL, "o.total > ?")
}

func TestCompileSelectLimitOffset(t *testing.T) {
	opts, err := query.New("users", usersTable().Schema).Page(2, 25).Build()
	require.NoError(t, err)
	c, err := CompileSelect(fakeResolver{}, usersTable(), opts)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "LIMIT ?")
	assert.Contains(t, c.SQL, "OFFSET ?")
	assert.Equal(t, []any{25, 25}, c.Args)
}

func TestCompileSelectAggregate(t *testing.T) {
	opts, err := query.New("users", usersTable().Schema).
		Aggregate(query.AggCount, "", "total", false).
		Build()
	require.NoError(t, err)
	c, err := CompileSelect(fakeResolver{}, usersTable(), opts)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "COUNT(*) AS total")
}

func TestCompileInsertAndUpsert(t *testing.T) {
	ins := CompileInsert(usersTable(), "abc", `{"name":"ada"}`)
	assert.Contains(t, ins.SQL, "INSERT INTO users")
	assert.Equal(t, []any{"abc", `{"name":"ada"}`}, ins.Args)

	up := CompileUpsert(usersTable(), "abc", `{"name":"ada"}`)
	assert.Contains(t, up.SQL, "ON CONFLICT(_id) DO UPDATE")
}

func TestCompilePutVersionGuard(t *testing.T) {
	c := CompilePut(usersTable(), "abc", `{"name":"ada"}`, 3)
	assert.Contains(t, c.SQL, "_version = _version + 1 WHERE _id = ? AND _version = ?")
	assert.Equal(t, []any{`{"name":"ada"}`, "abc", int64(3)}, c.Args)
}

func TestCompileAtomicUpdateFusesOperators(t *testing.T) {
	c, err := CompileAtomicUpdate(usersTable(), "abc", 0, []query.UpdateOp{
		query.Set("name", "ada lovelace"),
		query.Inc("age", 1),
	})
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "json_set(json_set(doc, '$.name', ?), '$.age', COALESCE(json_extract(doc, '$.age'), 0) + ?)")
	assert.Equal(t, []any{"ada lovelace", float64(1), "abc"}, c.Args)
}

func TestCompileAtomicUpdateWithVersionGuard(t *testing.T) {
	c, err := CompileAtomicUpdate(usersTable(), "abc", 5, []query.UpdateOp{query.Unset("name")})
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "AND _version = ?")
	assert.Equal(t, []any{"abc", int64(5)}, c.Args)
}

func TestCompileVectorSearch(t *testing.T) {
	sch := schema.Object(map[string]*schema.Type{
		"embedding": schema.Array(schema.Number()),
	}, []string{"embedding"})
	tbl := coldef.NewTable("docs", sch, map[string]field.Definition{
		"embedding": {VectorDimensions: 3},
	})
	c, err := CompileVectorSearch(fakeResolver{}, tbl, "embedding", []float32{0.1, 0.2, 0.3}, 5, nil)
	require.NoError(t, err)
	assert.Contains(t, c.SQL, "docs_embedding_vec")
	assert.Contains(t, c.SQL, "MATCH ? AND k = ?")
	require.Len(t, c.Args, 2)
	blob, ok := c.Args[0].([]byte)
	require.True(t, ok, "query vector arg should be a packed BLOB, got %T", c.Args[0])
	assert.Len(t, blob, 3*4) // 3 float32 lanes, 4 bytes each
	assert.Equal(t, 5, c.Args[1])
}
