package ddl

import (
	"strings"
	"testing"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productSchema() *schema.Type {
	return schema.Object(map[string]*schema.Type{
		"name":      schema.String(),
		"price":     schema.Number(),
		"embedding": schema.Array(schema.Number()),
	}, []string{"name", "price", "embedding"})
}

func TestGenerateBasicTable(t *testing.T) {
	tbl := coldef.NewTable("products", productSchema(), map[string]field.Definition{
		"price": {Index: true},
	})
	plan, err := Generate(tbl)
	require.NoError(t, err)
	assert.Contains(t, plan.CreateTable, "_id TEXT PRIMARY KEY")
	assert.Contains(t, plan.CreateTable, "price REAL GENERATED ALWAYS AS (CAST(json_extract(doc, '$.price') AS REAL)) STORED NOT NULL")
	found := false
	for _, s := range plan.Auxiliary {
		if strings.Contains(s, "CREATE INDEX IF NOT EXISTS idx_products_price") {
			found = true
		}
	}
	assert.True(t, found, "expected an index statement for price")
}

func TestGenerateVectorField(t *testing.T) {
	tbl := coldef.NewTable("products", productSchema(), map[string]field.Definition{
		"embedding": {VectorDimensions: 3, Nullable: true},
	})
	plan, err := Generate(tbl)
	require.NoError(t, err)
	assert.Contains(t, plan.CreateTable, "embedding TEXT")

	var vecStmt string
	for _, s := range plan.Auxiliary {
		if strings.Contains(s, "USING vec0") {
			vecStmt = s
		}
	}
	require.NotEmpty(t, vecStmt)
	assert.Contains(t, vecStmt, "products_embedding_vec")
	assert.Contains(t, vecStmt, "float[3]")
}

func TestGenerateScalarFieldIsGeneratedColumn(t *testing.T) {
	tbl := coldef.NewTable("products", productSchema(), map[string]field.Definition{
		"price": {},
	})
	plan, err := Generate(tbl)
	require.NoError(t, err)
	assert.Contains(t, plan.CreateTable, "price REAL GENERATED ALWAYS AS (CAST(json_extract(doc, '$.price') AS REAL)) STORED NOT NULL")
}

func TestGenerateVectorFieldSyncTriggers(t *testing.T) {
	tbl := coldef.NewTable("products", productSchema(), map[string]field.Definition{
		"embedding": {VectorDimensions: 3, Nullable: true},
	})
	plan, err := Generate(tbl)
	require.NoError(t, err)

	var insertTrig, updateUpsertTrig, updateClearTrig, deleteTrig string
	for _, s := range plan.Auxiliary {
		switch {
		case strings.Contains(s, "AFTER INSERT"):
			insertTrig = s
		case strings.Contains(s, "vec_update_clear"):
			updateClearTrig = s
		case strings.Contains(s, "AFTER UPDATE OF doc"):
			updateUpsertTrig = s
		case strings.Contains(s, "AFTER DELETE"):
			deleteTrig = s
		}
	}
	require.NotEmpty(t, insertTrig)
	require.NotEmpty(t, updateUpsertTrig)
	require.NotEmpty(t, updateClearTrig)
	require.NotEmpty(t, deleteTrig)
	assert.Contains(t, insertTrig, "INSERT OR REPLACE INTO products_embedding_vec")
	assert.Contains(t, updateUpsertTrig, "WHEN NEW.embedding IS NOT NULL")
	assert.Contains(t, updateUpsertTrig, "INSERT OR REPLACE INTO products_embedding_vec")
	assert.Contains(t, updateClearTrig, "WHEN NEW.embedding IS NULL AND OLD.embedding IS NOT NULL")
	assert.Contains(t, updateClearTrig, "DELETE FROM products_embedding_vec WHERE rowid = NEW.rowid")
	assert.Contains(t, deleteTrig, "DELETE FROM products_embedding_vec")
}

func TestGenerateCheckConstraintSubstitution(t *testing.T) {
	tbl := coldef.NewTable("products", productSchema(), map[string]field.Definition{
		"price": {CheckConstraint: "price > 0"},
	})
	plan, err := Generate(tbl)
	require.NoError(t, err)
	assert.Contains(t, plan.CreateTable, "CHECK (price > 0)")
}

func TestGenerateRejectsBadIdentifier(t *testing.T) {
	tbl := coldef.NewTable("bad-name", productSchema(), nil)
	_, err := Generate(tbl)
	assert.Error(t, err)
}
