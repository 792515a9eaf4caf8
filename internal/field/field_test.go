package field

import (
	"testing"

	"github.com/doclite/doclite/internal/schema"
	"github.com/stretchr/testify/assert"
)

func TestSQLiteTypeOfInference(t *testing.T) {
	assert.Equal(t, TEXT, SQLiteTypeOf(schema.String(), Definition{}))
	assert.Equal(t, REAL, SQLiteTypeOf(schema.Number(), Definition{}))
	assert.Equal(t, INTEGER, SQLiteTypeOf(schema.Bool(), Definition{}))
	assert.Equal(t, TEXT, SQLiteTypeOf(schema.Date(), Definition{}))
	assert.Equal(t, VECTOR, SQLiteTypeOf(schema.Array(schema.Number()), Definition{}))
	assert.Equal(t, TEXT, SQLiteTypeOf(schema.Array(schema.String()), Definition{}))
}

func TestSQLiteTypeOfExplicitWins(t *testing.T) {
	assert.Equal(t, BLOB, SQLiteTypeOf(schema.String(), Definition{Type: BLOB}))
}
