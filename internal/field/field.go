// Package field implements the constrained-field model: mapping schema
// paths to synthesized column names and the SQLite storage type each is
// generated as. Reads and writes both go through the doc JSON column
// (see collection.decode/encode), so this package only needs to name and
// type columns, not convert values to and from them.
package field

import (
	"github.com/doclite/doclite/internal/ident"
	"github.com/doclite/doclite/internal/schema"
)

// SQLiteType is the physical column type a constrained field is
// synthesized into.
type SQLiteType string

const (
	TEXT    SQLiteType = "TEXT"
	INTEGER SQLiteType = "INTEGER"
	REAL    SQLiteType = "REAL"
	BLOB    SQLiteType = "BLOB"
	VECTOR  SQLiteType = "VECTOR"
)

// ForeignKey describes a REFERENCES target for a constrained field.
type ForeignKey struct {
	Table    string
	Column   string
	OnDelete string // "", CASCADE, SET NULL, RESTRICT, NO ACTION
	OnUpdate string
}

// Definition is a single constrained-field specification, keyed by its
// schema field path elsewhere (see Collection's Fields map).
type Definition struct {
	Path              string
	Type              SQLiteType // explicit; empty means infer from schema
	Nullable          bool
	Unique            bool
	ForeignKey        *ForeignKey
	CheckConstraint   string
	VectorDimensions  int
	VectorElementType string // "float32" (only supported element type today)
	Index             bool
	// IndexWhere, if non-empty, makes Index/Unique emit a partial index
	// with this WHERE clause instead of an inline column constraint.
	// Must pass ident.ValidatePartialIndexWhere.
	IndexWhere string
}

// ColumnNameOf converts a dotted field path to its synthesized column
// name ('.' -> '_'). Caller must have already validated path.
func ColumnNameOf(path string) string {
	return ident.ColumnName(path)
}

// SQLiteTypeOf resolves the physical storage type for a field: an
// explicit Definition.Type always wins; otherwise it is inferred from the
// schema type at that field's path.
func SQLiteTypeOf(t *schema.Type, def Definition) SQLiteType {
	if def.Type != "" {
		return def.Type
	}
	u := schema.Unwrap(t)
	if u == nil {
		return TEXT
	}
	switch u.Kind {
	case schema.KindString:
		return TEXT
	case schema.KindNumber:
		return REAL
	case schema.KindBool:
		return INTEGER
	case schema.KindDate:
		return TEXT
	case schema.KindArray:
		elem := schema.Unwrap(u.Element)
		if elem != nil && elem.Kind == schema.KindNumber {
			return VECTOR
		}
		return TEXT
	case schema.KindObject:
		return TEXT
	default:
		return TEXT
	}
}

