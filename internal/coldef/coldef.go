// Package coldef holds the shared collection-shape descriptor consumed by
// the table generator, SQL translator, migration runner, and collection
// engine, so those packages don't need to import each other or the
// public facade to agree on what a "collection" looks like.
package coldef

import (
	"sort"

	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/schema"
)

// Table is the resolved physical shape of one collection: its table name,
// its document schema, and its constrained fields in a stable order.
type Table struct {
	Name   string
	Schema *schema.Type
	Fields []field.Definition // ordered by Path, ascending
}

// NewTable builds a Table from a schema and a field-path -> Definition
// map, normalizing field order so that everything downstream (DDL text,
// trigger bodies, translated SQL) is deterministic for equal inputs
// (spec.md §8: "query plan determinism").
func NewTable(name string, sch *schema.Type, fields map[string]field.Definition) *Table {
	ordered := make([]field.Definition, 0, len(fields))
	for path, def := range fields {
		def.Path = path
		ordered = append(ordered, def)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })
	return &Table{Name: name, Schema: sch, Fields: ordered}
}

// FieldByPath returns the Definition for path and whether it exists.
func (t *Table) FieldByPath(path string) (field.Definition, bool) {
	for _, f := range t.Fields {
		if f.Path == path {
			return f, true
		}
	}
	return field.Definition{}, false
}

// VectorFields returns only the fields with SQLite type VECTOR.
func (t *Table) VectorFields() []field.Definition {
	var out []field.Definition
	for _, f := range t.Fields {
		if t.ResolvedTypeOrDefinition(f) == field.VECTOR {
			out = append(out, f)
		}
	}
	return out
}

// ResolvedType returns the schema type for a field path on this table,
// falling back to schema.String() if resolution fails (callers that care
// about the error should call schema.Resolve directly).
func (t *Table) ResolvedType(path string) *schema.Type {
	ty, err := schema.Resolve(t.Schema, path)
	if err != nil {
		return schema.String()
	}
	return ty
}

// ResolvedTypeOrDefinition returns the SQLite storage type for f: f.Type
// if explicit, else inferred from the schema type at f.Path.
func (t *Table) ResolvedTypeOrDefinition(f field.Definition) field.SQLiteType {
	return field.SQLiteTypeOf(t.ResolvedType(f.Path), f)
}

// VecTableName returns the vec0 virtual table name for a VECTOR field.
func (t *Table) VecTableName(f field.Definition) string {
	return t.Name + "_" + field.ColumnNameOf(f.Path) + "_vec"
}
