// Package ddl generates the SQL DDL for a collection's physical table:
// the CREATE TABLE statement, vec0 virtual tables for VECTOR fields,
// indexes, and the triggers that keep a vec0 table's shadow rows in
// sync with their owning row. Constrained scalar/text columns are
// GENERATED ALWAYS AS (json_extract(doc, ...)) STORED columns, so the
// document body is always the single source of truth and coherence
// (invariant I3) holds by construction rather than by a sync trigger.
package ddl

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/ident"
)

// Plan is the ordered set of statements that materialize a collection's
// table. CreateTable must run first; Auxiliary statements may run in the
// given order (vec0 tables, then indexes, then triggers).
type Plan struct {
	CreateTable string
	Auxiliary   []string
}

// Generate builds the full DDL plan for t. Returns an error if any
// identifier or partial-index WHERE clause fails validation — DDL
// generation never silently drops a constraint.
func Generate(t *coldef.Table) (*Plan, error) {
	if err := ident.ValidateCollectionName(t.Name); err != nil {
		return nil, err
	}

	colDefs := []string{
		"_id TEXT PRIMARY KEY",
		"doc TEXT NOT NULL",
		"_version INTEGER DEFAULT 1",
	}

	var vecTables, indexes []string

	for _, f := range t.Fields {
		colName := field.ColumnNameOf(f.Path)
		def, err := ColumnDefinition(t, f)
		if err != nil {
			return nil, err
		}
		colDefs = append(colDefs, def)

		sqlType := t.ResolvedTypeOrDefinition(f)
		if f.Index || (f.Unique && f.IndexWhere != "") {
			if err := ident.ValidatePartialIndexWhere(f.IndexWhere); err != nil {
				return nil, err
			}
			indexes = append(indexes, buildIndexStatement(t.Name, colName, f))
		}

		if sqlType == field.VECTOR {
			vecTables = append(vecTables, buildVecTableStatement(t, f))
		}
	}

	createTable := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(colDefs, ",\n\t"))

	auxiliary := append(vecTables, indexes...)

	if trig := buildVecSyncTriggers(t); len(trig) > 0 {
		auxiliary = append(auxiliary, trig...)
	}

	return &Plan{CreateTable: createTable, Auxiliary: auxiliary}, nil
}

// ColumnDefinition returns the column-definition fragment for a single
// constrained field — its GENERATED ALWAYS AS expression plus any
// NOT NULL/UNIQUE/REFERENCES/CHECK clauses. Generate assembles these into
// CREATE TABLE; a migration reuses the same fragment standalone to emit
// an additive ALTER TABLE ADD COLUMN for a newly constrained field.
func ColumnDefinition(t *coldef.Table, f field.Definition) (string, error) {
	if err := ident.ValidateFieldPath(f.Path); err != nil {
		return "", err
	}
	colName := field.ColumnNameOf(f.Path)
	if err := ident.ValidateIdentifier(colName, ident.KindGeneric); err != nil {
		return "", err
	}

	sqlType := t.ResolvedTypeOrDefinition(f)
	physicalType := physicalColumnType(sqlType)

	def := fmt.Sprintf("%s %s GENERATED ALWAYS AS (%s) STORED", colName, physicalType, jsonExtractExpr(f.Path, physicalType))
	if !f.Nullable {
		def += " NOT NULL"
	}
	if f.Unique && f.IndexWhere == "" {
		def += " UNIQUE"
	}
	if f.ForeignKey != nil {
		if err := ident.ValidateIdentifier(f.ForeignKey.Table, ident.KindCollection); err != nil {
			return "", err
		}
		if err := ident.ValidateIdentifier(f.ForeignKey.Column, ident.KindGeneric); err != nil {
			return "", err
		}
		def += fmt.Sprintf(" REFERENCES %s(%s)", f.ForeignKey.Table, f.ForeignKey.Column)
		if f.ForeignKey.OnDelete != "" {
			def += " ON DELETE " + f.ForeignKey.OnDelete
		}
		if f.ForeignKey.OnUpdate != "" {
			def += " ON UPDATE " + f.ForeignKey.OnUpdate
		}
	}
	if f.CheckConstraint != "" {
		substituted, err := substituteFieldNames(f.CheckConstraint, t)
		if err != nil {
			return "", err
		}
		def += fmt.Sprintf(" CHECK (%s)", substituted)
	}
	return def, nil
}

// AlterAddColumn returns the ALTER TABLE statement that additively grafts
// f onto an existing physical table as a new constrained column. SQLite
// refuses ADD COLUMN for a STORED generated column, so the added column
// is declared VIRTUAL: same expression, computed on read.
func AlterAddColumn(t *coldef.Table, f field.Definition) (string, error) {
	def, err := ColumnDefinition(t, f)
	if err != nil {
		return "", err
	}
	def = strings.Replace(def, ") STORED", ") VIRTUAL", 1)
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", t.Name, def), nil
}

// IndexName returns the deterministic index name generated for a field's
// column, the same name buildIndexStatement uses.
func IndexName(table, col string) string {
	return fmt.Sprintf("idx_%s_%s", table, col)
}

// DropFieldStatements returns the statements needed to remove a field's
// auxiliary objects (index, vec0 sync triggers, vec0 table) when it's
// dropped from a collection's target shape by a migration. SQLite cannot
// drop a single column from a table with other GENERATED ALWAYS columns
// on the SQLite versions this module targets, so the generated column
// itself is left in place — only its index/vector plumbing is torn down.
func DropFieldStatements(t *coldef.Table, f field.Definition) []string {
	colName := field.ColumnNameOf(f.Path)
	var out []string
	if f.Index || (f.Unique && f.IndexWhere != "") {
		out = append(out, fmt.Sprintf("DROP INDEX IF EXISTS %s", IndexName(t.Name, colName)))
	}
	if f.VectorDimensions > 0 {
		out = append(out,
			fmt.Sprintf("DROP TRIGGER IF EXISTS trg_%s_%s_vec_insert", t.Name, colName),
			fmt.Sprintf("DROP TRIGGER IF EXISTS trg_%s_%s_vec_update", t.Name, colName),
			fmt.Sprintf("DROP TRIGGER IF EXISTS trg_%s_%s_vec_update_clear", t.Name, colName),
			fmt.Sprintf("DROP TRIGGER IF EXISTS trg_%s_%s_vec_delete", t.Name, colName),
			fmt.Sprintf("DROP TABLE IF EXISTS %s", t.VecTableName(f)),
		)
	}
	return out
}

// physicalColumnType maps a field's logical SQLite type to the type used
// in its generated-column declaration. VECTOR and BLOB both mirror the
// document's JSON representation as TEXT: a vector's authoritative home
// is its paired vec0 virtual table, and a BLOB's document representation
// is a base64 string (JSON has no binary literal), so TEXT is the only
// type json_extract can ever produce for either.
func physicalColumnType(t field.SQLiteType) field.SQLiteType {
	if t == field.VECTOR || t == field.BLOB {
		return field.TEXT
	}
	return t
}

// jsonExtractExpr is the GENERATED ALWAYS AS expression for a field's
// column: numeric types are extracted and cast so a document field typed
// loosely (e.g. a whole number stored without a decimal point) always
// lands in the declared column affinity.
func jsonExtractExpr(path string, physicalType field.SQLiteType) string {
	extract := fmt.Sprintf("json_extract(doc, '$.%s')", path)
	switch physicalType {
	case field.INTEGER:
		return fmt.Sprintf("CAST(%s AS INTEGER)", extract)
	case field.REAL:
		return fmt.Sprintf("CAST(%s AS REAL)", extract)
	default:
		return extract
	}
}

func buildIndexStatement(table, col string, f field.Definition) string {
	indexName := IndexName(table, col)
	unique := ""
	if f.Unique {
		unique = "UNIQUE "
	}
	stmt := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)", unique, indexName, table, col)
	if f.IndexWhere != "" {
		stmt += " WHERE " + f.IndexWhere
	}
	return stmt
}

func buildVecTableStatement(t *coldef.Table, f field.Definition) string {
	vecTable := t.VecTableName(f)
	dims := f.VectorDimensions
	vecType := "float"
	if f.VectorElementType != "" && f.VectorElementType != "float32" {
		vecType = f.VectorElementType
	}
	return fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(\n\trowid INTEGER PRIMARY KEY,\n\t%s %s[%d]\n)",
		vecTable, field.ColumnNameOf(f.Path), vecType, dims)
}

// buildVecSyncTriggers emits, for every VECTOR field, an AFTER INSERT and
// a pair of AFTER UPDATE OF triggers that mirror the field's generated
// column into its paired vec0 shadow table. The generated column already
// tracks doc automatically; these triggers only need to propagate that
// column into vec0, which cannot itself be a generated-column target.
// The update side is split in two rather than written as one
// INSERT-OR-REPLACE-always trigger: an ordinary write that clears the
// vector field (an $unset, or a Put that overwrites it to null) must
// delete the shadow row rather than upsert a NULL into it, or the vec0
// table would keep serving stale matches for a document that no longer
// has an embedding.
func buildVecSyncTriggers(t *coldef.Table) []string {
	var out []string
	for _, f := range t.VectorFields() {
		colName := field.ColumnNameOf(f.Path)
		vecTable := t.VecTableName(f)

		insertTrigger := fmt.Sprintf(
			"CREATE TRIGGER IF NOT EXISTS trg_%s_%s_vec_insert AFTER INSERT ON %s WHEN NEW.%s IS NOT NULL BEGIN\n\tINSERT OR REPLACE INTO %s(rowid, %s) VALUES (NEW.rowid, NEW.%s);\nEND",
			t.Name, colName, t.Name, colName, vecTable, colName, colName,
		)
		updateUpsertTrigger := fmt.Sprintf(
			"CREATE TRIGGER IF NOT EXISTS trg_%s_%s_vec_update AFTER UPDATE OF doc ON %s WHEN NEW.%s IS NOT NULL BEGIN\n\tINSERT OR REPLACE INTO %s(rowid, %s) VALUES (NEW.rowid, NEW.%s);\nEND",
			t.Name, colName, t.Name, colName, vecTable, colName, colName,
		)
		updateClearTrigger := fmt.Sprintf(
			"CREATE TRIGGER IF NOT EXISTS trg_%s_%s_vec_update_clear AFTER UPDATE OF doc ON %s WHEN NEW.%s IS NULL AND OLD.%s IS NOT NULL BEGIN\n\tDELETE FROM %s WHERE rowid = NEW.rowid;\nEND",
			t.Name, colName, t.Name, colName, colName, vecTable,
		)
		deleteTrigger := fmt.Sprintf(
			"CREATE TRIGGER IF NOT EXISTS trg_%s_%s_vec_delete AFTER DELETE ON %s BEGIN\n\tDELETE FROM %s WHERE rowid = OLD.rowid;\nEND",
			t.Name, colName, t.Name, vecTable,
		)
		out = append(out, insertTrigger, updateUpsertTrigger, updateClearTrigger, deleteTrigger)
	}
	return out
}

var identifierWordRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.]*`)

// substituteFieldNames rewrites bare field-path references in a check
// constraint expression into their synthesized column names, e.g. "price
// > 0" with a constrained field "price" needs no rewrite, but
// "address.zip != ''" must become "address_zip != ''". Longer paths are
// substituted first so "address.zip" isn't partially matched by a
// shorter "address" field also present on the table.
func substituteFieldNames(expr string, t *coldef.Table) (string, error) {
	fields := make([]field.Definition, len(t.Fields))
	copy(fields, t.Fields)
	sort.Slice(fields, func(i, j int) bool { return len(fields[i].Path) > len(fields[j].Path) })

	result := identifierWordRe.ReplaceAllStringFunc(expr, func(tok string) string {
		for _, f := range fields {
			if tok == f.Path {
				return field.ColumnNameOf(f.Path)
			}
		}
		return tok
	})
	if strings.ContainsAny(result, ";") || strings.Contains(result, "--") || strings.Contains(result, "/*") {
		return "", fmt.Errorf("ddl: check constraint contains a forbidden sequence: %q", expr)
	}
	return result, nil
}
