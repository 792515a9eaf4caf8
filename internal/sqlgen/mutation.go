package sqlgen

import (
	"fmt"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/jsonval"
	"github.com/doclite/doclite/internal/query"
)

// CompileInsert builds an unconditional new-row insert. The document's
// constrained columns are populated automatically by their generated
// column expressions; only _id, doc, and the starting _version are ever
// written directly.
func CompileInsert(table *coldef.Table, id, docJSON string) *Compiled {
	sql := fmt.Sprintf("INSERT INTO %s (_id, doc, _version) VALUES (?, ?, 1)", table.Name)
	return &Compiled{SQL: sql, Args: []any{id, docJSON}}
}

// CompilePut builds a whole-document replace guarded by an expected
// version (optimistic concurrency, invariant I1). A result with zero
// rows affected is ambiguous between "not found" and "version mismatch"
// — the caller resolves that with a follow-up findById inside the same
// transaction.
func CompilePut(table *coldef.Table, id, docJSON string, expectedVersion int64) *Compiled {
	sql := fmt.Sprintf("UPDATE %s SET doc = ?, _version = _version + 1 WHERE _id = ? AND _version = ?", table.Name)
	return &Compiled{SQL: sql, Args: []any{docJSON, id, expectedVersion}}
}

// CompileUpsert builds an INSERT ... ON CONFLICT(_id) DO UPDATE that
// replaces the whole document regardless of its current version.
func CompileUpsert(table *coldef.Table, id, docJSON string) *Compiled {
	sql := fmt.Sprintf(
		"INSERT INTO %s (_id, doc, _version) VALUES (?, ?, 1) ON CONFLICT(_id) DO UPDATE SET doc = excluded.doc, _version = _version + 1",
		table.Name,
	)
	return &Compiled{SQL: sql, Args: []any{id, docJSON}}
}

// CompileDelete builds a single-row delete by id.
func CompileDelete(table *coldef.Table, id string) *Compiled {
	return &Compiled{SQL: fmt.Sprintf("DELETE FROM %s WHERE _id = ?", table.Name), Args: []any{id}}
}

// CompileDeleteBulk builds a multi-row delete by id list.
func CompileDeleteBulk(table *coldef.Table, ids []string) *Compiled {
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	return &Compiled{SQL: fmt.Sprintf("DELETE FROM %s WHERE _id IN (%s)", table.Name, placeholders), Args: args}
}

// CompileAtomicUpdate builds an in-place document mutation that fuses
// every operator in ops into a single nested json_set/json_insert/
// json_remove expression, so the whole operator list applies as one
// statement without reading the document back first. expectedVersion <=
// 0 skips the optimistic-concurrency guard.
func CompileAtomicUpdate(table *coldef.Table, id string, expectedVersion int64, ops []query.UpdateOp) (*Compiled, error) {
	expr := "doc"
	var args []any

	for _, op := range ops {
		path := "$." + op.Field
		switch op.Kind {
		case query.UpdateSet:
			ph, arg, err := valuePlaceholder(op.Value)
			if err != nil {
				return nil, err
			}
			expr = fmt.Sprintf("json_set(%s, '%s', %s)", expr, path, ph)
			args = append(args, arg)
		case query.UpdateUnset:
			expr = fmt.Sprintf("json_remove(%s, '%s')", expr, path)
		case query.UpdateInc:
			delta, ok := toFloat64(op.Value)
			if !ok {
				return nil, fmt.Errorf("sqlgen: $inc on %q requires a numeric delta, got %T", op.Field, op.Value)
			}
			// Reads the pre-image doc column, not the expr accumulated so
			// far: operators in one call apply simultaneously against the
			// row's starting document, matching multi-field update
			// semantics, and avoids re-embedding expr's own placeholders
			// (which would desynchronize the SQL text from args).
			expr = fmt.Sprintf("json_set(%s, '%s', COALESCE(json_extract(doc, '%s'), 0) + ?)", expr, path, path)
			args = append(args, delta)
		case query.UpdatePush:
			ph, arg, err := valuePlaceholder(op.Value)
			if err != nil {
				return nil, err
			}
			expr = fmt.Sprintf("json_insert(%s, '%s[#]', %s)", expr, path, ph)
			args = append(args, arg)
		case query.UpdatePull:
			ph, arg, err := valuePlaceholder(op.Value)
			if err != nil {
				return nil, err
			}
			filtered := fmt.Sprintf("(SELECT COALESCE(json_group_array(je.value), json_array()) FROM json_each(doc, '%s') je WHERE je.value != %s)", path, ph)
			args = append(args, arg)
			expr = fmt.Sprintf("json_set(%s, '%s', %s)", expr, path, filtered)
		default:
			return nil, fmt.Errorf("sqlgen: unsupported update operator %q", op.Kind)
		}
	}

	sql := fmt.Sprintf("UPDATE %s SET doc = %s, _version = _version + 1 WHERE _id = ?", table.Name, expr)
	args = append(args, id)
	if expectedVersion > 0 {
		sql += " AND _version = ?"
		args = append(args, expectedVersion)
	}
	return &Compiled{SQL: sql, Args: args}, nil
}

// valuePlaceholder returns the SQL placeholder text and bound argument
// for a document value being written through json_set/json_insert.
// Scalars bind directly (SQLite's json1 functions treat a bound TEXT/
// INTEGER/REAL/NULL argument as that JSON scalar); composite values
// (maps, slices) must be pre-encoded and wrapped in json(?), or json1
// would store them as a quoted string instead of a subdocument.
func valuePlaceholder(v any) (string, any, error) {
	switch v.(type) {
	case nil, bool, string, float64, float32, int, int64:
		return "?", v, nil
	default:
		data, err := jsonval.Encode(v)
		if err != nil {
			return "", nil, fmt.Errorf("sqlgen: encode update value: %w", err)
		}
		return "json(?)", string(data), nil
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
