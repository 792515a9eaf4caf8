package sqlgen

import (
	"fmt"
	"reflect"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/ident"
	"github.com/doclite/doclite/internal/query"
)

// CompileVectorSearch builds a ranked nearest-neighbor query against one
// of table's VECTOR fields, joining each vec0 match back to its owning
// row and optionally narrowing the candidate set with extra. The result
// set is ordered nearest-first and carries the match distance as the
// "_distance" column.
func CompileVectorSearch(r Resolver, table *coldef.Table, fieldPath string, queryVector []float32, k int, extra *query.Options) (*Compiled, error) {
	def, ok := table.FieldByPath(fieldPath)
	if !ok || def.VectorDimensions == 0 {
		return nil, fmt.Errorf("sqlgen: %q is not a vector field on %q", fieldPath, table.Name)
	}
	if k <= 0 {
		k = 10
	}
	vecTable := table.VecTableName(def)
	col := field.ColumnNameOf(def.Path)
	if err := ident.ValidateIdentifier(vecTable, ident.KindGeneric); err != nil {
		return nil, err
	}

	packed, err := serializeVector(queryVector)
	if err != nil {
		return nil, fmt.Errorf("sqlgen: serialize query vector: %w", err)
	}

	sql := fmt.Sprintf(
		"SELECT t._id, t.doc, t._version, v.distance AS _distance FROM %s AS v JOIN %s AS t ON t.rowid = v.rowid WHERE v.%s MATCH ? AND k = ?",
		vecTable, table.Name, col,
	)
	args := []any{packed, k}

	if extra != nil && len(extra.Filters) > 0 {
		sc := newScope(r, table)
		sc.baseAls = "t"
		sc.aliases = map[string]*coldef.Table{"t": table, table.Name: table}
		where, whereArgs, err := compileNodes(sc, extra.Filters, query.GroupAnd)
		if err != nil {
			return nil, err
		}
		sql += " AND " + where
		args = append(args, whereArgs...)
	}

	sql += " ORDER BY v.distance"

	return &Compiled{SQL: sql, Args: args}, nil
}

// toFloat32Slice normalizes a query vector value into []float32 whether
// it arrived as that concrete type already or as any other numeric
// slice (e.g. []float64 round-tripped through a decoded document).
func toFloat32Slice(v any) ([]float32, error) {
	if vv, ok := v.([]float32); ok {
		return vv, nil
	}
	rv := reflect.ValueOf(v)
	if v == nil || rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("sqlgen: expected a numeric slice for a vector value, got %T", v)
	}
	out := make([]float32, rv.Len())
	for i := range out {
		elem := rv.Index(i).Interface()
		switch n := elem.(type) {
		case float32:
			out[i] = n
		case float64:
			out[i] = float32(n)
		case int:
			out[i] = float32(n)
		case int64:
			out[i] = float32(n)
		default:
			return nil, fmt.Errorf("sqlgen: vector element %d has non-numeric type %T", i, elem)
		}
	}
	return out, nil
}

// serializeVector packs v into the f32 little-endian BLOB sqlite-vec's
// MATCH operator expects, via a per-dimension pool of reusable float32
// buffers (see vecbuf.go) rather than allocating a fresh one per call.
// The pooled buffer is zeroed and released only after the BLOB bytes
// have been copied out, so the emitted BLOB never aliases memory the
// pool might hand to another caller.
func serializeVector(v []float32) ([]byte, error) {
	dim := len(v)
	buf := acquireVectorBuffer(dim)
	copy(buf, v)

	raw, err := sqlite_vec.SerializeFloat32(buf)
	if err != nil {
		releaseVectorBuffer(dim, buf)
		return nil, err
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	releaseVectorBuffer(dim, buf)
	return out, nil
}
