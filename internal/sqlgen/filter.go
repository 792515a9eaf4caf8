package sqlgen

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/query"
)

// compileNodes joins the compiled form of each node in nodes with kind's
// boolean operator, parenthesizing each multi-term child so precedence
// never depends on SQLite's default (AND binds tighter than OR).
func compileNodes(sc *scope, nodes []query.Node, kind query.GroupKind) (string, []any, error) {
	if len(nodes) == 0 {
		return "1", nil, nil
	}
	joiner := " AND "
	if kind == query.GroupOr {
		joiner = " OR "
	}

	var parts []string
	var args []any
	for _, n := range nodes {
		part, nodeArgs, err := compileNode(sc, n)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, part)
		args = append(args, nodeArgs...)
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	return "(" + strings.Join(parts, joiner) + ")", args, nil
}

func compileNode(sc *scope, n query.Node) (string, []any, error) {
	switch v := n.(type) {
	case *query.Filter:
		return compileFilter(sc, v)
	case *query.Group:
		return compileNodes(sc, v.Children, v.Kind)
	case *query.Subquery:
		return compileSubquery(sc, v)
	default:
		return "", nil, fmt.Errorf("sqlgen: unknown query node %T", n)
	}
}

func compileFilter(sc *scope, f *query.Filter) (string, []any, error) {
	if f.Op == query.OpVectorMatch {
		return compileVectorMatchFilter(sc, f)
	}

	expr, err := sc.qualify(f.Field)
	if err != nil {
		return "", nil, err
	}

	switch f.Op {
	case query.OpEq:
		return expr + " = ?", []any{f.Value}, nil
	case query.OpNeq:
		return expr + " != ?", []any{f.Value}, nil
	case query.OpGt:
		return expr + " > ?", []any{f.Value}, nil
	case query.OpGte:
		return expr + " >= ?", []any{f.Value}, nil
	case query.OpLt:
		return expr + " < ?", []any{f.Value}, nil
	case query.OpLte:
		return expr + " <= ?", []any{f.Value}, nil
	case query.OpLike:
		return expr + " LIKE ?", []any{f.Value}, nil
	case query.OpILike:
		return "LOWER(" + expr + ") LIKE LOWER(?)", []any{f.Value}, nil
	case query.OpStartsWith:
		return expr + " LIKE ? ESCAPE '\\'", []any{escapeLike(fmt.Sprint(f.Value)) + "%"}, nil
	case query.OpEndsWith:
		return expr + " LIKE ? ESCAPE '\\'", []any{"%" + escapeLike(fmt.Sprint(f.Value))}, nil
	case query.OpContains:
		return expr + " LIKE ? ESCAPE '\\'", []any{"%" + escapeLike(fmt.Sprint(f.Value)) + "%"}, nil
	case query.OpExists:
		want, _ := f.Value.(bool)
		if want {
			return expr + " IS NOT NULL", nil, nil
		}
		return expr + " IS NULL", nil, nil
	case query.OpBetween:
		return expr + " BETWEEN ? AND ?", []any{f.Value, f.Value2}, nil
	case query.OpIn, query.OpNin:
		vals, err := toSlice(f.Value)
		if err != nil {
			return "", nil, err
		}
		if len(vals) == 0 {
			// An empty IN list is never satisfied; NOT IN over an empty
			// list is always satisfied. Encode both without binding an
			// empty placeholder list, which SQLite rejects.
			if f.Op == query.OpIn {
				return "0", nil, nil
			}
			return "1", nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		op := "IN"
		if f.Op == query.OpNin {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", expr, op, placeholders), vals, nil
	case query.OpJSONArrayContains:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", expr), []any{f.Value}, nil
	case query.OpJSONArrayNotContain:
		return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", expr), []any{f.Value}, nil
	default:
		return "", nil, fmt.Errorf("sqlgen: unsupported operator %q", f.Op)
	}
}

func compileVectorMatchFilter(sc *scope, f *query.Filter) (string, []any, error) {
	def, ok := sc.base.FieldByPath(f.Field)
	if !ok {
		return "", nil, fmt.Errorf("sqlgen: %q is not a vector field on %q", f.Field, sc.base.Name)
	}
	vecTable := sc.base.VecTableName(def)
	col := field.ColumnNameOf(def.Path)

	k := 10
	if kv, ok := f.Value2.(int); ok && kv > 0 {
		k = kv
	}
	vec, err := toFloat32Slice(f.Value)
	if err != nil {
		return "", nil, err
	}
	packed, err := serializeVector(vec)
	if err != nil {
		return "", nil, fmt.Errorf("sqlgen: serialize query vector: %w", err)
	}
	return fmt.Sprintf(
		"%s.rowid IN (SELECT rowid FROM %s WHERE %s MATCH ? AND k = ?)",
		sc.baseAls, vecTable, col,
	), []any{packed, k}, nil
}

func compileSubquery(sc *scope, s *query.Subquery) (string, []any, error) {
	if sc.resolver == nil {
		return "", nil, fmt.Errorf("sqlgen: subquery against %q requires a table resolver", s.Collection)
	}
	inner, err := sc.resolver.Resolve(s.Collection)
	if err != nil {
		return "", nil, fmt.Errorf("sqlgen: resolve subquery collection %q: %w", s.Collection, err)
	}
	innerScope := newScope(sc.resolver, inner)

	localExpr, err := sc.qualify(s.LocalField)
	if err != nil {
		return "", nil, err
	}
	foreignExpr, err := innerScope.qualify(s.ForeignField)
	if err != nil {
		return "", nil, err
	}

	var innerWhere string
	var args []any
	if s.Inner != nil && len(s.Inner.Filters) > 0 {
		where, innerArgs, err := compileNodes(innerScope, s.Inner.Filters, query.GroupAnd)
		if err != nil {
			return "", nil, err
		}
		innerWhere = " AND " + where
		args = innerArgs
	}

	sub := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s%s", inner.Name, foreignExpr, localExpr, innerWhere)

	switch s.Op {
	case query.SubExists, query.SubIn:
		return "EXISTS (" + sub + ")", args, nil
	case query.SubNotExists, query.SubNotIn:
		return "NOT EXISTS (" + sub + ")", args, nil
	default:
		return "", nil, fmt.Errorf("sqlgen: unsupported subquery op %q", s.Op)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

func toSlice(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if vv, ok := v.([]any); ok {
		return vv, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("sqlgen: expected a slice value for IN/NIN, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
