// Package sqlgen translates the query intermediate representation
// (package query) into parameterized SQLite text: SELECT statements for
// reads, and INSERT/UPDATE/DELETE statements — including the fused
// json_set/json_insert/json_remove expressions that implement atomic
// field-level update operators — for writes.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/doclite/doclite/internal/coldef"
	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/query"
)

// Compiled is a parameterized SQL statement ready for (*sql.DB).Query or
// .Exec with Args passed as the variadic parameter list.
type Compiled struct {
	SQL  string
	Args []any
}

// Resolver looks up a collection's physical table shape by name, used to
// translate joined and subqueried collections' field references.
type Resolver interface {
	Resolve(collection string) (*coldef.Table, error)
}

// scope tracks alias -> table bindings visible while compiling one query
// (the base table plus any joins), so a Filter field path can be
// resolved to the right column or json_extract expression.
type scope struct {
	base       *coldef.Table
	baseAls    string
	aliases    map[string]*coldef.Table
	resolver   Resolver
	aggAliases map[string]bool // SELECT-list aggregate aliases, for HAVING
}

func newScope(r Resolver, base *coldef.Table) *scope {
	return &scope{base: base, baseAls: base.Name, aliases: map[string]*coldef.Table{base.Name: base}, resolver: r}
}

func (s *scope) add(alias string, t *coldef.Table) { s.aliases[alias] = t }

// qualify resolves a (possibly "alias.path"-qualified) field reference
// into a SQL expression string: the synthesized column if the field is
// constrained, else a json_extract against that alias's doc column.
func (s *scope) qualify(ref string) (string, error) {
	if s.aggAliases[ref] {
		// SQLite's HAVING clause (unlike WHERE) can reference a SELECT
		// list alias directly, so an aggregate's own output name is
		// passed through bare rather than treated as a document path.
		return ref, nil
	}
	alias, path := s.baseAls, ref
	if i := strings.Index(ref, "."); i >= 0 {
		if t, ok := s.aliases[ref[:i]]; ok {
			alias, path, t = ref[:i], ref[i+1:], t
			_ = t
		}
	}
	t, ok := s.aliases[alias]
	if !ok {
		return "", fmt.Errorf("sqlgen: unknown table alias %q in field %q", alias, ref)
	}
	if path == "_id" || path == "_version" {
		// Every table carries these as real columns outside the schema's
		// Fields map, not inside doc, so they're never json_extract'd.
		return alias + "." + path, nil
	}
	if def, ok := t.FieldByPath(path); ok {
		return alias + "." + field.ColumnNameOf(def.Path), nil
	}
	return fmt.Sprintf("json_extract(%s.doc, '$.%s')", alias, path), nil
}

// CompileSelect builds a full SELECT statement for opts against base,
// joining in any collections named in opts.Joins (resolved through r).
func CompileSelect(r Resolver, base *coldef.Table, opts *query.Options) (*Compiled, error) {
	sc := newScope(r, base)
	if len(opts.Aggregates) > 0 {
		sc.aggAliases = make(map[string]bool, len(opts.Aggregates))
		for _, a := range opts.Aggregates {
			alias := a.Alias
			if alias == "" {
				alias = strings.ToLower(string(a.Fn))
			}
			sc.aggAliases[alias] = true
		}
	}

	var joinSQL []string
	for _, j := range opts.Joins {
		jt, err := r.Resolve(j.Collection)
		if err != nil {
			return nil, fmt.Errorf("sqlgen: resolve join collection %q: %w", j.Collection, err)
		}
		alias := j.Alias
		if alias == "" {
			alias = j.Collection
		}
		sc.add(alias, jt)

		leftExpr, err := sc.qualify(j.On.Left)
		if err != nil {
			return nil, err
		}
		rightExpr, err := sc.qualify(j.On.Right)
		if err != nil {
			return nil, err
		}
		op := j.On.Op
		if op == "" {
			op = "="
		}
		kind := j.Kind
		if kind == "" {
			kind = query.JoinInner
		}
		aliasClause := j.Collection
		if alias != j.Collection {
			aliasClause = fmt.Sprintf("%s AS %s", j.Collection, alias)
		}
		joinSQL = append(joinSQL, fmt.Sprintf("%s JOIN %s ON %s %s %s", kind, aliasClause, leftExpr, op, rightExpr))
	}

	selectSQL, err := buildSelectList(sc, opts)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	var args []any

	b.WriteString("SELECT ")
	if opts.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(selectSQL)
	b.WriteString(" FROM ")
	b.WriteString(base.Name)
	for _, j := range joinSQL {
		b.WriteString(" ")
		b.WriteString(j)
	}

	if len(opts.Filters) > 0 {
		whereSQL, whereArgs, err := compileNodes(sc, opts.Filters, query.GroupAnd)
		if err != nil {
			return nil, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(whereSQL)
		args = append(args, whereArgs...)
	}

	if len(opts.GroupBy) > 0 {
		groupExprs := make([]string, 0, len(opts.GroupBy))
		for _, g := range opts.GroupBy {
			expr, err := sc.qualify(g)
			if err != nil {
				return nil, err
			}
			groupExprs = append(groupExprs, expr)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupExprs, ", "))
	}

	if len(opts.Having) > 0 {
		havingSQL, havingArgs, err := compileNodes(sc, opts.Having, query.GroupAnd)
		if err != nil {
			return nil, err
		}
		b.WriteString(" HAVING ")
		b.WriteString(havingSQL)
		args = append(args, havingArgs...)
	}

	if len(opts.OrderBy) > 0 {
		terms := make([]string, 0, len(opts.OrderBy))
		for _, o := range opts.OrderBy {
			expr, err := sc.qualify(o.Field)
			if err != nil {
				return nil, err
			}
			if o.Desc {
				expr += " DESC"
			}
			terms = append(terms, expr)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	if opts.HasLimit {
		b.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, opts.Offset)
	}

	return &Compiled{SQL: b.String(), Args: args}, nil
}

func buildSelectList(sc *scope, opts *query.Options) (string, error) {
	if len(opts.Aggregates) > 0 {
		parts := make([]string, 0, len(opts.Aggregates))
		for _, a := range opts.Aggregates {
			var argExpr string
			switch {
			case a.Fn == query.AggCount && (a.Field == "" || a.Field == "*"):
				argExpr = "*"
			default:
				expr, err := sc.qualify(a.Field)
				if err != nil {
					return "", err
				}
				argExpr = expr
			}
			distinct := ""
			if a.Distinct {
				distinct = "DISTINCT "
			}
			alias := a.Alias
			if alias == "" {
				alias = strings.ToLower(string(a.Fn))
			}
			parts = append(parts, fmt.Sprintf("%s(%s%s) AS %s", a.Fn, distinct, argExpr, alias))
		}
		for _, g := range opts.GroupBy {
			expr, err := sc.qualify(g)
			if err != nil {
				return "", err
			}
			parts = append(parts, expr)
		}
		return strings.Join(parts, ", "), nil
	}

	if len(opts.SelectFields) > 0 {
		parts := make([]string, 0, len(opts.SelectFields))
		for _, f := range opts.SelectFields {
			expr, err := sc.qualify(f)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s AS %s", expr, field.ColumnNameOf(f)))
		}
		return strings.Join(parts, ", "), nil
	}

	return fmt.Sprintf("%s._id, %s.doc, %s._version", sc.baseAls, sc.baseAls, sc.baseAls), nil
}
