package query

import (
	"fmt"
	"strings"

	"github.com/doclite/doclite/internal/schema"
)

// Builder assembles an Options value through chained, immutable calls:
// every method returns a new *Builder so a partially-built query can be
// safely shared and branched (e.g. a base filter reused across several
// specializations). Field paths are validated against the collection's
// schema as soon as they're referenced (a path prefixed with a joined
// collection's alias or name is left to the SQL translator); a Builder
// that has accumulated an error just carries it forward until Build()
// surfaces it.
type Builder struct {
	collection string
	schema     *schema.Type
	opts       Options
	err        error
}

// New starts a Builder for collection, whose documents conform to sch.
func New(collection string, sch *schema.Type) *Builder {
	return &Builder{collection: collection, schema: sch}
}

func (b *Builder) clone() *Builder {
	nb := &Builder{collection: b.collection, schema: b.schema, opts: b.opts.Clone(), err: b.err}
	return nb
}

func (b *Builder) fail(err error) *Builder {
	nb := b.clone()
	if nb.err == nil {
		nb.err = err
	}
	return nb
}

func (b *Builder) checkField(path string) error {
	if b.schema == nil {
		return nil
	}
	if i := strings.Index(path, "."); i > 0 {
		for _, j := range b.opts.Joins {
			if prefix := path[:i]; prefix == j.Alias || prefix == j.Collection {
				return nil
			}
		}
	}
	if !schema.HasField(b.schema, path) {
		return fmt.Errorf("query: field %q does not exist on collection %q", path, b.collection)
	}
	return nil
}

// Where adds a top-level AND'd filter.
func (b *Builder) Where(fieldPath string, op Op, value any) *Builder {
	if err := b.checkField(fieldPath); err != nil {
		return b.fail(err)
	}
	nb := b.clone()
	nb.opts.Filters = append(nb.opts.Filters, &Filter{Field: fieldPath, Op: op, Value: value})
	return nb
}

// WhereBetween adds a top-level AND'd BETWEEN filter.
func (b *Builder) WhereBetween(fieldPath string, lo, hi any) *Builder {
	if err := b.checkField(fieldPath); err != nil {
		return b.fail(err)
	}
	nb := b.clone()
	nb.opts.Filters = append(nb.opts.Filters, &Filter{Field: fieldPath, Op: OpBetween, Value: lo, Value2: hi})
	return nb
}

// WhereVector adds a vector similarity filter against fieldPath.
func (b *Builder) WhereVector(fieldPath string, distance string, queryVector any, k int) *Builder {
	if err := b.checkField(fieldPath); err != nil {
		return b.fail(err)
	}
	nb := b.clone()
	nb.opts.Filters = append(nb.opts.Filters, &Filter{
		Field: fieldPath, Op: OpVectorMatch, Value: queryVector, Value2: k, VectorDistance: distance,
	})
	return nb
}

// And groups nodes under a top-level AND.
func (b *Builder) And(nodes ...Node) *Builder {
	nb := b.clone()
	nb.opts.Filters = append(nb.opts.Filters, &Group{Kind: GroupAnd, Children: nodes})
	return nb
}

// Or groups nodes under a top-level OR.
func (b *Builder) Or(nodes ...Node) *Builder {
	nb := b.clone()
	nb.opts.Filters = append(nb.opts.Filters, &Group{Kind: GroupOr, Children: nodes})
	return nb
}

// F builds a leaf Filter node for use inside And/Or/Subquery without
// going through the field-existence check (used to compose nodes that
// reference a joined or inner-subquery collection's fields).
func F(fieldPath string, op Op, value any) *Filter {
	return &Filter{Field: fieldPath, Op: op, Value: value}
}

// WhereExists adds a correlated subquery filter requiring at least one
// matching row in collection, joined on localField = foreignField.
func (b *Builder) WhereExists(collection, localField, foreignField string, inner *Options) *Builder {
	nb := b.clone()
	nb.opts.Filters = append(nb.opts.Filters, &Subquery{
		Op: SubExists, Collection: collection, LocalField: localField, ForeignField: foreignField, Inner: inner,
	})
	return nb
}

// WhereNotExists is the negated form of WhereExists.
func (b *Builder) WhereNotExists(collection, localField, foreignField string, inner *Options) *Builder {
	nb := b.clone()
	nb.opts.Filters = append(nb.opts.Filters, &Subquery{
		Op: SubNotExists, Collection: collection, LocalField: localField, ForeignField: foreignField, Inner: inner,
	})
	return nb
}

// OrderBy appends an ORDER BY term.
func (b *Builder) OrderBy(fieldPath string, desc bool) *Builder {
	if err := b.checkField(fieldPath); err != nil {
		return b.fail(err)
	}
	nb := b.clone()
	nb.opts.OrderBy = append(nb.opts.OrderBy, OrderTerm{Field: fieldPath, Desc: desc})
	return nb
}

// Limit sets the row limit.
func (b *Builder) Limit(n int) *Builder {
	nb := b.clone()
	nb.opts.Limit = n
	nb.opts.HasLimit = true
	return nb
}

// Offset sets the row offset.
func (b *Builder) Offset(n int) *Builder {
	nb := b.clone()
	nb.opts.Offset = n
	return nb
}

// Page is a convenience over Limit/Offset for 1-indexed pages.
func (b *Builder) Page(page, pageSize int) *Builder {
	if page < 1 {
		page = 1
	}
	return b.Limit(pageSize).Offset((page - 1) * pageSize)
}

// Distinct marks the query as SELECT DISTINCT.
func (b *Builder) Distinct() *Builder {
	nb := b.clone()
	nb.opts.Distinct = true
	return nb
}

// GroupBy appends grouping field paths.
func (b *Builder) GroupBy(fieldPaths ...string) *Builder {
	nb := b.clone()
	nb.opts.GroupBy = append(nb.opts.GroupBy, fieldPaths...)
	return nb
}

// Having adds a top-level AND'd post-aggregation filter.
func (b *Builder) Having(nodes ...Node) *Builder {
	nb := b.clone()
	nb.opts.Having = append(nb.opts.Having, nodes...)
	return nb
}

// Aggregate appends a SELECT aggregate.
func (b *Builder) Aggregate(fn AggregateFn, fieldPath, alias string, distinct bool) *Builder {
	nb := b.clone()
	nb.opts.Aggregates = append(nb.opts.Aggregates, Aggregate{Fn: fn, Field: fieldPath, Alias: alias, Distinct: distinct})
	return nb
}

// Join appends a join against another collection.
func (b *Builder) Join(kind JoinKind, collection, alias string, on JoinOn) *Builder {
	nb := b.clone()
	nb.opts.Joins = append(nb.opts.Joins, Join{Kind: kind, Collection: collection, Alias: alias, On: on})
	return nb
}

// Select restricts the projected fields.
func (b *Builder) Select(fieldPaths ...string) *Builder {
	nb := b.clone()
	nb.opts.SelectFields = append(nb.opts.SelectFields, fieldPaths...)
	return nb
}

// Build validates and optimizes the accumulated Options, returning the
// first field-existence error encountered during chaining if any.
func (b *Builder) Build() (*Options, error) {
	if b.err != nil {
		return nil, b.err
	}
	opts := b.opts.Clone()
	opts.Filters = optimizeNodes(opts.Filters)
	opts.Having = optimizeNodes(opts.Having)
	return &opts, nil
}
