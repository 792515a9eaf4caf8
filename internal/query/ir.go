// Package query implements the typed filter/group/subquery/join/
// aggregate intermediate representation and its immutable builder.
package query

// Op is a filter comparison operator.
type Op string

const (
	OpEq                  Op = "eq"
	OpNeq                 Op = "neq"
	OpGt                  Op = "gt"
	OpGte                 Op = "gte"
	OpLt                  Op = "lt"
	OpLte                 Op = "lte"
	OpIn                  Op = "in"
	OpNin                 Op = "nin"
	OpLike                Op = "like"
	OpILike               Op = "ilike"
	OpStartsWith          Op = "startswith"
	OpEndsWith            Op = "endswith"
	OpContains            Op = "contains"
	OpExists              Op = "exists"
	OpBetween             Op = "between"
	OpJSONArrayContains   Op = "json_array_contains"
	OpJSONArrayNotContain Op = "json_array_not_contains"
	OpVectorMatch         Op = "vector_match"
)

// Node is any element that can appear inside a Group's children: a
// Filter, a nested Group, or a Subquery.
type Node interface{ isNode() }

// Filter is a single field comparison.
type Filter struct {
	Field  string
	Op     Op
	Value  any
	Value2 any // second operand for OpBetween

	// VectorDistance names the distance metric for OpVectorMatch
	// ("cosine", "l2", "l1"); Value holds the query vector ([]float32 or
	// []any of numbers), Value2 holds an optional k (result count) hint
	// consumed by the translator's vector subquery construction.
	VectorDistance string
}

func (*Filter) isNode() {}

// GroupKind is the boolean combinator for a Group's children.
type GroupKind string

const (
	GroupAnd GroupKind = "and"
	GroupOr  GroupKind = "or"
)

// Group combines child Nodes with AND or OR.
type Group struct {
	Kind     GroupKind
	Children []Node
}

func (*Group) isNode() {}

// SubqueryOp is the relationship a Subquery establishes with its outer
// query.
type SubqueryOp string

const (
	SubExists    SubqueryOp = "exists"
	SubNotExists SubqueryOp = "not_exists"
	SubIn        SubqueryOp = "in"
	SubNotIn     SubqueryOp = "not_in"
)

// Subquery correlates the outer query against rows of another
// collection. LocalField/ForeignField give the explicit correlation key
// (spec.md's Open Question on plural-guessing FK heuristics is resolved
// by requiring this instead of inferring it — see DESIGN.md).
type Subquery struct {
	Op           SubqueryOp
	Collection   string
	LocalField   string // field on the outer collection
	ForeignField string // field on the inner (subquery) collection
	Inner        *Options
}

func (*Subquery) isNode() {}

// AggregateFn is a supported SQL aggregate function.
type AggregateFn string

const (
	AggCount AggregateFn = "COUNT"
	AggSum   AggregateFn = "SUM"
	AggAvg   AggregateFn = "AVG"
	AggMin   AggregateFn = "MIN"
	AggMax   AggregateFn = "MAX"
)

// Aggregate is a single SELECT aggregate column.
type Aggregate struct {
	Fn       AggregateFn
	Field    string // "" (or "*") valid only for COUNT
	Alias    string
	Distinct bool
}

// JoinKind is the SQL join type.
type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
	JoinFull  JoinKind = "FULL"
)

// JoinOn is the equality condition linking a joined collection to the
// rest of the query.
type JoinOn struct {
	Left  string // "table.field" or "field" (defaults to the base table)
	Right string
	Op    string // defaults to "="
}

// Join adds another collection to the FROM clause.
type Join struct {
	Kind       JoinKind
	Collection string
	Alias      string
	On         JoinOn
}

// OrderTerm is a single ORDER BY term.
type OrderTerm struct {
	Field string
	Desc  bool
}

// Options is the full, immutable set of query parameters a Builder
// produces. The SQL translator (package sqlgen) consumes this directly.
type Options struct {
	Filters      []Node
	OrderBy      []OrderTerm
	Limit        int // applied only when HasLimit is set
	HasLimit     bool
	Offset       int
	GroupBy      []string
	Having       []Node
	Distinct     bool
	Aggregates   []Aggregate
	Joins        []Join
	SelectFields []string
}

// Clone deep-copies o's slices so a caller mutating the result of Build()
// cannot retroactively affect a Builder that produced it (same freshness
// discipline as the document cache, just for the IR).
func (o Options) Clone() Options {
	c := o
	c.Filters = append([]Node(nil), o.Filters...)
	c.OrderBy = append([]OrderTerm(nil), o.OrderBy...)
	c.GroupBy = append([]string(nil), o.GroupBy...)
	c.Having = append([]Node(nil), o.Having...)
	c.Aggregates = append([]Aggregate(nil), o.Aggregates...)
	c.Joins = append([]Join(nil), o.Joins...)
	c.SelectFields = append([]string(nil), o.SelectFields...)
	return c
}
