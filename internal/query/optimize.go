package query

// optimizeNodes applies both IR-level optimizations to a list of nodes
// that are implicitly AND-combined (true for Options.Filters,
// Options.Having, and the children of a GroupAnd):
//
//   - single-child groups are flattened away (Group{And, [x]} -> x)
//   - redundant numeric bound filters on the same field are collapsed to
//     the single strongest bound (age>25 AND age>30 -> age>30)
func optimizeNodes(nodes []Node) []Node {
	return optimize(nodes, true)
}

func optimize(nodes []Node, andContext bool) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case *Group:
			children := optimize(v.Children, v.Kind == GroupAnd)
			switch len(children) {
			case 0:
				continue
			case 1:
				out = append(out, children[0])
			default:
				out = append(out, &Group{Kind: v.Kind, Children: children})
			}
		case *Subquery:
			if v.Inner != nil {
				nv := *v
				innerCopy := *v.Inner
				innerCopy.Filters = optimize(v.Inner.Filters, true)
				nv.Inner = &innerCopy
				out = append(out, &nv)
			} else {
				out = append(out, v)
			}
		default:
			out = append(out, n)
		}
	}
	if andContext {
		out = eliminateRedundantBounds(out)
	}
	return out
}

// eliminateRedundantBounds drops dominated gt/gte or lt/lte filters on the
// same field, keeping only the most restrictive bound in each direction.
// Non-numeric and non-bound operators (eq, in, like, ...) are left alone.
func eliminateRedundantBounds(nodes []Node) []Node {
	type boundKey struct {
		field string
		dir   string
	}
	bestVal := map[boundKey]float64{}
	bestIdx := map[boundKey]int{}
	bestOp := map[boundKey]Op{}
	keep := make([]bool, len(nodes))
	for i := range keep {
		keep[i] = true
	}

	for i, n := range nodes {
		f, ok := n.(*Filter)
		if !ok {
			continue
		}
		var dir string
		switch f.Op {
		case OpGt, OpGte:
			dir = "lower"
		case OpLt, OpLte:
			dir = "upper"
		default:
			continue
		}
		num, ok := toFloat(f.Value)
		if !ok {
			continue
		}
		key := boundKey{f.Field, dir}
		prevVal, exists := bestVal[key]
		if !exists {
			bestVal[key] = num
			bestIdx[key] = i
			bestOp[key] = f.Op
			continue
		}
		stronger := false
		if dir == "lower" {
			stronger = num > prevVal || (num == prevVal && f.Op == OpGt && bestOp[key] == OpGte)
		} else {
			stronger = num < prevVal || (num == prevVal && f.Op == OpLt && bestOp[key] == OpLte)
		}
		if stronger {
			keep[bestIdx[key]] = false
			bestVal[key] = num
			bestIdx[key] = i
			bestOp[key] = f.Op
		} else {
			keep[i] = false
		}
	}

	out := make([]Node, 0, len(nodes))
	for i, n := range nodes {
		if keep[i] {
			out = append(out, n)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
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
