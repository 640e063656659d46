package querylang

// Match evaluates a search-mode filter against a row.
//
//   - A bare field (ExistsExpr) is true iff present and non-null.
//   - field OP literal compares numerically when both sides are numbers,
//     otherwise as text. A literal containing * matches as a wildcard for
//     = and !=. Multivalue fields match if any element does.
//   - IN compares trimmed text.
//   - AND and OR always evaluate both sides.
//   - A missing or null field makes a comparison false, never an error.
//
// Other node types are evaluated as eval-mode expressions; an evaluation
// error counts as false. A nil filter matches every row.
func (e *Evaluator) Match(n Node, row Row) bool {
	switch t := n.(type) {
	case nil:
		return true

	case *ExistsExpr:
		v, ok := row[t.Field]
		return ok && !v.IsNull()

	case *UnaryExpr:
		if t.Op == OpNot {
			return !e.Match(t.Operand, row)
		}

	case *BinaryExpr:
		switch t.Op {
		case OpAnd:
			l := e.Match(t.Left, row)
			r := e.Match(t.Right, row)
			return l && r
		case OpOr:
			l := e.Match(t.Left, row)
			r := e.Match(t.Right, row)
			return l || r
		}
		if t.Op.IsComparison() {
			ref, isRef := t.Left.(*FieldRef)
			lit, isLit := t.Right.(*Literal)
			if isRef && isLit {
				return matchComparison(t.Op, row[ref.Name], lit.Val)
			}
		}
	}

	v, err := e.Eval(n, row)
	if err != nil {
		return false
	}
	return v.Truthy()
}

// matchComparison compares a row value with a search literal.
func matchComparison(op BinaryOp, v, lit Value) bool {
	if v.IsNull() {
		return false
	}
	if lit.Kind == KindText && (op == OpEq || op == OpNeq) && IsGlob(lit.Str) {
		re, err := CompileGlob(lit.Str)
		if err != nil {
			return false
		}
		matched := false
		for _, elem := range v.Values() {
			if re.MatchString(elem.AsText()) {
				matched = true
				break
			}
		}
		return matched == (op == OpEq)
	}
	if v.Kind == KindList {
		if op == OpNeq {
			for _, elem := range v.List {
				if compareOp(OpEq, elem, lit) {
					return false
				}
			}
			return true
		}
		for _, elem := range v.List {
			if compareOp(op, elem, lit) {
				return true
			}
		}
		return false
	}
	return compareOp(op, v, lit)
}

var defaultEvaluator = NewEvaluator()

// Match evaluates a search-mode filter with the default built-in functions.
func Match(n Node, row Row) bool {
	return defaultEvaluator.Match(n, row)
}
