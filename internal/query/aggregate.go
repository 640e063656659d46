package query

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// AggSpec is one aggregate of a stats-family directive.
type AggSpec struct {
	Func  string         // lowercased function name
	Field querylang.Node // nil for bare count and random
	All   bool           // func(*): expanded over every non-group column
	Args  []float64      // trailing numeric arguments: round digits, random bounds
	Alias string
}

// aggFuncs lists the aggregate functions and the extra numeric arguments
// each accepts after the field.
var aggFuncs = map[string]struct {
	minArgs, maxArgs int
	noField          bool
}{
	"count": {}, "sum": {}, "avg": {}, "mean": {}, "min": {}, "max": {},
	"range": {}, "median": {}, "mode": {}, "sqrt": {}, "abs": {},
	"round":  {maxArgs: 1},
	"values": {}, "list": {},
	"dc": {}, "dcount": {}, "distinct_count": {}, "distinctcount": {},
	"earliest": {}, "first": {}, "latest": {}, "last": {},
	"random": {maxArgs: 3, noField: true},
	"stdev":  {}, "var": {},
}

// aggClause is the parsed argument list of a stats-family directive.
type aggClause struct {
	specs []AggSpec
	by    []string
}

// parseAggClause parses `func(field) [as alias] ... [by f1, f2]` from raw
// directive tokens.
func parseAggClause(d *querylang.Directive, toks []token) (*aggClause, error) {
	c := &aggClause{}
	i := 0
	for i < len(toks) {
		t := toks[i]
		switch {
		case t.Kind == querylang.TokComma:
			i++
			continue
		case isKeyword(t, "by"):
			names, err := fieldNames(d, querylang.MergeAdjacent(toks[i+1:]))
			if err != nil {
				return nil, err
			}
			if len(names) == 0 {
				return nil, argErrorf(d, "expected fields after by")
			}
			c.by = names
			i = len(toks)
			continue
		case t.Kind != querylang.TokWord:
			return nil, argErrorf(d, "expected an aggregate function, got %q", t.Text())
		}
		spec, n, err := parseAggSpec(d, toks[i:])
		if err != nil {
			return nil, err
		}
		c.specs = append(c.specs, spec)
		i += n
	}
	if len(c.specs) == 0 {
		return nil, argErrorf(d, "expected at least one aggregate")
	}
	seen := make(map[string]bool)
	for _, s := range c.specs {
		if s.All {
			continue
		}
		if seen[s.Alias] {
			return nil, argErrorf(d, "duplicate aggregate name %q", s.Alias)
		}
		seen[s.Alias] = true
	}
	return c, nil
}

// parseAggSpec parses one aggregate at the start of toks and returns it with
// the number of tokens consumed.
func parseAggSpec(d *querylang.Directive, toks []token) (AggSpec, int, error) {
	name := strings.ToLower(toks[0].Lit)
	info, ok := aggFuncs[name]
	if !ok {
		return AggSpec{}, 0, argErrorf(d, "unknown aggregate function %q", toks[0].Lit)
	}
	spec := AggSpec{Func: name, Alias: name}
	n := 1

	if n < len(toks) && toks[n].Kind == querylang.TokLParen && toks[0].Adjacent(toks[n]) {
		end := closingParen(toks, n)
		if end < 0 {
			return AggSpec{}, 0, argErrorf(d, "unmatched parenthesis in %s(", name)
		}
		inner := toks[n+1 : end]
		spec.Alias = renderTokens(toks[:end+1])
		n = end + 1

		var parts [][]token
		if len(inner) > 0 {
			parts = splitCommas(inner)
		}
		if len(parts) > 0 && !info.noField {
			field := parts[0]
			parts = parts[1:]
			switch {
			case len(field) == 1 && field[0].Kind == querylang.TokStar:
				spec.All = true
			default:
				node, err := querylang.ParseExpr(field)
				if err != nil {
					return AggSpec{}, 0, argError(d, err)
				}
				spec.Field = node
			}
		}
		for _, p := range parts {
			node, err := querylang.ParseExpr(p)
			if err != nil {
				return AggSpec{}, 0, argError(d, err)
			}
			lit, ok := node.(*querylang.Literal)
			if !ok || lit.Val.Kind != querylang.KindNumber {
				return AggSpec{}, 0, argErrorf(d, "%s: expected a numeric argument, got %q", name, tokensText(p))
			}
			spec.Args = append(spec.Args, lit.Val.Num)
		}
	}

	if spec.Field == nil && !spec.All && !info.noField && name != "count" {
		return AggSpec{}, 0, argErrorf(d, "%s requires a field", name)
	}
	if len(spec.Args) < info.minArgs || len(spec.Args) > info.maxArgs {
		return AggSpec{}, 0, argErrorf(d, "%s: wrong number of arguments", name)
	}

	if n+1 < len(toks) && isKeyword(toks[n], "as") {
		if !isName(toks[n+1]) {
			return AggSpec{}, 0, argErrorf(d, "expected a name after as")
		}
		spec.Alias = toks[n+1].Lit
		n += 2
	}
	return spec, n, nil
}

// closingParen returns the index of the ')' matching toks[open], or -1.
func closingParen(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch toks[i].Kind {
		case querylang.TokLParen:
			depth++
		case querylang.TokRParen:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// renderTokens joins token text, with a space only where the source had
// whitespace.
func renderTokens(toks []token) string {
	var sb strings.Builder
	for i, t := range toks {
		if i > 0 && !toks[i-1].Adjacent(t) {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Text())
	}
	return sb.String()
}

// expandSpecs replaces func(*) specs by one spec per column that is not a
// group field. Aliases must be unique after expansion.
func expandSpecs(specs []AggSpec, columns, by []string) ([]AggSpec, error) {
	out := make([]AggSpec, 0, len(specs))
	seen := make(map[string]bool)
	add := func(s AggSpec) error {
		if seen[s.Alias] {
			return fmt.Errorf("duplicate aggregate name %q", s.Alias)
		}
		seen[s.Alias] = true
		out = append(out, s)
		return nil
	}
	for _, s := range specs {
		if !s.All {
			if err := add(s); err != nil {
				return nil, err
			}
			continue
		}
		for _, c := range columns {
			if slices.Contains(by, c) {
				continue
			}
			e := s
			e.All = false
			e.Field = &querylang.FieldRef{Name: c}
			e.Alias = s.Func + "(" + c + ")"
			if err := add(e); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// input returns the value s aggregates for one row. Evaluation errors
// count as Null.
func (s *AggSpec) input(ev *querylang.Evaluator, row dataset.Row, vars querylang.Vars) querylang.Value {
	switch f := s.Field.(type) {
	case nil:
		// Bare count and random see every row.
		return querylang.BoolValue(true)
	case *querylang.FieldRef:
		return row[f.Name]
	}
	v, err := ev.EvalVars(s.Field, row, vars)
	if err != nil {
		return querylang.NullValue()
	}
	return v
}

// accumulator is the interface for aggregate function state. Result does
// not consume the state; more values may be added afterwards.
type accumulator interface {
	Add(v querylang.Value)
	Result() querylang.Value
}

// newAccumulator creates the accumulator for spec.
func newAccumulator(spec AggSpec) accumulator {
	switch spec.Func {
	case "count":
		return &countAcc{}
	case "sum":
		return &sumAcc{}
	case "avg", "mean":
		return &avgAcc{}
	case "min":
		return &extremeAcc{sign: -1}
	case "max":
		return &extremeAcc{sign: 1}
	case "dc", "dcount", "distinct_count", "distinctcount":
		return &dcAcc{seen: make(map[string]struct{})}
	case "earliest", "first":
		return &firstAcc{}
	case "latest", "last":
		return &lastAcc{}
	case "values":
		return &valuesAcc{seen: make(map[string]struct{})}
	case "list":
		return &collectAcc{result: func(vs []querylang.Value) querylang.Value {
			return querylang.ListValue(slices.Clone(vs))
		}}
	case "mode":
		return &collectAcc{result: querylang.Mode}
	case "range":
		return numericAcc(querylang.Range)
	case "median":
		return numericAcc(querylang.Median)
	case "stdev":
		return numericAcc(querylang.Stdev)
	case "var":
		return numericAcc(querylang.Variance)
	case "sqrt":
		return numericAcc(func(nums []float64) float64 { return math.Sqrt(querylang.Sum(nums)) })
	case "abs":
		return numericAcc(func(nums []float64) float64 { return math.Abs(querylang.Sum(nums)) })
	case "round":
		digits := 0
		if len(spec.Args) > 0 {
			digits = int(spec.Args[0])
		}
		return numericAcc(func(nums []float64) float64 { return querylang.RoundTo(querylang.Sum(nums), digits) })
	case "random":
		return &randomAcc{bounds: spec.Args}
	}
	// parseAggSpec rejects unknown functions.
	panic("query: no accumulator for " + spec.Func)
}

// countAcc counts non-null values. For bare count the caller passes a
// non-null value for every row.
type countAcc struct{ n int64 }

func (a *countAcc) Add(v querylang.Value) {
	if !v.IsNull() {
		a.n++
	}
}

func (a *countAcc) Result() querylang.Value {
	return querylang.NumValue(float64(a.n))
}

type sumAcc struct {
	sum float64
	any bool
}

func (a *sumAcc) Add(v querylang.Value) {
	for _, n := range querylang.Numbers([]querylang.Value{v}) {
		a.sum += n
		a.any = true
	}
}

func (a *sumAcc) Result() querylang.Value {
	if !a.any {
		return querylang.NullValue()
	}
	return querylang.NumValue(a.sum)
}

type avgAcc struct {
	sum float64
	n   int64
}

func (a *avgAcc) Add(v querylang.Value) {
	for _, n := range querylang.Numbers([]querylang.Value{v}) {
		a.sum += n
		a.n++
	}
}

func (a *avgAcc) Result() querylang.Value {
	if a.n == 0 {
		return querylang.NullValue()
	}
	return querylang.NumValue(a.sum / float64(a.n))
}

// extremeAcc keeps the smallest (sign -1) or largest (sign 1) value under
// the numeric-aware ordering.
type extremeAcc struct {
	sign int
	best querylang.Value
}

func (a *extremeAcc) Add(v querylang.Value) {
	for _, e := range v.Values() {
		if e.IsNull() {
			continue
		}
		if a.best.IsNull() || querylang.Order(e, a.best)*a.sign > 0 {
			a.best = e
		}
	}
}

func (a *extremeAcc) Result() querylang.Value {
	return a.best
}

type dcAcc struct {
	seen map[string]struct{}
}

func (a *dcAcc) Add(v querylang.Value) {
	for _, e := range v.Values() {
		if !e.IsNull() {
			a.seen[e.AsText()] = struct{}{}
		}
	}
}

func (a *dcAcc) Result() querylang.Value {
	return querylang.NumValue(float64(len(a.seen)))
}

type firstAcc struct {
	v   querylang.Value
	set bool
}

func (a *firstAcc) Add(v querylang.Value) {
	if !a.set && !v.IsNull() {
		a.v = v
		a.set = true
	}
}

func (a *firstAcc) Result() querylang.Value {
	return a.v
}

type lastAcc struct {
	v querylang.Value
}

func (a *lastAcc) Add(v querylang.Value) {
	if !v.IsNull() {
		a.v = v
	}
}

func (a *lastAcc) Result() querylang.Value {
	return a.v
}

// valuesAcc collects distinct non-null values, reported sorted.
type valuesAcc struct {
	seen map[string]struct{}
	vals []querylang.Value
}

func (a *valuesAcc) Add(v querylang.Value) {
	for _, e := range v.Values() {
		if e.IsNull() {
			continue
		}
		k := e.AsText()
		if _, ok := a.seen[k]; ok {
			continue
		}
		a.seen[k] = struct{}{}
		a.vals = append(a.vals, e)
	}
}

func (a *valuesAcc) Result() querylang.Value {
	if len(a.vals) == 0 {
		return querylang.NullValue()
	}
	vals := slices.Clone(a.vals)
	querylang.SortValues(vals)
	return querylang.ListValue(vals)
}

// collectAcc keeps every non-null value and computes its result from all
// of them.
type collectAcc struct {
	vals   []querylang.Value
	result func([]querylang.Value) querylang.Value
}

func (a *collectAcc) Add(v querylang.Value) {
	for _, e := range v.Values() {
		if !e.IsNull() {
			a.vals = append(a.vals, e)
		}
	}
}

func (a *collectAcc) Result() querylang.Value {
	if len(a.vals) == 0 {
		return querylang.NullValue()
	}
	return a.result(a.vals)
}

// numericAcc builds a collecting accumulator over the numeric values.
func numericAcc(fn func([]float64) float64) accumulator {
	return &collectAcc{result: func(vs []querylang.Value) querylang.Value {
		nums := querylang.Numbers(vs)
		if len(nums) == 0 {
			return querylang.NullValue()
		}
		return querylang.NumValue(fn(nums))
	}}
}

// randomAcc draws one random number per group, fixed once drawn.
type randomAcc struct {
	bounds []float64
	v      querylang.Value
}

func (a *randomAcc) Add(querylang.Value) {}

func (a *randomAcc) Result() querylang.Value {
	if a.v.IsNull() {
		a.v = querylang.NumValue(querylang.RandomIn(a.bounds...))
	}
	return a.v
}
