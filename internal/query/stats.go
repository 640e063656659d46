package query

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// groupState is the aggregation state of one group.
type groupState struct {
	key  []querylang.Value
	accs []accumulator
}

// groupTable assigns rows to groups in first-seen order. Rows with a null
// group field belong to no group.
type groupTable struct {
	specs []AggSpec
	by    []string
	limit int
	index map[string]*groupState
	order []*groupState
}

func newGroupTable(specs []AggSpec, by []string, limit int) *groupTable {
	return &groupTable{
		specs: specs,
		by:    by,
		limit: limit,
		index: make(map[string]*groupState),
	}
}

// group returns the group of row, creating it if needed. It returns nil for
// rows that belong to no group.
func (g *groupTable) group(row dataset.Row) (*groupState, error) {
	for _, f := range g.by {
		if row[f].IsNull() {
			return nil, nil
		}
	}
	key := groupKey(row, g.by)
	if gs, ok := g.index[key]; ok {
		return gs, nil
	}
	if g.limit > 0 && len(g.order) >= g.limit {
		return nil, fmt.Errorf("%w: more than %d", ErrTooManyGroups, g.limit)
	}
	gs := g.newGroup()
	gs.key = make([]querylang.Value, len(g.by))
	for i, f := range g.by {
		gs.key[i] = row[f]
	}
	g.index[key] = gs
	g.order = append(g.order, gs)
	return gs, nil
}

func (g *groupTable) newGroup() *groupState {
	gs := &groupState{accs: make([]accumulator, len(g.specs))}
	for i, s := range g.specs {
		gs.accs[i] = newAccumulator(s)
	}
	return gs
}

// aggregate feeds every row of ds into g.
func (g *groupTable) aggregate(ds *dataset.Dataset, ec *ExecutionContext) error {
	for _, row := range ds.Rows {
		gs, err := g.group(row)
		if err != nil {
			return err
		}
		if gs == nil {
			continue
		}
		for i := range g.specs {
			gs.accs[i].Add(g.specs[i].input(ec.eval, row, ec.Vars))
		}
	}
	return nil
}

// aggregates returns the results of gs keyed by alias.
func (g *groupTable) aggregates(gs *groupState) dataset.Row {
	out := make(dataset.Row, len(g.specs))
	for i, s := range g.specs {
		if gs == nil {
			out[s.Alias] = querylang.NullValue()
			continue
		}
		out[s.Alias] = gs.accs[i].Result()
	}
	return out
}

func aliases(specs []AggSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Alias
	}
	return names
}

// checkGroupFields rejects group fields that are not columns of ds.
func checkGroupFields(ds *dataset.Dataset, by []string) error {
	for _, f := range by {
		if !ds.HasColumn(f) {
			return missingColumn(f)
		}
	}
	return nil
}

func compileStats(e *Engine, d *querylang.Directive, _ int) (op, error) {
	clause, err := parseAggClause(d, d.Args)
	if err != nil {
		return nil, err
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		return e.stats(ds, clause, ec)
	}), nil
}

// stats reduces ds to one row per group. Without group fields it always
// yields exactly one row.
func (e *Engine) stats(ds *dataset.Dataset, clause *aggClause, ec *ExecutionContext) (*dataset.Dataset, error) {
	if err := checkGroupFields(ds, clause.by); err != nil {
		return nil, err
	}
	specs, err := expandSpecs(clause.specs, ds.Columns, clause.by)
	if err != nil {
		return nil, err
	}
	g := newGroupTable(specs, clause.by, e.cfg.MaxGroups)
	if err := g.aggregate(ds, ec); err != nil {
		return nil, err
	}
	if len(clause.by) == 0 && len(g.order) == 0 {
		g.order = append(g.order, g.newGroup())
	}

	out := dataset.New(append(append([]string{}, clause.by...), aliases(specs)...)...)
	for _, gs := range g.order {
		row := g.aggregates(gs)
		for i, f := range clause.by {
			row[f] = gs.key[i]
		}
		out.AppendRow(row)
	}
	return out, nil
}

func compileEventstats(e *Engine, d *querylang.Directive, _ int) (op, error) {
	clause, err := parseAggClause(d, d.Args)
	if err != nil {
		return nil, err
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		if err := checkGroupFields(ds, clause.by); err != nil {
			return nil, err
		}
		specs, err := expandSpecs(clause.specs, ds.Columns, clause.by)
		if err != nil {
			return nil, err
		}
		g := newGroupTable(specs, clause.by, e.cfg.MaxGroups)
		if err := g.aggregate(ds, ec); err != nil {
			return nil, err
		}
		updates := make([]dataset.Row, len(ds.Rows))
		for i, row := range ds.Rows {
			gs, _ := g.group(row)
			updates[i] = g.aggregates(gs)
		}
		for _, a := range aliases(specs) {
			ds.AddColumn(a)
		}
		commitUpdates(ds, updates)
		return ds, nil
	}), nil
}

// streamOptions are the streamstats settings besides the aggregates.
type streamOptions struct {
	window      int
	current     bool
	resetAfter  querylang.Node
	resetBefore querylang.Node
}

func compileStreamstats(e *Engine, d *querylang.Directive, _ int) (op, error) {
	so, rest, err := parseStreamOptions(d, d.Args)
	if err != nil {
		return nil, err
	}
	clause, err := parseAggClause(d, rest)
	if err != nil {
		return nil, err
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		return e.streamstats(ds, clause, so, ec)
	}), nil
}

// parseStreamOptions removes window=, current=, global= and the reset
// clauses from toks. A reset condition is a quoted expression or the
// longest expression that follows the keyword.
func parseStreamOptions(d *querylang.Directive, toks []token) (*streamOptions, []token, error) {
	so := &streamOptions{current: true}
	var rest []token
	seen := make(map[string]bool)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != querylang.TokWord {
			rest = append(rest, t)
			continue
		}
		key := strings.ToLower(t.Lit)
		next := i + 1
		if key == "reset" && next < len(toks) && (isKeyword(toks[next], "after") || isKeyword(toks[next], "before")) {
			key = "reset_" + strings.ToLower(toks[next].Lit)
			next++
		}
		switch key {
		case "window", "current", "global":
			if next >= len(toks) || toks[next].Kind != querylang.TokEq {
				rest = append(rest, t)
				continue
			}
			if next+1 >= len(toks) || !isValue(toks[next+1]) {
				return nil, nil, argErrorf(d, "missing value for %s=", key)
			}
			if seen[key] {
				return nil, nil, argErrorf(d, "option %s given twice", key)
			}
			seen[key] = true
			val := toks[next+1].Lit
			switch key {
			case "window":
				n, err := parseIntOption(d, key, val)
				if err != nil {
					return nil, nil, err
				}
				if n < 0 {
					return nil, nil, argErrorf(d, "window must not be negative, got %d", n)
				}
				so.window = n
			case "current":
				b, err := parseBoolOption(d, key, val)
				if err != nil {
					return nil, nil, err
				}
				so.current = b
			case "global":
				b, err := parseBoolOption(d, key, val)
				if err != nil {
					return nil, nil, err
				}
				if !b {
					return nil, nil, argErrorf(d, "global=false is not supported")
				}
			}
			i = next + 1
		case "reset_after", "reset_before":
			if next < len(toks) && toks[next].Kind == querylang.TokEq {
				next++
			}
			if next >= len(toks) {
				return nil, nil, argErrorf(d, "%s needs a condition", key)
			}
			if seen[key] {
				return nil, nil, argErrorf(d, "option %s given twice", key)
			}
			seen[key] = true
			var (
				cond     querylang.Node
				consumed int
				err      error
			)
			if toks[next].Kind == querylang.TokString {
				cond, err = querylang.ParseExprString(toks[next].Lit)
				consumed = 1
			} else {
				cond, consumed, err = querylang.ParseExprPrefix(toks[next:])
			}
			if err != nil {
				return nil, nil, argError(d, err)
			}
			if key == "reset_after" {
				so.resetAfter = cond
			} else {
				so.resetBefore = cond
			}
			i = next + consumed - 1
		default:
			rest = append(rest, t)
		}
	}
	return so, rest, nil
}

// streamGroup is the running state of one streamstats group.
type streamGroup struct {
	accs   []accumulator
	window [][]querylang.Value
}

// streamstats annotates each row with aggregates over the rows before it
// in its group, optionally bounded to a sliding window.
func (e *Engine) streamstats(ds *dataset.Dataset, clause *aggClause, so *streamOptions, ec *ExecutionContext) (*dataset.Dataset, error) {
	if err := checkGroupFields(ds, clause.by); err != nil {
		return nil, err
	}
	specs, err := expandSpecs(clause.specs, ds.Columns, clause.by)
	if err != nil {
		return nil, err
	}
	g := newGroupTable(specs, clause.by, e.cfg.MaxGroups)
	states := make(map[*groupState]*streamGroup)
	fresh := func() *streamGroup {
		sg := &streamGroup{}
		if so.window == 0 {
			sg.accs = g.newGroup().accs
		}
		return sg
	}
	matches := func(cond querylang.Node, row dataset.Row) (bool, error) {
		if cond == nil {
			return false, nil
		}
		v, err := ec.eval.EvalVars(cond, row, ec.Vars)
		if err != nil {
			return false, err
		}
		return v.Truthy(), nil
	}

	updates := make([]dataset.Row, len(ds.Rows))
	for i, row := range ds.Rows {
		gs, err := g.group(row)
		if err != nil {
			return nil, err
		}
		if gs == nil {
			updates[i] = g.aggregates(nil)
			continue
		}
		sg, ok := states[gs]
		if !ok {
			sg = fresh()
			states[gs] = sg
		}
		before, err := matches(so.resetBefore, row)
		if err != nil {
			return nil, err
		}
		if before {
			sg = fresh()
			states[gs] = sg
		}

		inputs := make([]querylang.Value, len(specs))
		for j := range specs {
			inputs[j] = specs[j].input(ec.eval, row, ec.Vars)
		}
		if so.current {
			sg.add(inputs, so.window)
			updates[i] = sg.result(specs, so.window)
		} else {
			updates[i] = sg.result(specs, so.window)
			sg.add(inputs, so.window)
		}

		after, err := matches(so.resetAfter, row)
		if err != nil {
			return nil, err
		}
		if after {
			states[gs] = fresh()
		}
	}
	for _, a := range aliases(specs) {
		ds.AddColumn(a)
	}
	commitUpdates(ds, updates)
	return ds, nil
}

func (sg *streamGroup) add(inputs []querylang.Value, window int) {
	if window == 0 {
		for j, v := range inputs {
			sg.accs[j].Add(v)
		}
		return
	}
	sg.window = append(sg.window, inputs)
	if len(sg.window) > window {
		sg.window = sg.window[1:]
	}
}

func (sg *streamGroup) result(specs []AggSpec, window int) dataset.Row {
	out := make(dataset.Row, len(specs))
	for j, s := range specs {
		if window == 0 {
			out[s.Alias] = sg.accs[j].Result()
			continue
		}
		acc := newAccumulator(s)
		for _, inputs := range sg.window {
			acc.Add(inputs[j])
		}
		out[s.Alias] = acc.Result()
	}
	return out
}

// fieldsummaryColumns are the columns of the fieldsummary output.
var fieldsummaryColumns = []string{
	"field", "count", "distinct_count", "is_exact", "max", "min",
	"mean", "stdev", "numeric_count", "values",
}

const defaultMaxVals = 10

func compileFieldsummary(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, toks, err := takeOptions(d, argTokens(d), "maxvals")
	if err != nil {
		return nil, err
	}
	maxVals := defaultMaxVals
	if v, ok := opts["maxvals"]; ok {
		if maxVals, err = parseIntOption(d, "maxvals", v); err != nil {
			return nil, err
		}
		if maxVals < 0 {
			return nil, argErrorf(d, "maxvals must not be negative, got %d", maxVals)
		}
	}
	names, err := fieldNames(d, toks)
	if err != nil {
		return nil, err
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		cols := ds.Columns
		if len(names) > 0 {
			cols = expandGlobs(names, ds.Columns)
		}
		out := dataset.New(fieldsummaryColumns...)
		for _, c := range cols {
			if !ds.HasColumn(c) {
				continue
			}
			out.AppendRow(summarizeColumn(c, ds.Column(c), maxVals))
		}
		return out, nil
	}), nil
}

// summarizeColumn computes one fieldsummary row. values lists the most
// frequent values as "value:count" text, most frequent first.
func summarizeColumn(name string, cells []querylang.Value, maxVals int) dataset.Row {
	var present []querylang.Value
	for _, v := range cells {
		if !v.IsNull() {
			present = append(present, v)
		}
	}
	row := dataset.Row{
		"field":          querylang.StrValue(name),
		"count":          querylang.NumValue(float64(len(present))),
		"distinct_count": querylang.NumValue(float64(querylang.DistinctCount(present))),
		"is_exact":       querylang.NumValue(1),
		"max":            querylang.NullValue(),
		"min":            querylang.NullValue(),
		"mean":           querylang.NullValue(),
		"stdev":          querylang.NullValue(),
	}
	var nums []float64
	for _, v := range present {
		if v.Kind == querylang.KindNumber {
			nums = append(nums, v.Num)
		}
	}
	row["numeric_count"] = querylang.NumValue(float64(len(nums)))
	if len(present) > 0 {
		lo, hi := present[0], present[0]
		for _, v := range present[1:] {
			if querylang.Order(v, lo) < 0 {
				lo = v
			}
			if querylang.Order(v, hi) > 0 {
				hi = v
			}
		}
		row["min"], row["max"] = lo, hi
	}
	if len(nums) > 0 {
		row["mean"] = querylang.NumValue(querylang.Mean(nums))
	}
	if len(nums) > 1 {
		row["stdev"] = querylang.NumValue(querylang.Stdev(nums))
	}

	type tally struct {
		text string
		n    int
	}
	var (
		tallies []*tally
		byText  = make(map[string]*tally)
	)
	for _, v := range present {
		s := v.AsText()
		t, ok := byText[s]
		if !ok {
			t = &tally{text: s}
			byText[s] = t
			tallies = append(tallies, t)
		}
		t.n++
	}
	// Ties keep first-seen order.
	slices.SortStableFunc(tallies, func(a, b *tally) int { return b.n - a.n })
	var vals []querylang.Value
	for i, t := range tallies {
		if i >= maxVals {
			break
		}
		vals = append(vals, querylang.StrValue(fmt.Sprintf("%s:%d", t.text, t.n)))
	}
	row["values"] = querylang.ListValue(vals)
	return row
}
