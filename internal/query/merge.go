package query

import (
	"context"
	"strings"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// Join types. center is an alias of inner.
const (
	joinInner = "inner"
	joinLeft  = "left"
	joinRight = "right"
	joinOuter = "outer"
)

// subsearchPlans compiles the bracketed subsearches of d.
func (e *Engine) subsearchPlans(d *querylang.Directive, depth int) ([]*plan, error) {
	plans := make([]*plan, len(d.Subsearches))
	for i, q := range d.Subsearches {
		p, err := e.compileQuery(q, depth)
		if err != nil {
			return nil, err
		}
		plans[i] = p
	}
	return plans, nil
}

func oneSubsearch(e *Engine, d *querylang.Directive, depth int) (*plan, error) {
	if len(d.Subsearches) != 1 {
		return nil, argErrorf(d, "expected one [subsearch], got %d", len(d.Subsearches))
	}
	plans, err := e.subsearchPlans(d, depth)
	if err != nil {
		return nil, err
	}
	return plans[0], nil
}

// compileJoin compiles `join [type=T] field... [subsearch]`. Without fields
// the datasets are joined on every column they share. Every match pair
// yields a row; subsearch values replace main values in shared columns.
func compileJoin(e *Engine, d *querylang.Directive, depth int) (op, error) {
	opts, toks, err := takeOptions(d, argTokens(d), "type")
	if err != nil {
		return nil, err
	}
	kind := joinInner
	if v, ok := opts["type"]; ok {
		switch strings.ToLower(v) {
		case "inner", "center":
			kind = joinInner
		case "left":
			kind = joinLeft
		case "right":
			kind = joinRight
		case "outer":
			kind = joinOuter
		default:
			return nil, argErrorf(d, "unknown join type %q", v)
		}
	}
	fields, err := fieldNames(d, toks)
	if err != nil {
		return nil, err
	}
	sub, err := oneSubsearch(e, d, depth)
	if err != nil {
		return nil, err
	}

	return opFunc(func(ctx context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		right, err := e.subsearch(ctx, sub, ec)
		if err != nil {
			return nil, err
		}
		on := fields
		if len(on) == 0 {
			for _, c := range ds.Columns {
				if right.HasColumn(c) {
					on = append(on, c)
				}
			}
		}
		for _, f := range on {
			if !ds.HasColumn(f) {
				return nil, missingColumn(f)
			}
			if !right.HasColumn(f) {
				return nil, missingColumn(f)
			}
		}
		return joinDatasets(ds, right, on, kind), nil
	}), nil
}

// joinKey returns the key of r on fields, or false when a key cell is
// null. Null keys never match.
func joinKey(r dataset.Row, fields []string) (string, bool) {
	for _, f := range fields {
		if r[f].IsNull() {
			return "", false
		}
	}
	return groupKey(r, fields), true
}

// joinDatasets merges left and right on fields. Left-driven joins keep
// left row order; right joins keep right row order; outer joins append
// unmatched right rows after the left-driven result.
func joinDatasets(left, right *dataset.Dataset, fields []string, kind string) *dataset.Dataset {
	out := dataset.New(left.Columns...)
	for _, c := range right.Columns {
		out.AddColumn(c)
	}
	merge := func(l, r dataset.Row) dataset.Row {
		row := make(dataset.Row, len(out.Columns))
		for k, v := range l {
			row[k] = v
		}
		for k, v := range r {
			row[k] = v
		}
		return row
	}

	index := func(ds *dataset.Dataset) map[string][]int {
		idx := make(map[string][]int)
		for i, r := range ds.Rows {
			if k, ok := joinKey(r, fields); ok {
				idx[k] = append(idx[k], i)
			}
		}
		return idx
	}

	if kind == joinRight {
		byKey := index(left)
		for _, r := range right.Rows {
			k, ok := joinKey(r, fields)
			matches := byKey[k]
			if !ok || len(matches) == 0 {
				out.Rows = append(out.Rows, dataset.CloneRow(r))
				continue
			}
			for _, li := range matches {
				out.Rows = append(out.Rows, merge(left.Rows[li], r))
			}
		}
		return out
	}

	byKey := index(right)
	used := make([]bool, len(right.Rows))
	for _, l := range left.Rows {
		k, ok := joinKey(l, fields)
		matches := byKey[k]
		if !ok || len(matches) == 0 {
			if kind != joinInner {
				out.Rows = append(out.Rows, dataset.CloneRow(l))
			}
			continue
		}
		for _, ri := range matches {
			used[ri] = true
			out.Rows = append(out.Rows, merge(l, right.Rows[ri]))
		}
	}
	if kind == joinOuter {
		for i, r := range right.Rows {
			if !used[i] {
				out.Rows = append(out.Rows, dataset.CloneRow(r))
			}
		}
	}
	return out
}

func compileAppend(e *Engine, d *querylang.Directive, depth int) (op, error) {
	if len(d.Args) > 0 {
		return nil, argErrorf(d, "unexpected argument %q", d.Args[0].Text())
	}
	sub, err := oneSubsearch(e, d, depth)
	if err != nil {
		return nil, err
	}
	return opFunc(func(ctx context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		extra, err := e.subsearch(ctx, sub, ec)
		if err != nil {
			return nil, err
		}
		ds.Append(extra)
		return ds, nil
	}), nil
}

// compileAppendpipe runs the bracketed pipeline over a copy of the current
// dataset and appends the result.
func compileAppendpipe(e *Engine, d *querylang.Directive, depth int) (op, error) {
	if len(d.Args) > 0 {
		return nil, argErrorf(d, "unexpected argument %q", d.Args[0].Text())
	}
	sub, err := oneSubsearch(e, d, depth)
	if err != nil {
		return nil, err
	}
	return opFunc(func(ctx context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		child, err := ec.child()
		if err != nil {
			return nil, err
		}
		for k, v := range ec.Vars {
			child.Vars[k] = v
		}
		extra, err := e.runPipeline(ctx, ds.Clone(), sub.stages, child)
		ec.absorb(child)
		if err != nil {
			return nil, err
		}
		ds.Append(extra)
		return ds, nil
	}), nil
}

// compileMultisearch runs every subsearch and appends their rows in order.
func compileMultisearch(e *Engine, d *querylang.Directive, depth int) (op, error) {
	if len(d.Args) > 0 {
		return nil, argErrorf(d, "unexpected argument %q", d.Args[0].Text())
	}
	if len(d.Subsearches) < 2 {
		return nil, argErrorf(d, "expected at least two [subsearch]es, got %d", len(d.Subsearches))
	}
	plans, err := e.subsearchPlans(d, depth)
	if err != nil {
		return nil, err
	}
	return opFunc(func(ctx context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		parts := make([]*dataset.Dataset, len(plans))
		for i, p := range plans {
			part, err := e.subsearch(ctx, p, ec)
			if err != nil {
				return nil, err
			}
			parts[i] = part
		}
		for _, part := range parts {
			ds.Append(part)
		}
		return ds, nil
	}), nil
}
