package query

import (
	"context"
	"math"
	"slices"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
	"speakquery/internal/resolver"
	"speakquery/internal/timeparse"
)

const (
	// TimeColumn holds the bucket start written by timechart.
	TimeColumn = "_time"

	defaultTimechartSpan = "1h"
)

// binValue floors v to a multiple of span. Numbers bin directly; text is
// parsed as a date first. Anything else bins to Null.
func binValue(v querylang.Value, span float64, ec *ExecutionContext) querylang.Value {
	if v.IsNull() {
		return v
	}
	f, ok := v.AsNumber()
	if !ok {
		if v.Kind != querylang.KindText {
			return querylang.NullValue()
		}
		secs, err := timeparse.Parse(v.Str, ec.Now)
		if err != nil {
			return querylang.NullValue()
		}
		f = float64(secs)
	}
	return querylang.NumValue(math.Floor(f/span) * span)
}

func parseSpanOption(d *querylang.Directive, opts map[string]string, def string) (float64, error) {
	s, ok := opts["span"]
	if !ok {
		if def == "" {
			return 0, argErrorf(d, "span= is required")
		}
		s = def
	}
	span, err := timeparse.ParseSpan(s)
	if err != nil {
		return 0, argError(d, err)
	}
	return span, nil
}

func compileBin(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, toks, err := takeOptions(d, argTokens(d), "span")
	if err != nil {
		return nil, err
	}
	span, err := parseSpanOption(d, opts, "")
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 || !isName(toks[0]) {
		return nil, argErrorf(d, "expected a field")
	}
	field, alias := toks[0].Lit, toks[0].Lit
	switch {
	case len(toks) == 1:
	case len(toks) == 3 && isKeyword(toks[1], "as") && isName(toks[2]):
		alias = toks[2].Lit
	default:
		return nil, argErrorf(d, "expected `field [as alias]`, got %q", tokensText(toks))
	}

	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		if !ds.HasColumn(field) {
			return nil, missingColumn(field)
		}
		updates := make([]dataset.Row, len(ds.Rows))
		for i, row := range ds.Rows {
			updates[i] = dataset.Row{alias: binValue(row[field], span, ec)}
		}
		commitUpdates(ds, updates)
		return ds, nil
	}), nil
}

// timeSource picks the column timechart buckets on.
func timeSource(ds *dataset.Dataset) (string, bool) {
	for _, c := range []string{TimeColumn, resolver.EpochColumn} {
		if ds.HasColumn(c) {
			return c, true
		}
	}
	return "", false
}

// compileTimechart compiles `timechart [span=S] agg... [by field]`: stats
// over rows bucketed by time, bucket first.
func compileTimechart(e *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, rest, err := takeOptions(d, d.Args, "span")
	if err != nil {
		return nil, err
	}
	span, err := parseSpanOption(d, opts, defaultTimechartSpan)
	if err != nil {
		return nil, err
	}
	clause, err := parseAggClause(d, rest)
	if err != nil {
		return nil, err
	}
	if len(clause.by) > 1 {
		return nil, argErrorf(d, "at most one split-by field")
	}
	binned := &aggClause{specs: clause.specs, by: append([]string{TimeColumn}, clause.by...)}

	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		src, ok := timeSource(ds)
		if !ok {
			return nil, missingColumn(TimeColumn)
		}
		view := ds.Clone()
		view.AddColumn(TimeColumn)
		for _, row := range view.Rows {
			row[TimeColumn] = binValue(row[src], span, ec)
		}
		out, err := e.stats(view, binned, ec)
		if err != nil {
			return nil, err
		}
		slices.SortStableFunc(out.Rows, func(a, b dataset.Row) int {
			return sortOrder(a[TimeColumn], b[TimeColumn], false)
		})
		return out, nil
	}), nil
}
