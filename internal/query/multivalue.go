package query

import (
	"context"
	"strconv"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

const (
	defaultMvDelim  = " "
	defaultZipDelim = "_"
)

// mvArgs reads the leading field of an mv directive and the raw tokens
// after it.
func mvArgs(d *querylang.Directive) (string, []token, error) {
	toks := argTokens(d)
	if len(toks) == 0 || !isName(toks[0]) {
		return "", nil, argErrorf(d, "expected a field")
	}
	return toks[0].Lit, toks[1:], nil
}

func noMoreArgs(d *querylang.Directive, toks []token) error {
	if len(toks) > 0 {
		return argErrorf(d, "unexpected argument %q", toks[0].Text())
	}
	return nil
}

// mapColumn builds an op that rewrites one column cell by cell, writing the
// result to out.
func mapColumn(field, out string, fn func(querylang.Value) querylang.Value) op {
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		if !ds.HasColumn(field) {
			return nil, missingColumn(field)
		}
		updates := make([]dataset.Row, len(ds.Rows))
		for i, row := range ds.Rows {
			updates[i] = dataset.Row{out: fn(row[field])}
		}
		commitUpdates(ds, updates)
		return ds, nil
	})
}

func compileMvexpand(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	field, rest, err := mvArgs(d)
	if err != nil {
		return nil, err
	}
	if err := noMoreArgs(d, rest); err != nil {
		return nil, err
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		if !ds.HasColumn(field) {
			return nil, missingColumn(field)
		}
		out := make([]dataset.Row, 0, len(ds.Rows))
		for _, row := range ds.Rows {
			v := row[field]
			if v.Kind != querylang.KindList {
				out = append(out, row)
				continue
			}
			if len(v.List) == 0 {
				r := dataset.CloneRow(row)
				r[field] = querylang.NullValue()
				out = append(out, r)
				continue
			}
			for _, item := range v.List {
				r := dataset.CloneRow(row)
				r[field] = item
				out = append(out, r)
			}
		}
		ds.Rows = out
		return ds, nil
	}), nil
}

// delimArg reads an optional delimiter given as delim=X or as a bare
// value.
func delimArg(d *querylang.Directive, toks []token, def string) (string, error) {
	opts, rest, err := takeOptions(d, toks, "delim")
	if err != nil {
		return "", err
	}
	delim, ok := opts["delim"]
	switch {
	case ok && len(rest) == 0:
		return delim, nil
	case !ok && len(rest) == 1 && isValue(rest[0]):
		return rest[0].Lit, nil
	case !ok && len(rest) == 0:
		return def, nil
	}
	return "", argErrorf(d, "expected at most one delimiter")
}

func joinCell(v querylang.Value, delim string) querylang.Value {
	if v.Kind != querylang.KindList {
		return v
	}
	return querylang.StrValue(querylang.JoinValues(v.List, delim))
}

func compileMvcombine(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	field, rest, err := mvArgs(d)
	if err != nil {
		return nil, err
	}
	delim, err := delimArg(d, rest, defaultMvDelim)
	if err != nil {
		return nil, err
	}
	return mapColumn(field, field, func(v querylang.Value) querylang.Value {
		return joinCell(v, delim)
	}), nil
}

func compileMvjoin(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	return compileMvcombine(nil, d, 0)
}

func compileMvdedup(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	field, rest, err := mvArgs(d)
	if err != nil {
		return nil, err
	}
	if err := noMoreArgs(d, rest); err != nil {
		return nil, err
	}
	return mapColumn(field, field, func(v querylang.Value) querylang.Value {
		if v.Kind != querylang.KindList {
			return v
		}
		return querylang.ListValue(querylang.Dedup(v.List))
	}), nil
}

func compileMvreverse(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	field, rest, err := mvArgs(d)
	if err != nil {
		return nil, err
	}
	if err := noMoreArgs(d, rest); err != nil {
		return nil, err
	}
	return mapColumn(field, field, func(v querylang.Value) querylang.Value {
		if v.Kind != querylang.KindList {
			return v
		}
		out := make([]querylang.Value, len(v.List))
		for i, item := range v.List {
			out[len(out)-1-i] = item
		}
		return querylang.ListValue(out)
	}), nil
}

// compileMvfilter keeps list elements whose text equals the value, given
// bare or as name=value.
func compileMvfilter(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	toks := d.Args
	if len(toks) == 0 || !isName(toks[0]) {
		return nil, argErrorf(d, "expected a field")
	}
	field := toks[0].Lit
	rest := toks[1:]
	if len(rest) == 3 && rest[1].Kind == querylang.TokEq {
		rest = rest[2:]
	}
	rest = querylang.MergeAdjacent(rest)
	if len(rest) != 1 || !isValue(rest[0]) {
		return nil, argErrorf(d, "expected `field value`")
	}
	want := rest[0].Lit
	return mapColumn(field, field, func(v querylang.Value) querylang.Value {
		if v.Kind != querylang.KindList {
			return v
		}
		var kept []querylang.Value
		for _, item := range v.List {
			if item.AsText() == want {
				kept = append(kept, item)
			}
		}
		return querylang.ListValue(kept)
	}), nil
}

func compileMvcount(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	field, rest, err := mvArgs(d)
	if err != nil {
		return nil, err
	}
	if err := noMoreArgs(d, rest); err != nil {
		return nil, err
	}
	return mapColumn(field, field+"_count", func(v querylang.Value) querylang.Value {
		return querylang.NumValue(float64(len(v.Values())))
	}), nil
}

func compileMvdc(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	field, rest, err := mvArgs(d)
	if err != nil {
		return nil, err
	}
	if err := noMoreArgs(d, rest); err != nil {
		return nil, err
	}
	return mapColumn(field, field+"_dc", func(v querylang.Value) querylang.Value {
		return querylang.NumValue(float64(querylang.DistinctCount(v.Values())))
	}), nil
}

// compileMvfind writes the index of the first element matching a regex,
// or -1.
func compileMvfind(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	field, rest, err := mvArgs(d)
	if err != nil {
		return nil, err
	}
	if len(rest) != 1 || !isValue(rest[0]) {
		return nil, argErrorf(d, "expected `field pattern`")
	}
	re, err := querylang.CompileRegex(rest[0].Lit)
	if err != nil {
		return nil, argError(d, err)
	}
	return mapColumn(field, "mvfind", func(v querylang.Value) querylang.Value {
		for i, item := range v.Values() {
			if re.MatchString(item.AsText()) {
				return querylang.NumValue(float64(i))
			}
		}
		return querylang.NumValue(-1)
	}), nil
}

func compileMvzip(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	var toks []token
	for _, t := range argTokens(d) {
		if t.Kind != querylang.TokComma {
			toks = append(toks, t)
		}
	}
	if len(toks) < 2 || len(toks) > 3 || !isName(toks[0]) || !isName(toks[1]) {
		return nil, argErrorf(d, "expected `field1 field2 [delim]`")
	}
	a, b, delim := toks[0].Lit, toks[1].Lit, defaultZipDelim
	if len(toks) == 3 {
		if !isValue(toks[2]) {
			return nil, argErrorf(d, "expected a delimiter, got %q", toks[2].Text())
		}
		delim = toks[2].Lit
	}
	return rowOp([]string{a, b}, func(row dataset.Row) dataset.Row {
		left, right := row[a].Values(), row[b].Values()
		n := min(len(left), len(right))
		out := make([]querylang.Value, n)
		for i := range n {
			out[i] = querylang.StrValue(left[i].AsText() + delim + right[i].AsText())
		}
		return dataset.Row{"mvzip": querylang.ListValue(out)}
	}), nil
}

// rowOp builds an op over rows that need every named column to exist.
func rowOp(fields []string, fn func(dataset.Row) dataset.Row) op {
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		for _, f := range fields {
			if !ds.HasColumn(f) {
				return nil, missingColumn(f)
			}
		}
		updates := make([]dataset.Row, len(ds.Rows))
		for i, row := range ds.Rows {
			updates[i] = fn(row)
		}
		commitUpdates(ds, updates)
		return ds, nil
	})
}

// compileMvindex picks elements by index into "mvindex". Negative indexes
// count from the end. One index yields a single value, several a list.
func compileMvindex(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	field, rest, err := mvArgs(d)
	if err != nil {
		return nil, err
	}
	var idxs []int
	for _, t := range rest {
		if t.Kind == querylang.TokComma {
			continue
		}
		n, err := strconv.Atoi(t.Lit)
		if err != nil {
			return nil, argErrorf(d, "expected an index, got %q", t.Text())
		}
		idxs = append(idxs, n)
	}
	if len(idxs) == 0 {
		return nil, argErrorf(d, "expected at least one index")
	}
	return mapColumn(field, "mvindex", func(v querylang.Value) querylang.Value {
		items := v.Values()
		var picked []querylang.Value
		for _, i := range idxs {
			if i < 0 {
				i += len(items)
			}
			if i >= 0 && i < len(items) {
				picked = append(picked, items[i])
			}
		}
		if len(idxs) == 1 {
			if len(picked) == 0 {
				return querylang.NullValue()
			}
			return picked[0]
		}
		return querylang.ListValue(picked)
	}), nil
}

// compileMvappend concatenates the named fields into the first one.
func compileMvappend(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	fields, err := fieldNames(d, argTokens(d))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, argErrorf(d, "expected at least one field")
	}
	return rowOp(fields, func(row dataset.Row) dataset.Row {
		var all []querylang.Value
		for _, f := range fields {
			all = append(all, row[f].Values()...)
		}
		return dataset.Row{fields[0]: querylang.ListValue(all)}
	}), nil
}

// compileCoalesce writes the first non-null, non-empty field value to
// "coalesce". Fields are given as `coalesce(a, b)` or `coalesce a b`.
func compileCoalesce(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	toks := d.Args
	if len(toks) >= 2 && toks[0].Kind == querylang.TokLParen && toks[len(toks)-1].Kind == querylang.TokRParen {
		toks = toks[1 : len(toks)-1]
	}
	fields, err := fieldNames(d, querylang.MergeAdjacent(toks))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, argErrorf(d, "expected at least one field")
	}
	return rowOp(fields, func(row dataset.Row) dataset.Row {
		for _, f := range fields {
			if v := row[f]; !v.IsNull() && !v.IsEmpty() {
				return dataset.Row{"coalesce": v}
			}
		}
		return dataset.Row{"coalesce": querylang.NullValue()}
	}), nil
}
