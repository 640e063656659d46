package query

import (
	"context"

	"speakquery/internal/dataset"
	"speakquery/internal/extract"
	"speakquery/internal/querylang"
)

// compileExtract compiles `extract [field=F] [mode=auto|kv|logfmt|accesslog]`.
//
// Every key found in field (default _raw) becomes a text column. Columns
// that existed before the directive ran are never overwritten. Rows
// without a pair for a new column get Null.
func compileExtract(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, rest, err := takeOptions(d, argTokens(d), "field", "mode")
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, argErrorf(d, "unexpected argument %q", rest[0].Text())
	}
	field := defaultRexField
	if f, ok := opts["field"]; ok {
		field = f
	}
	mode := extract.Auto
	if m, ok := opts["mode"]; ok {
		if mode, err = extract.ParseMode(m); err != nil {
			return nil, argError(d, err)
		}
	}

	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		if !ds.HasColumn(field) {
			return nil, missingColumn(field)
		}
		var (
			updates = make([]dataset.Row, len(ds.Rows))
			added   []string
			isNew   = make(map[string]bool)
		)
		for i, row := range ds.Rows {
			u := make(dataset.Row)
			if v := row[field]; !v.IsNull() {
				for _, p := range extract.Extract(mode, v.AsText()) {
					if ds.HasColumn(p.Key) && !isNew[p.Key] {
						continue
					}
					if !isNew[p.Key] {
						isNew[p.Key] = true
						added = append(added, p.Key)
					}
					u[p.Key] = querylang.StrValue(p.Value)
				}
			}
			updates[i] = u
		}
		for _, name := range added {
			ds.AddColumn(name)
		}
		commitUpdates(ds, updates)
		return ds, nil
	}), nil
}
