package query

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"speakquery/internal/dataset"
	"speakquery/internal/jobstore"
	"speakquery/internal/lookup"
	"speakquery/internal/querylang"
)

// lookupConcurrency bounds parallel table lookups within one directive.
const lookupConcurrency = 8

func (e *Engine) lookups() (*lookup.Registry, error) {
	if e.cfg.Lookups == nil {
		return nil, fmt.Errorf("lookup registry: %w", ErrNotConfigured)
	}
	return e.cfg.Lookups, nil
}

// compileLookup compiles `lookup <table> <field> [as <key>] [OUTPUT f...]`.
// key names the table column matched against field and defaults to field.
// Without OUTPUT every table field is written.
func compileLookup(e *Engine, d *querylang.Directive, _ int) (op, error) {
	toks := argTokens(d)
	if len(toks) < 2 || !isName(toks[0]) || !isName(toks[1]) {
		return nil, argErrorf(d, "expected `table field [as key] [OUTPUT field...]`")
	}
	name, field, key := toks[0].Lit, toks[1].Lit, toks[1].Lit
	rest := toks[2:]
	if len(rest) >= 1 && isKeyword(rest[0], "as") {
		if len(rest) < 2 || !isName(rest[1]) {
			return nil, argErrorf(d, "expected a key column after as")
		}
		key = rest[1].Lit
		rest = rest[2:]
	}
	var outputs []string
	if len(rest) > 0 {
		if !isKeyword(rest[0], "output") {
			return nil, argErrorf(d, "unexpected argument %q", rest[0].Text())
		}
		names, err := fieldNames(d, rest[1:])
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, argErrorf(d, "expected fields after OUTPUT")
		}
		outputs = names
	}

	return opFunc(func(ctx context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		reg, err := e.lookups()
		if err != nil {
			return nil, err
		}
		if !ds.HasColumn(field) {
			return nil, missingColumn(field)
		}
		t, err := reg.Table(ctx, name, key)
		if err != nil {
			return nil, err
		}
		fields := outputs
		if fields == nil {
			fields = t.Fields()
		}
		for _, f := range fields {
			if !slices.Contains(t.Fields(), f) {
				return nil, fmt.Errorf("table %s has no field %q", name, f)
			}
		}

		results, err := lookupAll(ctx, t, ds.Column(field))
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			ds.AddColumn(lookup.OutputColumn(t, field, f))
		}
		for _, row := range ds.Rows {
			res := results[lookupKey(row[field])]
			for _, f := range fields {
				v, ok := res[f]
				if !ok {
					v = querylang.NullValue()
				}
				row[lookup.OutputColumn(t, field, f)] = v
			}
		}
		return ds, nil
	}), nil
}

func lookupKey(v querylang.Value) string {
	if v.IsNull() {
		return "\x01"
	}
	return v.AsText()
}

// lookupAll looks up each distinct key once, in parallel.
func lookupAll(ctx context.Context, t lookup.Table, keys []querylang.Value) (map[string]map[string]querylang.Value, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]map[string]querylang.Value)
		seen    = make(map[string]bool)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for _, k := range keys {
		text := lookupKey(k)
		if k.IsNull() || seen[text] {
			continue
		}
		seen[text] = true
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := t.Lookup(gctx, k)
			mu.Lock()
			results[text] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// singleName reads the one file or id argument of a directive.
func singleName(d *querylang.Directive, toks []token, what string) (string, error) {
	if len(toks) != 1 || !isValue(toks[0]) {
		return "", argErrorf(d, "expected one %s", what)
	}
	return toks[0].Lit, nil
}

// compileInputlookup loads a lookup file. As a source it yields the file;
// mid-pipeline the file rows are appended.
func compileInputlookup(e *Engine, d *querylang.Directive, _ int) (op, error) {
	name, err := singleName(d, argTokens(d), "lookup file")
	if err != nil {
		return nil, err
	}
	return opFunc(func(ctx context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		reg, err := e.lookups()
		if err != nil {
			return nil, err
		}
		data, err := reg.Dataset(ctx, name)
		if err != nil {
			return nil, err
		}
		ds.Append(data)
		return ds, nil
	}), nil
}

// outputMode says what outputlookup does to an existing file.
type outputMode struct {
	append, overwrite, overwriteIfEmpty bool
}

// compileOutputlookup compiles
//
//	outputlookup [append=B] [overwrite=B] [overwrite_if_empty=B] <file>
//
// A new file is always written. An existing file is extended (append),
// replaced (overwrite), or, when neither is set, replaced or deleted for
// an empty result if overwrite_if_empty is true and left alone otherwise.
// The dataset passes through unchanged.
func compileOutputlookup(e *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, rest, err := takeOptions(d, argTokens(d), "append", "overwrite", "overwrite_if_empty")
	if err != nil {
		return nil, err
	}
	mode := outputMode{overwriteIfEmpty: true}
	for key, dst := range map[string]*bool{
		"append":             &mode.append,
		"overwrite":          &mode.overwrite,
		"overwrite_if_empty": &mode.overwriteIfEmpty,
	} {
		if v, ok := opts[key]; ok {
			if *dst, err = parseBoolOption(d, key, v); err != nil {
				return nil, err
			}
		}
	}
	if mode.append && mode.overwrite {
		return nil, argErrorf(d, "append and overwrite are mutually exclusive")
	}
	name, err := singleName(d, rest, "lookup file")
	if err != nil {
		return nil, err
	}

	return opFunc(func(ctx context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		reg, err := e.lookups()
		if err != nil {
			return nil, err
		}
		if err := writeLookup(ctx, reg, name, ds, mode); err != nil {
			return nil, err
		}
		e.logger.Debug("lookup written", "name", name, "rows", ds.Len())
		return ds, nil
	}), nil
}

func writeLookup(ctx context.Context, reg *lookup.Registry, name string, ds *dataset.Dataset, mode outputMode) error {
	if !reg.Exists(name) {
		return reg.Write(name, ds)
	}
	switch {
	case mode.append:
		existing, err := reg.Dataset(ctx, name)
		if err != nil {
			return err
		}
		existing.Append(ds)
		return reg.Write(name, existing)
	case mode.overwrite:
		return reg.Write(name, ds)
	case !mode.overwriteIfEmpty:
		return nil
	case ds.Empty():
		return reg.Remove(name)
	default:
		return reg.Write(name, ds)
	}
}

// compileLoadjob loads a saved job result. As a source it yields the
// result; mid-pipeline the rows are appended.
func compileLoadjob(e *Engine, d *querylang.Directive, _ int) (op, error) {
	text, err := singleName(d, argTokens(d), "job id")
	if err != nil {
		return nil, err
	}
	id, err := jobstore.ParseID(strings.TrimSpace(text))
	if err != nil {
		return nil, argError(d, err)
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		if e.cfg.Jobs == nil {
			return nil, fmt.Errorf("job store: %w", ErrNotConfigured)
		}
		data, err := e.cfg.Jobs.Load(id)
		if err != nil {
			return nil, err
		}
		ds.Append(data)
		return ds, nil
	}), nil
}
