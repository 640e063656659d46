package query

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

func compileSearch(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	node, err := querylang.ParseSearch(d.Args)
	if err != nil {
		return nil, argError(d, err)
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		ds.Rows = slices.DeleteFunc(ds.Rows, func(r dataset.Row) bool {
			return !ec.eval.Match(node, r)
		})
		return ds, nil
	}), nil
}

func compileWhere(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	node, err := querylang.ParseExpr(d.Args)
	if err != nil {
		return nil, argError(d, err)
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		keep := make([]bool, len(ds.Rows))
		for i, r := range ds.Rows {
			v, err := ec.eval.EvalVars(node, r, ec.Vars)
			if err != nil {
				return nil, err
			}
			keep[i] = v.Truthy()
		}
		i := 0
		ds.Rows = slices.DeleteFunc(ds.Rows, func(dataset.Row) bool {
			drop := !keep[i]
			i++
			return drop
		})
		return ds, nil
	}), nil
}

func compileFields(e *Engine, d *querylang.Directive, _ int) (op, error) {
	sign, rest := signPrefix(argTokens(d))
	names, err := fieldNames(d, rest)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, argErrorf(d, "expected at least one field")
	}
	if sign == "-" {
		return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
			ds.DropColumns(expandGlobs(names, ds.Columns)...)
			return ds, nil
		}), nil
	}
	return e.selectOp(names), nil
}

func compileTable(e *Engine, d *querylang.Directive, _ int) (op, error) {
	names, err := fieldNames(d, argTokens(d))
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, argErrorf(d, "expected at least one field")
	}
	return e.selectOp(names), nil
}

// selectOp keeps the listed columns in listed order. Missing names are
// logged; selecting no existing column is an error.
func (e *Engine) selectOp(names []string) op {
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		want := expandGlobs(names, ds.Columns)
		if !slices.ContainsFunc(want, ds.HasColumn) {
			return nil, missingColumn(strings.Join(names, ", "))
		}
		if missing := ds.SelectColumns(want...); len(missing) > 0 {
			e.logger.Warn("fields: columns not found", "columns", missing)
		}
		return ds, nil
	})
}

// assignment is one `name = expr` of an eval.
type assignment struct {
	name string
	expr querylang.Node
}

func compileEval(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	var assigns []assignment
	for _, part := range splitCommas(d.Args) {
		if len(part) == 0 {
			continue
		}
		if len(part) < 3 || !isName(part[0]) || part[1].Kind != querylang.TokEq {
			return nil, argErrorf(d, "expected name = expression, got %q", tokensText(part))
		}
		expr, err := querylang.ParseExpr(part[2:])
		if err != nil {
			return nil, argError(d, err)
		}
		assigns = append(assigns, assignment{name: part[0].Lit, expr: expr})
	}
	if len(assigns) == 0 {
		return nil, argErrorf(d, "expected at least one assignment")
	}

	return opFunc(func(_ context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		rows := ds.Rows
		if len(rows) == 0 {
			// Still bind variables so later expressions can read them.
			rows = []dataset.Row{{}}
		}
		updates := make([]dataset.Row, len(rows))
		for i, r := range rows {
			view := dataset.CloneRow(r)
			u := make(dataset.Row, len(assigns))
			for _, a := range assigns {
				v, err := ec.eval.EvalVars(a.expr, view, ec.Vars)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", a.name, err)
				}
				view[a.name] = v
				u[a.name] = v
			}
			updates[i] = u
		}
		for k, v := range updates[len(updates)-1] {
			ec.Vars[k] = v
		}
		if ds.Len() > 0 {
			commitUpdates(ds, updates)
		} else {
			for _, a := range assigns {
				ds.AddColumn(a.name)
			}
		}
		return ds, nil
	}), nil
}

// tokensText renders tokens for error messages.
func tokensText(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.Text()
	}
	return strings.Join(parts, " ")
}

type renamePair struct{ from, to string }

func compileRename(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	toks := argTokens(d)
	var pairs []renamePair
	for i := 0; i < len(toks); {
		if toks[i].Kind == querylang.TokComma {
			i++
			continue
		}
		if i+2 >= len(toks) || !isName(toks[i]) || !isKeyword(toks[i+1], "as") || !isName(toks[i+2]) {
			return nil, argErrorf(d, "expected <field> as <name>")
		}
		pairs = append(pairs, renamePair{from: toks[i].Lit, to: toks[i+2].Lit})
		i += 3
	}
	if len(pairs) == 0 {
		return nil, argErrorf(d, "expected at least one <field> as <name>")
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		cols := slices.Clone(ds.Columns)
		for _, p := range pairs {
			i := slices.Index(cols, p.from)
			if i < 0 {
				return nil, missingColumn(p.from)
			}
			cols[i] = p.to
		}
		for _, p := range pairs {
			if err := ds.RenameColumn(p.from, p.to); err != nil {
				return nil, err
			}
		}
		return ds, nil
	}), nil
}

func compileSort(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	sign, rest := signPrefix(argTokens(d))
	names, err := fieldNames(d, rest)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, argErrorf(d, "expected at least one field")
	}
	desc := sign == "-"
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		for _, n := range names {
			if !ds.HasColumn(n) {
				return nil, missingColumn(n)
			}
		}
		slices.SortStableFunc(ds.Rows, func(a, b dataset.Row) int {
			for _, n := range names {
				if c := sortOrder(a[n], b[n], desc); c != 0 {
					return c
				}
			}
			return 0
		})
		return ds, nil
	}), nil
}

// sortOrder orders two cells for sort. Nulls sort last in both directions.
func sortOrder(a, b querylang.Value, desc bool) int {
	if a.IsNull() || b.IsNull() {
		return querylang.Order(a, b)
	}
	c := querylang.Order(a, b)
	if desc {
		return -c
	}
	return c
}

func compileReverse(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	if len(d.Args) > 0 {
		return nil, argErrorf(d, "takes no arguments")
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		slices.Reverse(ds.Rows)
		return ds, nil
	}), nil
}

const defaultHeadCount = 10

func compileHead(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	n, err := parseCount(d, argTokens(d), defaultHeadCount)
	if err != nil {
		return nil, err
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		ds.Rows = ds.Rows[:min(n, len(ds.Rows))]
		return ds, nil
	}), nil
}

func compileTail(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	n, err := parseCount(d, argTokens(d), defaultHeadCount)
	if err != nil {
		return nil, err
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		ds.Rows = ds.Rows[max(0, len(ds.Rows)-n):]
		return ds, nil
	}), nil
}

func compileDedup(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, toks, err := takeOptions(d, argTokens(d), "consecutive")
	if err != nil {
		return nil, err
	}
	consecutive := false
	if v, ok := opts["consecutive"]; ok {
		if consecutive, err = parseBoolOption(d, "consecutive", v); err != nil {
			return nil, err
		}
	}
	keep := 1
	if len(toks) > 0 && toks[0].Kind == querylang.TokWord {
		if n, err := strconv.Atoi(toks[0].Lit); err == nil {
			if n < 1 {
				return nil, argErrorf(d, "count must be at least 1, got %d", n)
			}
			keep = n
			toks = toks[1:]
		}
	}
	names, err := fieldNames(d, toks)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, argErrorf(d, "expected at least one field")
	}

	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		for _, n := range names {
			if !ds.HasColumn(n) {
				return nil, missingColumn(n)
			}
		}
		var (
			counts = make(map[string]int)
			prev   string
			run    int
			out    = ds.Rows[:0:0]
		)
		for i, r := range ds.Rows {
			key := groupKey(r, names)
			if consecutive {
				if i == 0 || key != prev {
					run = 0
				}
				prev = key
				run++
				if run <= keep {
					out = append(out, r)
				}
				continue
			}
			counts[key]++
			if counts[key] <= keep {
				out = append(out, r)
			}
		}
		ds.Rows = out
		return ds, nil
	}), nil
}

// groupKey builds a map key from the text of the named cells. Null and
// empty text are distinct.
func groupKey(r dataset.Row, names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		v := r[n]
		if v.IsNull() {
			parts[i] = "\x01"
		} else {
			parts[i] = v.AsText()
		}
	}
	return strings.Join(parts, "\x00")
}

func compileFillnull(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, toks, err := takeOptions(d, argTokens(d), "value")
	if err != nil {
		return nil, err
	}
	text, ok := opts["value"]
	if !ok {
		return nil, argErrorf(d, "value= is required")
	}
	fill := literalValue(text)
	names, err := fieldNames(d, toks)
	if err != nil {
		return nil, err
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		cols := ds.Columns
		if len(names) > 0 {
			cols = expandGlobs(names, ds.Columns)
		}
		for _, c := range slices.Clone(cols) {
			ds.AddColumn(c)
			for _, r := range ds.Rows {
				if r[c].IsNull() {
					r[c] = fill
				}
			}
		}
		return ds, nil
	}), nil
}

// literalValue types a directive argument: numbers become numbers.
func literalValue(s string) querylang.Value {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return querylang.NumValue(f)
	}
	return querylang.StrValue(s)
}

func compileBase64(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	toks := argTokens(d)
	if len(toks) < 2 {
		return nil, argErrorf(d, "expected encode|decode followed by fields")
	}
	var fn func(string) (string, error)
	switch strings.ToLower(toks[0].Lit) {
	case "encode":
		fn = func(s string) (string, error) { return base64.StdEncoding.EncodeToString([]byte(s)), nil }
	case "decode":
		fn = decodeBase64
	default:
		return nil, argErrorf(d, "mode must be encode or decode, got %q", toks[0].Text())
	}
	names, err := fieldNames(d, toks[1:])
	if err != nil {
		return nil, err
	}
	return rowFunc(func(r dataset.Row, _ *ExecutionContext) (dataset.Row, error) {
		u := make(dataset.Row, len(names))
		for _, n := range names {
			v, ok := r[n]
			if !ok || v.IsNull() {
				continue
			}
			out, err := mapTextErr(v, fn)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", n, err)
			}
			u[n] = out
		}
		return u, nil
	}), nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return string(b), nil
		}
	}
	return "", fmt.Errorf("invalid base64 %q", s)
}

// mapTextErr applies fn to the text of v, element-wise for lists.
func mapTextErr(v querylang.Value, fn func(string) (string, error)) (querylang.Value, error) {
	if v.Kind != querylang.KindList {
		s, err := fn(v.AsText())
		if err != nil {
			return querylang.Value{}, err
		}
		return querylang.StrValue(s), nil
	}
	out := make([]querylang.Value, len(v.List))
	for i, e := range v.List {
		s, err := fn(e.AsText())
		if err != nil {
			return querylang.Value{}, err
		}
		out[i] = querylang.StrValue(s)
	}
	return querylang.ListValue(out), nil
}

func compileRegex(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	toks := d.Args
	if len(toks) != 4 || !isKeyword(toks[0], "field") ||
		(toks[1].Kind != querylang.TokEq && toks[1].Kind != querylang.TokNeq) ||
		!isName(toks[2]) || !isValue(toks[3]) {
		return nil, argErrorf(d, `expected field=<name> "<regex>" or field!=<name> "<regex>"`)
	}
	negate := toks[1].Kind == querylang.TokNeq
	field := toks[2].Lit
	re, err := querylang.CompileRegex(toks[3].Lit)
	if err != nil {
		return nil, argError(d, err)
	}
	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		if !ds.HasColumn(field) {
			return nil, missingColumn(field)
		}
		ds.Rows = slices.DeleteFunc(ds.Rows, func(r dataset.Row) bool {
			matched := slices.ContainsFunc(r[field].Values(), func(v querylang.Value) bool {
				return re.MatchString(v.AsText())
			})
			return matched == negate
		})
		return ds, nil
	}), nil
}

// columnFuncs are functions that, called on bare fields as a directive,
// aggregate over the whole column and broadcast the result.
var columnFuncs = map[string]bool{
	"min": true, "max": true, "avg": true, "mean": true, "sum": true,
	"range": true, "median": true, "mode": true, "dcount": true,
}

// compileExpression handles a directive with no dedicated handler: the
// whole segment is an expression whose value is written to a column named
// after the segment text.
func compileExpression(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	head := querylang.Token{Kind: querylang.TokWord, Lit: d.Name, Pos: d.Pos, End: d.Pos + len(d.Name)}
	toks := append([]querylang.Token{head}, d.Args...)
	node, err := querylang.ParseExpr(toks)
	if err != nil {
		return nil, argError(d, fmt.Errorf("unknown directive %q: %w", d.Name, err))
	}
	column := renderTokens(toks)

	return opFunc(func(ctx context.Context, ds *dataset.Dataset, ec *ExecutionContext) (*dataset.Dataset, error) {
		if err := resolvable(node, ds, ec); err != nil {
			return nil, err
		}
		if call, ok := node.(*querylang.CallExpr); ok && columnFuncs[call.Name] && allFieldRefs(call.Args) {
			agg := make(querylang.Row, len(call.Args))
			for _, a := range call.Args {
				name := a.(*querylang.FieldRef).Name
				agg[name] = querylang.ListValue(ds.Column(name))
			}
			v, err := ec.eval.EvalVars(node, agg, ec.Vars)
			if err != nil {
				return nil, err
			}
			ds.AddColumn(column)
			for _, r := range ds.Rows {
				r[column] = v
			}
			return ds, nil
		}
		return rowFunc(func(r dataset.Row, ec *ExecutionContext) (dataset.Row, error) {
			v, err := ec.eval.EvalVars(node, r, ec.Vars)
			if err != nil {
				return nil, err
			}
			return dataset.Row{column: v}, nil
		}).apply(ctx, ds, ec)
	}), nil
}

// errUnresolvable is returned when an expression directive names neither a
// function nor a column.
var errUnresolvable = errors.New("name is neither a function nor a column")

// resolvable checks that every call in n names a function and every field
// reference names a column or variable.
func resolvable(n querylang.Node, ds *dataset.Dataset, ec *ExecutionContext) error {
	var err error
	querylang.Walk(n, func(n querylang.Node) bool {
		if err != nil {
			return false
		}
		switch t := n.(type) {
		case *querylang.CallExpr:
			if !ec.eval.HasFunc(t.Name) {
				err = fmt.Errorf("%w: %s", querylang.ErrUnknownFunction, t.Name)
			}
		case *querylang.FieldRef:
			if _, isVar := ec.Vars[t.Name]; !isVar && !ds.HasColumn(t.Name) {
				err = fmt.Errorf("%w: %s", errUnresolvable, t.Name)
			}
		}
		return true
	})
	return err
}

func allFieldRefs(args []querylang.Node) bool {
	if len(args) == 0 {
		return false
	}
	for _, a := range args {
		if _, ok := a.(*querylang.FieldRef); !ok {
			return false
		}
	}
	return true
}
