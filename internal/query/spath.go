package query

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"
	"github.com/theory/jsonpath"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

const defaultSpathInput = "_raw"

// arraySuffix matches the {} or {N} array step of a dotted path segment.
var arraySuffix = regexp.MustCompile(`\{(-?\d*)\}$`)

// toJSONPath converts a dotted path such as a.b{}.c or a{0} into a JSONPath
// query. Paths that already start with $ are returned unchanged.
func toJSONPath(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	var sb strings.Builder
	sb.WriteString("$")
	for _, seg := range strings.Split(path, ".") {
		var steps []string
		for {
			m := arraySuffix.FindStringSubmatchIndex(seg)
			if m == nil {
				break
			}
			idx := seg[m[2]:m[3]]
			if idx == "" {
				idx = "*"
			}
			steps = append([]string{"[" + idx + "]"}, steps...)
			seg = seg[:m[0]]
		}
		if seg != "" {
			sb.WriteString("[" + strconv.Quote(seg) + "]")
		}
		for _, s := range steps {
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// compileSpath compiles
//
//	spath [input=F] [output=O] [path=P]
//	spath F P
//
// The path may be JSONPath or dotted. Without a path, every top-level key
// of the document becomes a column, or the whole document goes to output.
func compileSpath(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, rest, err := takeOptions(d, argTokens(d), "input", "output", "path")
	if err != nil {
		return nil, err
	}
	input, output, path := defaultSpathInput, opts["output"], opts["path"]
	if v, ok := opts["input"]; ok {
		input = v
	}
	switch {
	case len(rest) == 0:
	case len(rest) == 2 && len(opts) == 0 && isName(rest[0]) && isValue(rest[1]):
		input, path = rest[0].Lit, rest[1].Lit
	case len(rest) == 1 && path == "" && isValue(rest[0]):
		path = rest[0].Lit
	default:
		return nil, argErrorf(d, "unexpected argument %q", rest[0].Text())
	}

	var jp *jsonpath.Path
	if path != "" {
		if jp, err = jsonpath.Parse(toJSONPath(path)); err != nil {
			return nil, argError(d, err)
		}
		if output == "" {
			output = path
		}
	}

	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		if !ds.HasColumn(input) {
			return nil, missingColumn(input)
		}
		updates := make([]dataset.Row, len(ds.Rows))
		for i, row := range ds.Rows {
			doc, ok := parseDocument(row[input])
			switch {
			case jp != nil:
				v := querylang.NullValue()
				if ok {
					v = selectValue(jp, doc)
				}
				updates[i] = dataset.Row{output: v}
			case output != "":
				v := querylang.NullValue()
				if ok {
					v = querylang.FromAny(doc)
				}
				updates[i] = dataset.Row{output: v}
			default:
				u := dataset.Row{}
				if obj, isObj := doc.(map[string]any); ok && isObj {
					for k, x := range obj {
						u[k] = querylang.FromAny(x)
					}
				}
				updates[i] = u
			}
		}
		commitUpdates(ds, updates)
		return ds, nil
	}), nil
}

// parseDocument decodes a JSON text cell.
func parseDocument(v querylang.Value) (any, bool) {
	if v.Kind != querylang.KindText {
		return nil, false
	}
	doc, err := oj.ParseString(v.Str)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// selectValue evaluates jp against doc. One node yields its value, several
// a list, none Null.
func selectValue(jp *jsonpath.Path, doc any) querylang.Value {
	nodes := jp.Select(doc)
	switch len(nodes) {
	case 0:
		return querylang.NullValue()
	case 1:
		return querylang.FromAny(nodes[0])
	}
	vals := make([]querylang.Value, len(nodes))
	for i, n := range nodes {
		vals[i] = querylang.FromAny(n)
	}
	return querylang.ListValue(vals)
}
