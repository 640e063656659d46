package query

import (
	"context"
	"regexp"
	"strings"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

const (
	defaultRexField = "_raw"
	rexSuffix       = "_rex"
)

var sedBackref = regexp.MustCompile(`\\(\d)`)

// compileRex compiles
//
//	rex [field=F] [max_match=N] "<regex>"
//	rex [field=F] mode=sed "s/<regex>/<replacement>/[g]"
//
// Extraction matches case-insensitively with . matching newlines. Each
// named group becomes a column; a group whose name is already a column
// is written to name_rex. max_match=0 means every match.
func compileRex(_ *Engine, d *querylang.Directive, _ int) (op, error) {
	opts, rest, err := takeOptions(d, argTokens(d), "field", "max_match", "mode")
	if err != nil {
		return nil, err
	}
	if len(rest) != 1 || !isValue(rest[0]) {
		return nil, argErrorf(d, "expected one quoted pattern")
	}
	pattern := rest[0].Lit
	field := defaultRexField
	if f, ok := opts["field"]; ok {
		field = f
	}

	switch mode := strings.ToLower(opts["mode"]); mode {
	case "", "regex":
	case "sed":
		if _, ok := opts["max_match"]; ok {
			return nil, argErrorf(d, "max_match does not apply to mode=sed")
		}
		return compileSed(d, field, pattern)
	default:
		return nil, argErrorf(d, "unknown mode %q", mode)
	}

	maxMatch := 1
	if v, ok := opts["max_match"]; ok {
		if maxMatch, err = parseIntOption(d, "max_match", v); err != nil {
			return nil, err
		}
		if maxMatch < 0 {
			return nil, argErrorf(d, "max_match must not be negative, got %d", maxMatch)
		}
	}
	re, err := querylang.CompileRegex("(?is)" + pattern)
	if err != nil {
		return nil, argError(d, err)
	}
	var groups []string
	for _, name := range re.SubexpNames() {
		if name != "" {
			groups = append(groups, name)
		}
	}
	if len(groups) == 0 {
		return nil, argErrorf(d, "pattern has no named groups")
	}

	return opFunc(func(_ context.Context, ds *dataset.Dataset, _ *ExecutionContext) (*dataset.Dataset, error) {
		if !ds.HasColumn(field) {
			return nil, missingColumn(field)
		}
		targets := make(map[string]string, len(groups))
		for _, g := range groups {
			targets[g] = g
			if ds.HasColumn(g) {
				targets[g] = g + rexSuffix
			}
		}
		for _, g := range groups {
			ds.AddColumn(targets[g])
		}
		limit := maxMatch
		if limit == 0 {
			limit = -1
		}
		updates := make([]dataset.Row, len(ds.Rows))
		for i, row := range ds.Rows {
			u := make(dataset.Row, len(groups))
			matches := re.FindAllStringSubmatch(row[field].AsText(), limit)
			for _, g := range groups {
				idx := re.SubexpIndex(g)
				var vals []querylang.Value
				for _, m := range matches {
					vals = append(vals, querylang.StrValue(m[idx]))
				}
				switch {
				case len(vals) == 0:
					u[targets[g]] = querylang.NullValue()
				case maxMatch == 1:
					u[targets[g]] = vals[0]
				default:
					u[targets[g]] = querylang.ListValue(vals)
				}
			}
			if row[field].IsNull() {
				for _, g := range groups {
					u[targets[g]] = querylang.NullValue()
				}
			}
			updates[i] = u
		}
		commitUpdates(ds, updates)
		return ds, nil
	}), nil
}

// sedExpr is a parsed s/regex/replacement/flags expression.
type sedExpr struct {
	re     *regexp.Regexp
	repl   string
	global bool
}

// parseSed parses s/<regex>/<replacement>/<flags>. A slash inside the
// regex or replacement is escaped as \/.
func parseSed(expr string) (*sedExpr, bool) {
	if !strings.HasPrefix(expr, "s/") {
		return nil, false
	}
	var (
		parts []string
		cur   strings.Builder
	)
	body := expr[2:]
	for i := 0; i < len(body); i++ {
		switch {
		case body[i] == '\\' && i+1 < len(body) && body[i+1] == '/':
			cur.WriteByte('/')
			i++
		case body[i] == '/':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(body[i])
		}
	}
	parts = append(parts, cur.String())
	if len(parts) != 3 {
		return nil, false
	}
	flags := parts[2]
	if strings.Trim(flags, "gi") != "" {
		return nil, false
	}
	pattern := parts[0]
	if strings.Contains(flags, "i") {
		pattern = "(?i)" + pattern
	}
	re, err := querylang.CompileRegex(pattern)
	if err != nil {
		return nil, false
	}
	return &sedExpr{
		re:     re,
		repl:   sedBackref.ReplaceAllString(parts[1], `$${$1}`),
		global: strings.Contains(flags, "g"),
	}, true
}

func (s *sedExpr) apply(text string) string {
	if s.global {
		return s.re.ReplaceAllString(text, s.repl)
	}
	loc := s.re.FindStringSubmatchIndex(text)
	if loc == nil {
		return text
	}
	var out []byte
	out = append(out, text[:loc[0]]...)
	out = s.re.ExpandString(out, s.repl, text, loc)
	return string(append(out, text[loc[1]:]...))
}

func compileSed(d *querylang.Directive, field, expr string) (op, error) {
	sed, ok := parseSed(expr)
	if !ok {
		return nil, argErrorf(d, "invalid sed expression %q", expr)
	}
	return mapColumn(field, field, func(v querylang.Value) querylang.Value {
		if v.IsNull() {
			return v
		}
		return mapText(v, sed.apply)
	}), nil
}

// mapText applies fn to text cells and to each element of a list.
func mapText(v querylang.Value, fn func(string) string) querylang.Value {
	out, _ := mapTextErr(v, func(s string) (string, error) { return fn(s), nil })
	return out
}
