package query

import (
	"strconv"
	"strings"

	"speakquery/internal/querylang"
)

type token = querylang.Token

// argTokens returns the directive arguments with adjacent bare tokens
// merged, so paths, spans and signed numbers arrive as single words.
func argTokens(d *querylang.Directive) []token {
	return querylang.MergeAdjacent(d.Args)
}

// splitCommas splits toks at commas outside parentheses.
func splitCommas(toks []token) [][]token {
	var (
		parts [][]token
		start int
		depth int
	)
	for i, t := range toks {
		switch t.Kind {
		case querylang.TokLParen:
			depth++
		case querylang.TokRParen:
			depth--
		case querylang.TokComma:
			if depth == 0 {
				parts = append(parts, toks[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, toks[start:])
}

// isName reports whether t can name a field or file.
func isName(t token) bool {
	return t.Kind == querylang.TokWord || t.Kind == querylang.TokString
}

// isKeyword reports whether t is the bare word kw, case-insensitively.
func isKeyword(t token, kw string) bool {
	return t.Kind == querylang.TokWord && strings.EqualFold(t.Lit, kw)
}

// takeOptions removes key=value pairs for the given keys from toks.
// Keys match case-insensitively and are returned lowercased.
func takeOptions(d *querylang.Directive, toks []token, keys ...string) (map[string]string, []token, error) {
	opts := make(map[string]string)
	rest := make([]token, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != querylang.TokWord || i+1 >= len(toks) || toks[i+1].Kind != querylang.TokEq {
			rest = append(rest, t)
			continue
		}
		key := strings.ToLower(t.Lit)
		known := false
		for _, k := range keys {
			if k == key {
				known = true
				break
			}
		}
		if !known {
			rest = append(rest, t)
			continue
		}
		if i+2 >= len(toks) || !isValue(toks[i+2]) {
			return nil, nil, argErrorf(d, "missing value for %s=", key)
		}
		if _, dup := opts[key]; dup {
			return nil, nil, argErrorf(d, "option %s given twice", key)
		}
		opts[key] = toks[i+2].Lit
		i += 2
	}
	return opts, rest, nil
}

func isValue(t token) bool {
	switch t.Kind {
	case querylang.TokWord, querylang.TokString, querylang.TokRaw:
		return true
	}
	return false
}

// fieldNames reads a list of field names separated by spaces or commas.
func fieldNames(d *querylang.Directive, toks []token) ([]string, error) {
	var names []string
	for _, t := range toks {
		switch {
		case t.Kind == querylang.TokComma:
		case isName(t):
			names = append(names, t.Lit)
		default:
			return nil, argErrorf(d, "expected a field name, got %q", t.Text())
		}
	}
	return names, nil
}

func parseBoolOption(d *querylang.Directive, key, s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "t", "1", "yes":
		return true, nil
	case "false", "f", "0", "no":
		return false, nil
	}
	return false, argErrorf(d, "%s must be true or false, got %q", key, s)
}

func parseIntOption(d *querylang.Directive, key, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, argErrorf(d, "%s must be an integer, got %q", key, s)
	}
	return n, nil
}

// parseCount parses an optional leading row count such as head's n.
// It returns def when toks is empty.
func parseCount(d *querylang.Directive, toks []token, def int) (int, error) {
	switch len(toks) {
	case 0:
		return def, nil
	case 1:
		n, err := strconv.Atoi(toks[0].Lit)
		if err != nil || toks[0].Kind != querylang.TokWord {
			return 0, argErrorf(d, "expected a row count, got %q", toks[0].Text())
		}
		if n < 1 {
			return 0, argErrorf(d, "row count must be at least 1, got %d", n)
		}
		return n, nil
	default:
		return 0, argErrorf(d, "expected at most one row count")
	}
}

// signPrefix strips a leading + or - from a field list. A sign may be its
// own token or glued to the first name. desc is true for -.
func signPrefix(toks []token) (sign string, rest []token) {
	if len(toks) == 0 {
		return "", toks
	}
	first := toks[0]
	switch {
	case first.Kind == querylang.TokPlus || first.Kind == querylang.TokMinus:
		return first.Lit, toks[1:]
	case first.Kind == querylang.TokWord && len(first.Lit) > 1 && (first.Lit[0] == '+' || first.Lit[0] == '-'):
		trimmed := first
		trimmed.Lit = first.Lit[1:]
		return first.Lit[:1], append([]token{trimmed}, toks[1:]...)
	}
	return "", toks
}

// expandGlobs expands names containing * against columns, keeping order
// and dropping duplicates. Plain names pass through even when missing.
func expandGlobs(names, columns []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, n := range names {
		if !querylang.IsGlob(n) {
			add(n)
			continue
		}
		for _, c := range columns {
			if querylang.GlobMatch(n, c) {
				add(c)
			}
		}
	}
	return out
}
