package query

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"speakquery/internal/querylang"
)

// maxMacroDepth bounds macros expanding into other macros.
const maxMacroDepth = 10

// Macro expands call arguments into pipeline text. Named arguments are
// keyed by name, positional ones by their 1-based position.
type Macro func(args map[string]string) (string, error)

// errMissingArgument is returned by macros called without a required
// argument.
var errMissingArgument = errors.New("missing macro argument")

var placeholder = regexp.MustCompile(`\$(\w+)\$`)

// textMacro returns a Macro that substitutes $name$ placeholders in body.
func textMacro(body string) Macro {
	return func(args map[string]string) (string, error) {
		var missing []string
		out := placeholder.ReplaceAllStringFunc(body, func(m string) string {
			name := m[1 : len(m)-1]
			v, ok := args[name]
			if !ok {
				missing = append(missing, name)
				return m
			}
			return v
		})
		if len(missing) > 0 {
			return "", fmt.Errorf("%w: %s", errMissingArgument, strings.Join(missing, ", "))
		}
		return out, nil
	}
}

func builtinMacros() map[string]Macro {
	return map[string]Macro{
		"top":  frequencyMacro("-"),
		"rare": frequencyMacro("+"),
	}
}

// frequencyMacro builds top and rare: the n most (or least) frequent values
// of field.
func frequencyMacro(order string) Macro {
	return func(args map[string]string) (string, error) {
		field := argOr(args, "field", "1", "")
		if field == "" {
			return "", fmt.Errorf("%w: field", errMissingArgument)
		}
		n := argOr(args, "n", "2", strconv.Itoa(defaultHeadCount))
		if v, err := strconv.Atoi(n); err != nil || v < 1 {
			return "", fmt.Errorf("n must be a positive integer, got %q", n)
		}
		return fmt.Sprintf("stats count by %s | sort %s count | head %s", quoteField(field), order, n), nil
	}
}

func argOr(args map[string]string, name, pos, def string) string {
	if v, ok := args[name]; ok {
		return v
	}
	if v, ok := args[pos]; ok {
		return v
	}
	return def
}

// quoteField quotes a field name that would not lex as a single word.
func quoteField(s string) string {
	toks, err := querylang.Tokenize(s)
	if err == nil && len(toks) == 2 && toks[0].Kind == querylang.TokWord {
		return s
	}
	return strconv.Quote(s)
}

// parseMacroCall parses the text of a backtick literal: name or
// name(arg, key=value, ...).
func parseMacroCall(text string) (string, map[string]string, error) {
	toks, err := querylang.Tokenize(text)
	if err != nil {
		return "", nil, err
	}
	toks = toks[:len(toks)-1]
	if len(toks) == 0 || toks[0].Kind != querylang.TokWord {
		return "", nil, fmt.Errorf("invalid macro call %q", text)
	}
	name := strings.ToLower(toks[0].Lit)
	args := make(map[string]string)
	if len(toks) == 1 {
		return name, args, nil
	}
	if toks[1].Kind != querylang.TokLParen || toks[len(toks)-1].Kind != querylang.TokRParen {
		return "", nil, fmt.Errorf("invalid macro call %q", text)
	}
	inner := toks[2 : len(toks)-1]
	if len(inner) == 0 {
		return name, args, nil
	}
	for i, part := range splitCommas(querylang.MergeAdjacent(inner)) {
		switch {
		case len(part) == 1 && isValue(part[0]):
			args[strconv.Itoa(i+1)] = part[0].Lit
		case len(part) == 3 && isName(part[0]) && part[1].Kind == querylang.TokEq && isValue(part[2]):
			if _, dup := args[part[0].Lit]; dup {
				return "", nil, fmt.Errorf("macro argument %s given twice", part[0].Lit)
			}
			args[part[0].Lit] = part[2].Lit
		default:
			return "", nil, fmt.Errorf("invalid macro argument %q", tokensText(part))
		}
	}
	return name, args, nil
}

// expandMacro expands a macro directive into the directives of its body.
func (e *Engine) expandMacro(d *querylang.Directive, depth int) ([]*querylang.Directive, error) {
	if depth >= maxMacroDepth {
		return nil, argError(d, ErrMacroDepth)
	}
	if len(d.Args) != 1 {
		return nil, argErrorf(d, "invalid macro call")
	}
	name, args, err := parseMacroCall(d.Args[0].Lit)
	if err != nil {
		return nil, argError(d, err)
	}
	m, ok := e.macros[name]
	if !ok {
		return nil, argError(d, fmt.Errorf("%w: %s", ErrUnknownMacro, name))
	}
	text, err := m(args)
	if err != nil {
		return nil, argError(d, fmt.Errorf("macro %s: %w", name, err))
	}
	q, err := querylang.ParsePipeline(text)
	if err != nil {
		return nil, argError(d, fmt.Errorf("macro %s: %w", name, err))
	}
	e.logger.Debug("macro expanded", "macro", name, "pipeline", q.String())
	return q.Directives, nil
}
