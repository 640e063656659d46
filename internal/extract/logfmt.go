package extract

import "strings"

// LogfmtPairs parses text as logfmt:
//
//	pair  := key '=' value | key '=' | key
//	key   := ident
//	value := ident | '"' quoted '"'
//	ident := bytes > ' ' other than '=' and '"'
//
// A bare key yields "true"; a key with an empty value is dropped. Text
// that opens like JSON or XML, or has no '=', is not logfmt.
func LogfmtPairs(text string) []Pair {
	return logfmt(text, true)
}

// logfmtAssignments is LogfmtPairs without bare keys.
func logfmtAssignments(text string) []Pair {
	return logfmt(text, false)
}

func logfmt(text string, bare bool) []Pair {
	if !looksLikeLogfmt(text) {
		return nil
	}
	var (
		pairs []Pair
		seen  = make(map[string]struct{})
	)
	for i := 0; i < len(text); {
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		start := i
		for i < len(text) && isIdentByte(text[i]) {
			i++
		}
		key := text[start:i]
		if key == "" {
			i++
			continue
		}
		if i >= len(text) || text[i] != '=' {
			if bare {
				pairs = appendPair(pairs, seen, key, "true")
			}
			continue
		}
		i++
		if i >= len(text) || isSpace(text[i]) {
			continue
		}
		var value string
		if text[i] == '"' {
			value, i = quotedValue(text, i+1)
		} else {
			start := i
			for i < len(text) && isIdentByte(text[i]) {
				i++
			}
			value = text[start:i]
		}
		if value != "" {
			pairs = appendPair(pairs, seen, key, value)
		}
	}
	return pairs
}

func looksLikeLogfmt(text string) bool {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if trimmed == "" || strings.IndexByte("{[<", trimmed[0]) >= 0 {
		return false
	}
	return strings.IndexByte(text, '=') >= 0
}

// quotedValue reads a quoted value starting just after the opening quote
// and returns it with the index after the closing quote. \" and \\ are
// unescaped.
func quotedValue(text string, i int) (string, int) {
	var b strings.Builder
	for i < len(text) && text[i] != '"' {
		if text[i] == '\\' && i+1 < len(text) && (text[i+1] == '"' || text[i+1] == '\\') {
			i++
		}
		b.WriteByte(text[i])
		i++
	}
	if i < len(text) {
		i++
	}
	return b.String(), i
}

func isIdentByte(c byte) bool {
	return c > ' ' && c != '=' && c != '"'
}
