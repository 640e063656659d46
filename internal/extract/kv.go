package extract

import "strings"

// KeyValues finds key=value pairs embedded in free text, such as
// "request failed status=500 method=GET".
//
// Keys are dotted identifiers ([A-Za-z_][A-Za-z0-9_]* joined by '.') that
// start the text or follow whitespace or punctuation. Values run to the
// next whitespace or closing delimiter. Values that look like structured
// data (quotes, brackets, '=' or '&') are skipped; LogfmtPairs handles
// quoted values.
func KeyValues(text string) []Pair {
	var (
		pairs []Pair
		seen  = make(map[string]struct{})
	)
	for i := 0; i < len(text); {
		eq := strings.IndexByte(text[i:], '=')
		if eq < 0 {
			break
		}
		eq += i
		start := keyStart(text, eq)
		if start < 0 || !validKey(text[start:eq]) {
			i = eq + 1
			continue
		}
		end := eq + 1
		for end < len(text) && !isSpace(text[end]) && !closesValue(text[end]) {
			end++
		}
		if value := text[eq+1 : end]; validValue(value) {
			pairs = appendPair(pairs, seen, text[start:eq], value)
		}
		i = max(end, eq+1)
	}
	return pairs
}

// keyStart scans back from the '=' at eq to the start of the key, or
// returns -1 when the key is glued to a preceding word.
func keyStart(text string, eq int) int {
	start := eq
	for start > 0 && isKeyByte(text[start-1]) {
		start--
	}
	if start == eq {
		return -1
	}
	if start > 0 && !opensKey(text[start-1]) {
		return -1
	}
	return start
}

func validKey(key string) bool {
	for _, seg := range strings.Split(key, ".") {
		if seg == "" || !(isLetter(seg[0]) || seg[0] == '_') {
			return false
		}
		for i := 1; i < len(seg); i++ {
			if c := seg[i]; !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}
	return true
}

func validValue(v string) bool {
	return v != "" && !strings.ContainsAny(v, `{}[]"'=&`)
}

func isKeyByte(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_' || c == '.'
}

func opensKey(c byte) bool {
	return isSpace(c) || strings.IndexByte(",;:()[]{}", c) >= 0
}

func closesValue(c byte) bool {
	return strings.IndexByte(",;)]}", c) >= 0
}
