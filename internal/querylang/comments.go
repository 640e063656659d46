package querylang

import "strings"

// StripComments removes comment lines from a query string. A comment line is
// one whose first non-blank character is '#'. The line is blanked out so
// token positions elsewhere are unchanged.
func StripComments(s string) string {
	if !strings.Contains(s, "#") {
		return s
	}
	var buf strings.Builder
	buf.Grow(len(s))

	for i, line := range strings.Split(s, "\n") {
		if i > 0 {
			buf.WriteByte('\n')
		}
		if strings.HasPrefix(strings.TrimLeft(line, " \t\r"), "#") {
			buf.WriteString(strings.Repeat(" ", len(line)))
			continue
		}
		buf.WriteString(line)
	}
	return buf.String()
}
