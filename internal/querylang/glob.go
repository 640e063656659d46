package querylang

import (
	"regexp"
	"strings"
	"sync"
)

var globCache sync.Map // pattern -> *regexp.Regexp

// IsGlob reports whether a search literal contains a wildcard.
func IsGlob(s string) bool {
	return strings.Contains(s, "*")
}

// CompileGlob converts a search wildcard pattern to an anchored,
// case-insensitive regex. Only * is special; it matches any run of characters.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	if re, ok := globCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	var b strings.Builder
	b.WriteString("(?is)^")
	for i, part := range strings.Split(pattern, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	globCache.Store(pattern, re)
	return re, nil
}

// GlobMatch reports whether s matches the wildcard pattern.
func GlobMatch(pattern, s string) bool {
	re, err := CompileGlob(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
