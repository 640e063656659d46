// Package extract pulls field/value pairs out of unstructured event text.
//
// Three formats are recognized: free-form key=value text, logfmt, and
// Apache/Nginx access log lines. Extractors are conservative and return
// nil rather than guess. Keys and values keep their original case.
package extract

import (
	"fmt"
	"strings"
)

// Pair is one extracted field.
type Pair struct {
	Key   string
	Value string
}

// Mode selects which extractors run.
type Mode int

const (
	// Auto treats an access log line as such and otherwise merges logfmt
	// assignments with key=value extraction. Bare logfmt keys are ignored.
	Auto Mode = iota
	KV
	Logfmt
	AccessLog
)

var modeNames = [...]string{
	Auto:      "auto",
	KV:        "kv",
	Logfmt:    "logfmt",
	AccessLog: "accesslog",
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if strings.EqualFold(n, name) {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("unknown extraction mode %q", name)
}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Extractor returns the pairs found in text, or nil.
type Extractor func(text string) []Pair

// Extract runs the extractors for mode over text. When several extractors
// report the same key the earliest wins.
func Extract(mode Mode, text string) []Pair {
	switch mode {
	case KV:
		return KeyValues(text)
	case Logfmt:
		return LogfmtPairs(text)
	case AccessLog:
		return AccessLogPairs(text)
	}
	// The quoted request line of an access log also looks like logfmt.
	if pairs := AccessLogPairs(text); pairs != nil {
		return pairs
	}
	return Merge(text, logfmtAssignments, KeyValues)
}

// Merge runs each extractor in turn and keeps the first value per key.
func Merge(text string, extractors ...Extractor) []Pair {
	var (
		result []Pair
		seen   = make(map[string]struct{})
	)
	for _, ext := range extractors {
		for _, p := range ext(text) {
			if _, ok := seen[p.Key]; ok {
				continue
			}
			seen[p.Key] = struct{}{}
			result = append(result, p)
		}
	}
	return result
}

// appendPair appends p unless its key is already present.
func appendPair(pairs []Pair, seen map[string]struct{}, key, value string) []Pair {
	if _, ok := seen[key]; ok {
		return pairs
	}
	seen[key] = struct{}{}
	return append(pairs, Pair{Key: key, Value: value})
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
