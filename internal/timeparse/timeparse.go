// Package timeparse converts earliest/latest bounds and bin spans to epoch
// seconds.
//
// Accepted date forms, tried in order:
//   - "now"
//   - integer or decimal epoch seconds ("1704153600")
//   - relative offsets from now: "-24h", "-7d", "+30m", "-1w", "-2mon", "-1y",
//     optionally snapped with "@unit" ("-1d@d")
//   - absolute layouts (always UTC), see layouts
//   - anything spf13/cast can read as a time
package timeparse

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ErrInvalidSpan is returned by ParseSpan for malformed spans.
var ErrInvalidSpan = errors.New("invalid span")

// DateParseError reports an unparseable date bound. It is fatal for the
// query that contains it.
type DateParseError struct {
	Input string
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("cannot parse date %q", e.Input)
}

// layouts are tried in order. Day-first layouts come after month-first ones,
// so "01/02/2024" is January 2nd.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05.999999999",
	"01/02/2006 15:04:05",
	"01/02/2006:15:04:05",
	"01-02-2006 15:04:05.999999999",
	"01-02-2006 15:04:05",
	"01/02/2006",
	"01-02-2006",
	"01/02/06",
	"01-02-06",
	"02-01-2006 15:04:05",
	"02/01/2006 15:04:05",
	"2006/01/02 15:04:05.999999999",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"January 2, 2006 15:04:05.999999999",
	"January 2, 2006 15:04:05",
	"2 January 2006 15:04:05.999999999",
	"2 January 2006 15:04:05",
	"01/02/2006 03:04:05 PM",
	"01-02-2006 03:04:05 PM",
	"20060102150405",
}

var relativeRe = regexp.MustCompile(`^([+-])(\d+)(s|sec|secs|m|min|mins|h|hr|hrs|d|day|days|w|week|weeks|mon|month|months|y|year|years)(?:@(s|m|h|d|w|mon|y))?$`)

// Parse converts s to epoch seconds relative to now.
func Parse(s string, now time.Time) (int64, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, &DateParseError{Input: s}
	}
	if strings.EqualFold(in, "now") {
		return now.Unix(), nil
	}
	if f, err := strconv.ParseFloat(in, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(f), nil
	}
	if t, ok := parseRelative(in, now); ok {
		return t.Unix(), nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, in, time.UTC); err == nil {
			return t.Unix(), nil
		}
	}
	if t, err := cast.ToTimeInDefaultLocationE(in, time.UTC); err == nil {
		return t.Unix(), nil
	}
	return 0, &DateParseError{Input: s}
}

func parseRelative(s string, now time.Time) (time.Time, bool) {
	m := relativeRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, false
	}
	if m[1] == "-" {
		n = -n
	}
	t := now.UTC()
	switch m[3] {
	case "s", "sec", "secs":
		t = t.Add(time.Duration(n) * time.Second)
	case "m", "min", "mins":
		t = t.Add(time.Duration(n) * time.Minute)
	case "h", "hr", "hrs":
		t = t.Add(time.Duration(n) * time.Hour)
	case "d", "day", "days":
		t = t.AddDate(0, 0, n)
	case "w", "week", "weeks":
		t = t.AddDate(0, 0, 7*n)
	case "mon", "month", "months":
		t = t.AddDate(0, n, 0)
	case "y", "year", "years":
		t = t.AddDate(n, 0, 0)
	}
	if m[4] != "" {
		t = snap(t, m[4])
	}
	return t, true
}

// snap truncates t to the start of the given unit.
func snap(t time.Time, unit string) time.Time {
	y, mo, d := t.Date()
	switch unit {
	case "s":
		return t.Truncate(time.Second)
	case "m":
		return t.Truncate(time.Minute)
	case "h":
		return t.Truncate(time.Hour)
	case "d":
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	case "w":
		day := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -int(day.Weekday()))
	case "mon":
		return time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
	case "y":
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// ParseSpan parses a bin span like "30s", "5m", "1h", "1d", "1w" into
// seconds. A bare number is returned as-is (a numeric bin width).
func ParseSpan(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidSpan)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f <= 0 {
			return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidSpan, s)
		}
		return f, nil
	}
	i := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if i <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSpan, s)
	}
	num, err := strconv.ParseFloat(s[:i], 64)
	if err != nil || num <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSpan, s)
	}
	var unit float64
	switch s[i:] {
	case "s", "sec", "secs":
		unit = 1
	case "m", "min", "mins":
		unit = 60
	case "h", "hr", "hrs":
		unit = 3600
	case "d", "day", "days":
		unit = 86400
	case "w", "week", "weeks":
		unit = 7 * 86400
	default:
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidSpan, s)
	}
	return num * unit, nil
}
