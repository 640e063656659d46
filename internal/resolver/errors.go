package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFileTooLarge is returned when an index file exceeds the configured
// size limit.
var ErrFileTooLarge = errors.New("index file too large")

// Reasons attached to a ResolutionWarning.
const (
	ReasonNoIndex     = "block names no index"
	ReasonNoMatch     = "no index files match"
	ReasonOutsideRoot = "pattern escapes the index root"
	ReasonNoEpoch     = "file has no _epoch column for the time window"
	ReasonUnreadable  = "file could not be loaded"
)

// ResolutionWarning reports a pattern or file that contributed no rows.
// It never aborts a query.
type ResolutionWarning struct {
	Pattern string
	File    string
	Reason  string
	Err     error
}

func (w *ResolutionWarning) Error() string {
	var b strings.Builder
	b.WriteString(w.Reason)
	if w.Pattern != "" {
		fmt.Fprintf(&b, ": pattern %q", w.Pattern)
	}
	if w.File != "" {
		fmt.Fprintf(&b, ": file %q", w.File)
	}
	if w.Err != nil {
		fmt.Fprintf(&b, ": %v", w.Err)
	}
	return b.String()
}

func (w *ResolutionWarning) Unwrap() error {
	return w.Err
}
