// Package lookup provides the tables behind the lookup, inputlookup and
// outputlookup directives.
//
// A Table maps one key value to a set of output fields. File tables are
// built from any table file under the lookup root and output their own
// column names. Built-in tables (MaxMind MMDB databases and reverse DNS)
// output suffixes that the caller prefixes with the key field name, so
// `lookup rdns src` writes src_hostname.
package lookup

import (
	"context"
	"errors"

	"speakquery/internal/querylang"
)

// Table enriches a single key value with additional fields.
// Implementations must be safe for concurrent use.
type Table interface {
	// Fields lists the output fields in order.
	Fields() []string

	// Lookup returns output field values for key. Returns nil on miss;
	// enrichment misses are normal, not errors.
	Lookup(ctx context.Context, key querylang.Value) map[string]querylang.Value
}

// suffixed is implemented by tables whose outputs are suffixes of the key
// field rather than column names.
type suffixed interface {
	suffixOutputs()
}

// OutputColumn returns the dataset column that output field out of t is
// written to when looking up field.
func OutputColumn(t Table, field, out string) string {
	if _, ok := t.(suffixed); ok {
		return field + "_" + out
	}
	return out
}

var (
	// ErrNotFound is returned when a lookup name matches no table.
	ErrNotFound = errors.New("lookup table not found")
	// ErrOutsideRoot is returned for names that escape the lookup root.
	ErrOutsideRoot = errors.New("lookup path escapes the lookup root")
	// ErrNoKeyColumn is returned when a file table lacks the key column.
	ErrNoKeyColumn = errors.New("lookup table has no such key column")
)
