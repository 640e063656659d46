package lookup

import (
	"context"
	"fmt"
	"strings"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// FileTable is an in-memory table indexed on one key column. Keys match on
// trimmed text. When several rows share a key, each output field holds the
// multivalue of their non-null values in row order.
type FileTable struct {
	key    string
	fields []string
	index  map[string][]dataset.Row
}

// NewFileTable indexes ds on key. The dataset is not copied and must not
// be mutated afterwards.
func NewFileTable(ds *dataset.Dataset, key string) (*FileTable, error) {
	if !ds.HasColumn(key) {
		return nil, fmt.Errorf("%w: %q", ErrNoKeyColumn, key)
	}
	t := &FileTable{key: key, index: make(map[string][]dataset.Row, ds.Len())}
	for _, c := range ds.Columns {
		if c != key {
			t.fields = append(t.fields, c)
		}
	}
	for _, row := range ds.Rows {
		v := row[key]
		if v.IsNull() {
			continue
		}
		for _, k := range v.Values() {
			text := strings.TrimSpace(k.AsText())
			t.index[text] = append(t.index[text], row)
		}
	}
	return t, nil
}

// Key returns the indexed column.
func (t *FileTable) Key() string { return t.key }

// Fields returns every column except the key.
func (t *FileTable) Fields() []string { return t.fields }

// Lookup returns the output fields for key, or nil when no row matches.
func (t *FileTable) Lookup(_ context.Context, key querylang.Value) map[string]querylang.Value {
	if key.IsNull() {
		return nil
	}
	rows := t.index[strings.TrimSpace(key.AsText())]
	switch len(rows) {
	case 0:
		return nil
	case 1:
		out := make(map[string]querylang.Value, len(t.fields))
		for _, f := range t.fields {
			if v := rows[0][f]; !v.IsNull() {
				out[f] = v
			}
		}
		return out
	}
	out := make(map[string]querylang.Value, len(t.fields))
	for _, f := range t.fields {
		var vs []querylang.Value
		for _, r := range rows {
			if v := r[f]; !v.IsNull() {
				vs = append(vs, v)
			}
		}
		switch len(vs) {
		case 0:
		case 1:
			out[f] = vs[0]
		default:
			out[f] = querylang.ListValue(vs)
		}
	}
	return out
}
