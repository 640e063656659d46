package table

import (
	"encoding/json"
	"fmt"
	"strings"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// normalizeHeaders names blank header cells unnamed_N (1-based position)
// and suffixes repeated names with _2, _3 and so on.
func normalizeHeaders(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("unnamed_%d", i+1)
		}
		name := h
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", h, n)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

// fromTextRows builds a dataset from a header and string records. Empty
// cells are left out so they read as Null.
func fromTextRows(header []string, records [][]string) *dataset.Dataset {
	cols := normalizeHeaders(header)
	rows := make([]dataset.Row, 0, len(records))
	for _, rec := range records {
		row := make(dataset.Row, len(cols))
		for i, cell := range rec {
			if i >= len(cols) || cell == "" {
				continue
			}
			row[cols[i]] = querylang.StrValue(cell)
		}
		rows = append(rows, row)
	}
	return &dataset.Dataset{Columns: cols, Rows: rows}
}

// fromRecords builds a dataset from decoded objects. Columns follow key
// order when keys is non-nil, otherwise first-seen order with each row's
// new keys sorted.
func fromRecords(keys []string, records []map[string]any) *dataset.Dataset {
	rows := make([]dataset.Row, 0, len(records))
	for _, rec := range records {
		row := make(dataset.Row, len(rec))
		for k, v := range rec {
			if val := querylang.FromAny(v); !val.IsNull() {
				row[k] = val
			}
		}
		rows = append(rows, row)
	}
	return dataset.FromRows(keys, rows)
}

// scalar converts a cell to a value every writer accepts: nil, int64,
// float64, string or bool. Lists are stored as JSON arrays.
func scalar(v querylang.Value) any {
	if v.Kind != querylang.KindList {
		return v.Any()
	}
	b, err := json.Marshal(v.Any())
	if err != nil {
		return v.AsText()
	}
	return string(b)
}
