package table

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ohler55/ojg/oj"

	"speakquery/internal/dataset"
)

// readJSON accepts a JSON array of objects, a single object, or one value
// per line (JSON Lines). Non-object values become a row with a single
// "value" column.
func readJSON(r io.Reader) (*dataset.Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	docs, err := parseJSONDocs(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(docs) == 1 {
		if arr, ok := docs[0].([]any); ok {
			docs = arr
		}
	}

	records := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		switch t := d.(type) {
		case map[string]any:
			records = append(records, t)
		case nil:
			records = append(records, map[string]any{})
		default:
			records = append(records, map[string]any{"value": t})
		}
	}
	return fromRecords(nil, records), nil
}

// parseJSONDocs parses data as one JSON document, falling back to one
// document per non-blank line.
func parseJSONDocs(data []byte) ([]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	v, err := oj.Parse(data)
	if err == nil {
		return []any{v}, nil
	}
	var docs []any
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		doc, lineErr := oj.Parse(line)
		if lineErr != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, lineErr)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func writeJSON(w io.Writer, ds *dataset.Dataset) error {
	b, err := ds.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}
