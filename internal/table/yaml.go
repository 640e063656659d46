package table

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// readYAML reads a sequence of mappings. Columns keep the key order of the
// document.
func readYAML(r io.Reader) (*dataset.Dataset, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return dataset.New(), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	var items []*yaml.Node
	switch root.Kind {
	case yaml.SequenceNode:
		items = root.Content
	case yaml.MappingNode:
		items = []*yaml.Node{root}
	default:
		return nil, fmt.Errorf("%w: expected a list of mappings, got %s", ErrMalformed, kindName(root.Kind))
	}

	ds := dataset.New()
	for i, item := range items {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: item %d is %s, not a mapping", ErrMalformed, i, kindName(item.Kind))
		}
		row := make(dataset.Row, len(item.Content)/2)
		for j := 0; j+1 < len(item.Content); j += 2 {
			key := item.Content[j].Value
			var v any
			if err := item.Content[j+1].Decode(&v); err != nil {
				return nil, fmt.Errorf("%w: item %d key %q: %w", ErrMalformed, i, key, err)
			}
			ds.AddColumn(key)
			if val := querylang.FromAny(v); !val.IsNull() {
				row[key] = val
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.MappingNode:
		return "a mapping"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "empty"
	}
}

// writeYAML writes a sequence of mappings whose keys follow column order.
// Null cells are written as null.
func writeYAML(w io.Writer, ds *dataset.Dataset) error {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range ds.Rows {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, c := range ds.Columns {
			var val yaml.Node
			if err := val.Encode(r[c].Any()); err != nil {
				return fmt.Errorf("encode column %s: %w", c, err)
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: c}, &val)
		}
		seq.Content = append(seq.Content, m)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return err
	}
	return enc.Close()
}
