package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"speakquery/internal/dataset"
)

func readDelimited(r io.Reader, sep rune) (*dataset.Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return dataset.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return fromTextRows(header, records), nil
}

func writeDelimited(w io.Writer, sep rune, ds *dataset.Dataset) error {
	cw := csv.NewWriter(w)
	cw.Comma = sep
	if err := cw.Write(ds.Columns); err != nil {
		return err
	}
	for _, rec := range ds.Strings() {
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
