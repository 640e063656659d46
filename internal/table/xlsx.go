package table

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"speakquery/internal/dataset"
)

const defaultSheet = "Sheet1"

// readXLSX reads the first sheet. The first row is the header.
func readXLSX(r io.Reader) (*dataset.Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no sheets found", ErrMalformed)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return dataset.New(), nil
	}
	return fromTextRows(rows[0], rows[1:]), nil
}

func writeXLSX(w io.Writer, ds *dataset.Dataset) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header := make([]any, len(ds.Columns))
	for i, c := range ds.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(defaultSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range ds.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := make([]any, len(ds.Columns))
		for j, c := range ds.Columns {
			vals[j] = scalar(r[c])
		}
		if err := f.SetSheetRow(defaultSheet, cell, &vals); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}
