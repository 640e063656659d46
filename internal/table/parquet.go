package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/parquet-go/parquet-go"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// columnOrderKey stores the dataset column order in the file's key/value
// metadata. Parquet groups sort their fields by name.
const columnOrderKey = "speakquery.columns"

func readParquetFile(path string, comp Compression) (*dataset.Dataset, error) {
	if comp != CompressionNone {
		rc, err := openDecompressed(path, comp)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rc.Close() }()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		return readParquet(bytes.NewReader(data), int64(len(data)))
	}

	f, err := os.Open(path) //nolint:gosec // G304: paths are resolved below a configured root
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return readParquet(f, stat.Size())
}

func readParquet(r io.ReaderAt, size int64) (*dataset.Dataset, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var cols []string
	if order, ok := pf.Lookup(columnOrderKey); ok {
		_ = json.Unmarshal([]byte(order), &cols)
	}
	if len(cols) == 0 {
		for _, f := range pf.Schema().Fields() {
			cols = append(cols, f.Name())
		}
	}

	reader := parquet.NewReader(pf)
	defer func() { _ = reader.Close() }()

	ds := dataset.New(cols...)
	for {
		rec := make(map[string]any)
		err := reader.Read(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", ds.Len(), err)
		}
		row := make(dataset.Row, len(rec))
		for k, v := range rec {
			if val := querylang.FromAny(v); !val.IsNull() {
				row[k] = val
			}
		}
		ds.AppendRow(row)
	}
	return ds, nil
}

type columnType uint8

const (
	columnNull columnType = iota
	columnInt
	columnFloat
	columnBool
	columnText
)

// inferColumnType picks the narrowest parquet type holding every non-null
// cell of a column.
func inferColumnType(cells []querylang.Value) columnType {
	t := columnNull
	for _, v := range cells {
		var ct columnType
		switch scalar(v).(type) {
		case nil:
			continue
		case int64:
			ct = columnInt
		case float64:
			ct = columnFloat
		case bool:
			ct = columnBool
		default:
			ct = columnText
		}
		switch {
		case t == columnNull:
			t = ct
		case t == ct:
		case (t == columnInt && ct == columnFloat) || (t == columnFloat && ct == columnInt):
			t = columnFloat
		default:
			return columnText
		}
	}
	return t
}

func (t columnType) node() parquet.Node {
	switch t {
	case columnInt:
		return parquet.Optional(parquet.Leaf(parquet.Int64Type))
	case columnFloat:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case columnBool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	default:
		return parquet.Optional(parquet.String())
	}
}

func (t columnType) value(v querylang.Value) parquet.Value {
	if v.IsNull() {
		return parquet.Value{}
	}
	switch t {
	case columnInt:
		n, _ := v.AsNumber()
		return parquet.ValueOf(int64(n))
	case columnFloat:
		n, _ := v.AsNumber()
		return parquet.ValueOf(n)
	case columnBool:
		return parquet.ValueOf(v.Truthy())
	default:
		s, ok := scalar(v).(string)
		if !ok {
			s = v.AsText()
		}
		return parquet.ValueOf(s)
	}
}

// writeParquet writes ds with one optional leaf column per dataset column.
func writeParquet(w io.Writer, ds *dataset.Dataset) error {
	if len(ds.Columns) == 0 {
		return fmt.Errorf("%w: parquet needs at least one column", ErrMalformed)
	}
	types := make(map[string]columnType, len(ds.Columns))
	group := make(parquet.Group, len(ds.Columns))
	for _, c := range ds.Columns {
		t := inferColumnType(ds.Column(c))
		types[c] = t
		group[c] = t.node()
	}
	schema := parquet.NewSchema("dataset", group)

	order, err := json.Marshal(ds.Columns)
	if err != nil {
		return err
	}
	pw := parquet.NewWriter(w, schema, parquet.KeyValueMetadata(columnOrderKey, string(order)))

	// Leaf columns are indexed in the schema's sorted field order.
	leaves := slices.Clone(ds.Columns)
	slices.Sort(leaves)

	rows := make([]parquet.Row, 0, len(ds.Rows))
	for _, r := range ds.Rows {
		row := make(parquet.Row, len(leaves))
		for i, c := range leaves {
			v := types[c].value(r[c])
			if v.IsNull() {
				row[i] = v.Level(0, 0, i)
			} else {
				row[i] = v.Level(0, 1, i)
			}
		}
		rows = append(rows, row)
	}
	if _, err := pw.WriteRows(rows); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}
