package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"speakquery/internal/querylang"
)

// msgpack layout: [version, [columns...], [[cell...]...]] with cells in
// column order and nil for Null.
const msgpackVersion = 1

var (
	_ msgpack.CustomEncoder = (*Dataset)(nil)
	_ msgpack.CustomDecoder = (*Dataset)(nil)
	_ json.Marshaler        = (*Dataset)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder.
func (d *Dataset) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeInt(msgpackVersion); err != nil {
		return err
	}
	if err := enc.Encode(d.Columns); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(d.Rows)); err != nil {
		return err
	}
	for _, r := range d.Rows {
		if err := enc.EncodeArrayLen(len(d.Columns)); err != nil {
			return err
		}
		for _, c := range d.Columns {
			if err := enc.Encode(r[c].Any()); err != nil {
				return fmt.Errorf("encode column %s: %w", c, err)
			}
		}
	}
	return nil
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (d *Dataset) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 3 {
		return fmt.Errorf("dataset: expected 3 elements, got %d", n)
	}
	version, err := dec.DecodeInt()
	if err != nil {
		return err
	}
	if version != msgpackVersion {
		return fmt.Errorf("dataset: unsupported encoding version %d", version)
	}
	var cols []string
	if err := dec.Decode(&cols); err != nil {
		return fmt.Errorf("decode columns: %w", err)
	}
	rowCount, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	rows := make([]Row, 0, max(rowCount, 0))
	for range rowCount {
		cellCount, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if cellCount != len(cols) {
			return fmt.Errorf("dataset: row has %d cells, want %d", cellCount, len(cols))
		}
		row := make(Row, len(cols))
		for _, c := range cols {
			raw, err := dec.DecodeInterface()
			if err != nil {
				return fmt.Errorf("decode column %s: %w", c, err)
			}
			if raw != nil {
				row[c] = querylang.FromAny(raw)
			}
		}
		rows = append(rows, row)
	}
	d.Columns = cols
	d.Rows = rows
	return nil
}

// MarshalJSON renders the dataset as an array of objects whose keys follow
// column order. Null cells are written as null.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range d.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONObject(&buf, d.Columns, r); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// WriteJSONLines writes one JSON object per row.
func (d *Dataset) WriteJSONLines(w io.Writer) error {
	var buf bytes.Buffer
	for _, r := range d.Rows {
		buf.Reset()
		if err := writeJSONObject(&buf, d.Columns, r); err != nil {
			return err
		}
		buf.WriteByte('\n')
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONObject(buf *bytes.Buffer, cols []string, r Row) error {
	buf.WriteByte('{')
	for j, c := range cols {
		if j > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return err
		}
		v, err := json.Marshal(r[c].Any())
		if err != nil {
			return fmt.Errorf("marshal column %s: %w", c, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return nil
}
