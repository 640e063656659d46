// Package dataset defines the in-memory table threaded through a query
// pipeline.
//
// A Dataset is an ordered column list plus rows keyed by column name. A row
// that lacks a column reads as Null, so every row conceptually has every
// column. Column order is preserved unless an operation reorders or drops
// columns; row order is preserved unless an operation reorders rows.
//
// Datasets are not safe for concurrent mutation. Directives that need to
// keep an input intact call Clone first.
package dataset

import (
	"fmt"
	"slices"

	"speakquery/internal/querylang"
)

// Row aliases querylang.Row so callers need not import both packages.
type Row = querylang.Row

// Dataset is an ordered set of columns and rows.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New creates an empty dataset with the given columns.
func New(columns ...string) *Dataset {
	return &Dataset{Columns: dedupColumns(columns)}
}

// FromRows creates a dataset from rows. Columns listed first keep their
// order; any other key found in the rows is appended in first-seen order,
// with keys of one row sorted for determinism.
func FromRows(columns []string, rows []Row) *Dataset {
	d := &Dataset{Columns: dedupColumns(columns), Rows: rows}
	d.inferColumns()
	return d
}

func (d *Dataset) inferColumns() {
	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		seen[c] = true
	}
	for _, row := range d.Rows {
		var extra []string
		for k := range row {
			if !seen[k] {
				extra = append(extra, k)
			}
		}
		slices.Sort(extra)
		for _, k := range extra {
			seen[k] = true
			d.Columns = append(d.Columns, k)
		}
	}
}

func dedupColumns(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// Empty reports whether d has no rows.
func (d *Dataset) Empty() bool {
	return len(d.Rows) == 0
}

// Clone returns a copy whose column list and rows can be mutated without
// affecting d. Values are immutable and shared.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: slices.Clone(d.Columns),
		Rows:    make([]Row, len(d.Rows)),
	}
	for i, r := range d.Rows {
		out.Rows[i] = CloneRow(r)
	}
	return out
}

// CloneRow copies a row map.
func CloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// HasColumn reports whether name is a column.
func (d *Dataset) HasColumn(name string) bool {
	return slices.Contains(d.Columns, name)
}

// ColumnIndex returns the position of name, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	return slices.Index(d.Columns, name)
}

// AddColumn appends name to the column list if it is not already present.
func (d *Dataset) AddColumn(name string) {
	if !d.HasColumn(name) {
		d.Columns = append(d.Columns, name)
	}
}

// DropColumns removes columns and their cells. Missing names are ignored.
func (d *Dataset) DropColumns(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	d.Columns = slices.DeleteFunc(d.Columns, func(c string) bool { return drop[c] })
	for _, r := range d.Rows {
		for n := range drop {
			delete(r, n)
		}
	}
}

// SelectColumns keeps only the given columns, in the given order. Names that
// are not columns are skipped and returned.
func (d *Dataset) SelectColumns(names ...string) (missing []string) {
	var keep []string
	for _, n := range names {
		switch {
		case slices.Contains(keep, n):
		case d.HasColumn(n):
			keep = append(keep, n)
		default:
			missing = append(missing, n)
		}
	}
	var drop []string
	for _, c := range d.Columns {
		if !slices.Contains(keep, c) {
			drop = append(drop, c)
		}
	}
	d.DropColumns(drop...)
	d.Columns = keep
	return missing
}

// MissingColumnError is returned when an operation names a column that does
// not exist.
type MissingColumnError struct {
	Name string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("no such column %q", e.Name)
}

// RenameColumn renames a column in place. If to already exists it is
// replaced.
func (d *Dataset) RenameColumn(from, to string) error {
	i := d.ColumnIndex(from)
	if i < 0 {
		return &MissingColumnError{Name: from}
	}
	if from == to {
		return nil
	}
	if j := d.ColumnIndex(to); j >= 0 {
		d.Columns = slices.Delete(d.Columns, j, j+1)
		if j < i {
			i--
		}
	}
	d.Columns[i] = to
	for _, r := range d.Rows {
		v, ok := r[from]
		delete(r, from)
		if ok {
			r[to] = v
		} else {
			delete(r, to)
		}
	}
	return nil
}

// Get returns the cell at row i, column name. Missing cells are Null.
func (d *Dataset) Get(i int, name string) querylang.Value {
	return d.Rows[i][name]
}

// Set writes a cell and registers the column.
func (d *Dataset) Set(i int, name string, v querylang.Value) {
	d.AddColumn(name)
	d.Rows[i][name] = v
}

// Column returns all values of a column, Null where missing.
func (d *Dataset) Column(name string) []querylang.Value {
	out := make([]querylang.Value, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r[name]
	}
	return out
}

// AppendRow adds a row and any new columns it carries.
func (d *Dataset) AppendRow(r Row) {
	d.Rows = append(d.Rows, r)
	for k := range r {
		if !d.HasColumn(k) {
			d.inferColumnsFrom(r)
			break
		}
	}
}

func (d *Dataset) inferColumnsFrom(r Row) {
	var extra []string
	for k := range r {
		if !d.HasColumn(k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	d.Columns = append(d.Columns, extra...)
}

// Append adds the rows of other after d's rows. Columns are unioned with
// d's columns first.
func (d *Dataset) Append(other *Dataset) {
	if other == nil {
		return
	}
	for _, c := range other.Columns {
		d.AddColumn(c)
	}
	d.Rows = append(d.Rows, other.Rows...)
}

// Concat returns a new dataset holding the rows of all inputs in order.
func Concat(parts ...*Dataset) *Dataset {
	out := New()
	for _, p := range parts {
		out.Append(p)
	}
	return out
}

// Records returns rows as plain Go maps (Value.Any per cell), including only
// non-null cells.
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, len(d.Rows))
	for i, r := range d.Rows {
		m := make(map[string]any, len(r))
		for k, v := range r {
			if !v.IsNull() {
				m[k] = v.Any()
			}
		}
		out[i] = m
	}
	return out
}

// Strings renders the dataset as text cells in column order.
func (d *Dataset) Strings() [][]string {
	out := make([][]string, len(d.Rows))
	for i, r := range d.Rows {
		cells := make([]string, len(d.Columns))
		for j, c := range d.Columns {
			cells[j] = r[c].AsText()
		}
		out[i] = cells
	}
	return out
}
