package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"speakquery/internal/querylang"
)

func sample() *Dataset {
	return FromRows([]string{"host", "count"}, []Row{
		{"host": querylang.StrValue("a"), "count": querylang.NumValue(3)},
		{"host": querylang.StrValue("b"), "count": querylang.NumValue(1), "extra": querylang.BoolValue(true)},
		{"host": querylang.StrValue("c")},
	})
}

func TestFromRowsInfersColumns(t *testing.T) {
	d := sample()
	if want := []string{"host", "count", "extra"}; !reflect.DeepEqual(d.Columns, want) {
		t.Errorf("Columns = %v, want %v", d.Columns, want)
	}
	if !d.Get(2, "count").IsNull() {
		t.Error("missing cell should read as Null")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d := sample()
	c := d.Clone()
	c.Rows[0]["host"] = querylang.StrValue("z")
	c.AddColumn("new")
	if d.Rows[0]["host"].AsText() != "a" {
		t.Error("clone shares row maps")
	}
	if d.HasColumn("new") {
		t.Error("clone shares column slice")
	}
}

func TestSelectColumns(t *testing.T) {
	d := sample()
	missing := d.SelectColumns("count", "nope", "host", "count")
	if want := []string{"count", "host"}; !reflect.DeepEqual(d.Columns, want) {
		t.Errorf("Columns = %v, want %v", d.Columns, want)
	}
	if !reflect.DeepEqual(missing, []string{"nope"}) {
		t.Errorf("missing = %v", missing)
	}
	if _, ok := d.Rows[1]["extra"]; ok {
		t.Error("dropped column still has cells")
	}
}

func TestDropColumns(t *testing.T) {
	d := sample()
	d.DropColumns("count", "absent")
	if want := []string{"host", "extra"}; !reflect.DeepEqual(d.Columns, want) {
		t.Errorf("Columns = %v, want %v", d.Columns, want)
	}
}

func TestRenameColumn(t *testing.T) {
	d := sample()
	if err := d.RenameColumn("count", "n"); err != nil {
		t.Fatal(err)
	}
	if want := []string{"host", "n", "extra"}; !reflect.DeepEqual(d.Columns, want) {
		t.Errorf("Columns = %v, want %v", d.Columns, want)
	}
	if d.Get(0, "n").AsText() != "3" {
		t.Errorf("n = %v", d.Get(0, "n"))
	}

	// Renaming onto an existing column replaces it.
	if err := d.RenameColumn("extra", "host"); err != nil {
		t.Fatal(err)
	}
	if want := []string{"n", "host"}; !reflect.DeepEqual(d.Columns, want) {
		t.Errorf("Columns = %v, want %v", d.Columns, want)
	}
	if !d.Get(0, "host").IsNull() || d.Get(1, "host").AsText() != "true" {
		t.Errorf("host cells = %v %v", d.Get(0, "host"), d.Get(1, "host"))
	}

	err := d.RenameColumn("absent", "x")
	var mc *MissingColumnError
	if !errors.As(err, &mc) || mc.Name != "absent" {
		t.Errorf("error = %v, want MissingColumnError", err)
	}
}

func TestConcat(t *testing.T) {
	a := FromRows([]string{"x"}, []Row{{"x": querylang.NumValue(1)}})
	b := FromRows([]string{"y", "x"}, []Row{{"y": querylang.NumValue(2)}})
	c := Concat(a, nil, b)
	if c.Len() != 2 {
		t.Fatalf("Len = %d", c.Len())
	}
	if want := []string{"x", "y"}; !reflect.DeepEqual(c.Columns, want) {
		t.Errorf("Columns = %v, want %v", c.Columns, want)
	}
}

func TestAppendRowAddsColumns(t *testing.T) {
	d := New("a")
	d.AppendRow(Row{"c": querylang.NumValue(1), "b": querylang.NumValue(2)})
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(d.Columns, want) {
		t.Errorf("Columns = %v, want %v", d.Columns, want)
	}
}

func TestMarshalJSONKeepsColumnOrder(t *testing.T) {
	d := sample()
	got, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"host":"a","count":3,"extra":null},{"host":"b","count":1,"extra":true},{"host":"c","count":null,"extra":null}]`
	if string(got) != want {
		t.Errorf("json = %s\nwant   %s", got, want)
	}

	var buf bytes.Buffer
	if err := d.WriteJSONLines(&buf); err != nil {
		t.Fatal(err)
	}
	if n := bytes.Count(buf.Bytes(), []byte("\n")); n != 3 {
		t.Errorf("got %d lines, want 3", n)
	}
}

func TestMsgpackRoundTrip(t *testing.T) {
	d := sample()
	d.Rows[0]["tags"] = querylang.ListValue([]querylang.Value{querylang.StrValue("x"), querylang.NumValue(2)})
	d.AddColumn("tags")
	d.Rows[1]["ratio"] = querylang.NumValue(0.25)
	d.AddColumn("ratio")

	data, err := msgpack.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var got Dataset
	if err := msgpack.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Columns, d.Columns) {
		t.Errorf("Columns = %v, want %v", got.Columns, d.Columns)
	}
	if !reflect.DeepEqual(got.Strings(), d.Strings()) {
		t.Errorf("cells = %v, want %v", got.Strings(), d.Strings())
	}
	if got.Rows[0]["tags"].Kind != querylang.KindList {
		t.Errorf("tags kind = %s", got.Rows[0]["tags"].Kind)
	}
	if _, ok := got.Rows[2]["count"]; ok {
		t.Error("null cell decoded as present")
	}
}

func TestRecords(t *testing.T) {
	recs := sample().Records()
	if recs[0]["count"] != int64(3) {
		t.Errorf("count = %#v", recs[0]["count"])
	}
	if _, ok := recs[2]["count"]; ok {
		t.Error("null cell present in record")
	}
}
