package table

import (
	"bytes"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

func fixture() *dataset.Dataset {
	return dataset.FromRows([]string{"host", "count", "ratio"}, []dataset.Row{
		{"host": querylang.StrValue("web-1"), "count": querylang.NumValue(3), "ratio": querylang.NumValue(0.5)},
		{"host": querylang.StrValue("web-2"), "ratio": querylang.NumValue(1.25)},
		{"host": querylang.StrValue("db, primary"), "count": querylang.NumValue(-7), "ratio": querylang.NumValue(0)},
	})
}

func TestDetect(t *testing.T) {
	tests := []struct {
		path   string
		format Format
		comp   Compression
	}{
		{"a.csv", FormatCSV, CompressionNone},
		{"dir/A.CSV", FormatCSV, CompressionNone},
		{"a.tsv.gz", FormatTSV, CompressionGzip},
		{"a.json", FormatJSON, CompressionNone},
		{"a.ndjson.zst", FormatJSONLines, CompressionZstd},
		{"a.yml.br", FormatYAML, CompressionBrotli},
		{"a.parquet.xz", FormatParquet, CompressionXZ},
		{"a.jsonl.bz2", FormatJSONLines, CompressionBzip2},
		{"a.xlsx", FormatXLSX, CompressionNone},
		{"a.db", FormatSQLite, CompressionNone},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, c, err := Detect(tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if f != tt.format || c != tt.comp {
				t.Errorf("Detect = %s/%s, want %s/%s", f, c, tt.format, tt.comp)
			}
		})
	}
}

func TestDetectUnsupported(t *testing.T) {
	for _, p := range []string{"a.txt", "a", "a.gz", "a.sqlite.gz"} {
		t.Run(p, func(t *testing.T) {
			if _, _, err := Detect(p); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Detect(%q) error = %v, want ErrUnsupportedFormat", p, err)
			}
			if Supported(p) {
				t.Errorf("Supported(%q) = true", p)
			}
		})
	}
}

func TestExt(t *testing.T) {
	if got := Ext("logs/2024/app.JSONL.gz"); got != ".jsonl" {
		t.Errorf("Ext = %q", got)
	}
	if got := Ext("x.parquet"); got != ".parquet" {
		t.Errorf("Ext = %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	names := []string{
		"out.csv", "out.tsv", "out.json", "out.jsonl", "out.ndjson",
		"out.yaml", "out.parquet", "out.xlsx", "out.sqlite",
		"out.csv.gz", "out.jsonl.zst", "out.yaml.br", "out.tsv.xz", "out.parquet.gz",
	}
	want := fixture()
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			if err := Write(path, want); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temp file left behind")
			}
			got, err := Read(path)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if missing := got.SelectColumns(want.Columns...); len(missing) > 0 {
				t.Fatalf("missing columns %v (got %v)", missing, got.Columns)
			}
			if !reflect.DeepEqual(got.Strings(), want.Strings()) {
				t.Errorf("cells = %q\nwant    %q", got.Strings(), want.Strings())
			}
			if !got.Get(1, "count").IsNull() {
				t.Errorf("null cell read back as %v", got.Get(1, "count"))
			}
		})
	}
}

func TestColumnOrderPreserved(t *testing.T) {
	want := []string{"zeta", "alpha", "mid"}
	ds := dataset.FromRows(want, []dataset.Row{{
		"zeta":  querylang.NumValue(1),
		"alpha": querylang.StrValue("a"),
		"mid":   querylang.BoolValue(true),
	}})
	for _, name := range []string{"o.csv", "o.yaml", "o.parquet", "o.sqlite", "o.xlsx"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := Write(path, ds); err != nil {
				t.Fatal(err)
			}
			got, err := Read(path)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got.Columns, want) {
				t.Errorf("Columns = %v, want %v", got.Columns, want)
			}
		})
	}
}

func TestReadTypedCells(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typed.json")
	data := `[{"n": 3, "f": 1.5, "b": true, "s": "x", "l": ["a", 2], "z": null}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	ds, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]querylang.Kind{
		"n": querylang.KindNumber,
		"f": querylang.KindNumber,
		"b": querylang.KindBool,
		"s": querylang.KindText,
		"l": querylang.KindList,
		"z": querylang.KindNull,
	}
	for col, k := range kinds {
		if got := ds.Get(0, col).Kind; got != k {
			t.Errorf("%s kind = %s, want %s", col, got, k)
		}
	}
}

func TestReadJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	data := "{\"a\": 1}\n\n{\"a\": 2, \"b\": \"x\"}\n42\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	ds, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 3 {
		t.Fatalf("Len = %d, want 3", ds.Len())
	}
	if ds.Get(2, "value").AsText() != "42" {
		t.Errorf("scalar line = %v", ds.Get(2, "value"))
	}
	if want := []string{"a", "b", "value"}; !reflect.DeepEqual(ds.Columns, want) {
		t.Errorf("Columns = %v, want %v", ds.Columns, want)
	}
}

func TestReadMalformed(t *testing.T) {
	tests := map[string]string{
		"bad.json": `[{"a": 1},`,
		"bad.yaml": "- a: 1\n- just text\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Read(path); !errors.Is(err, ErrMalformed) {
				t.Errorf("Read error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.csv"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want ErrNotExist", err)
	}
}

func TestReadSniffsCompression(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte("a,b\n1,2\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "plain.csv")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	ds, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Get(0, "b").AsText() != "2" {
		t.Errorf("b = %v", ds.Get(0, "b"))
	}
}

func TestNormalizeHeaders(t *testing.T) {
	got := normalizeHeaders([]string{"\ufeffid", "", "id", " name ", "id"})
	want := []string{"id", "unnamed_2", "id_2", "name", "id_3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeHeaders = %v, want %v", got, want)
	}
}

func TestReadParquetWithoutColumnMetadata(t *testing.T) {
	type event struct {
		Epoch  int64   `parquet:"_epoch"`
		Host   string  `parquet:"host"`
		Status *string `parquet:"status,optional"`
	}
	path := filepath.Join(t.TempDir(), "events.parquet")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	errStatus := "error"
	w := parquet.NewGenericWriter[event](f)
	if _, err := w.Write([]event{
		{Epoch: 1700000000, Host: "a", Status: &errStatus},
		{Epoch: 1700000060, Host: "b"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	ds, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"_epoch", "host", "status"}; !reflect.DeepEqual(ds.Columns, want) {
		t.Errorf("Columns = %v, want %v", ds.Columns, want)
	}
	if n, _ := ds.Get(1, "_epoch").AsNumber(); n != 1700000060 {
		t.Errorf("_epoch = %v", ds.Get(1, "_epoch"))
	}
	if ds.Get(0, "status").AsText() != "error" || !ds.Get(1, "status").IsNull() {
		t.Errorf("status = %v, %v", ds.Get(0, "status"), ds.Get(1, "status"))
	}
}

func TestReadSQLiteMultipleTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multi.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER, name TEXT)`,
		`CREATE TABLE roles (role TEXT)`,
		`INSERT INTO users VALUES (1, 'ann'), (2, 'bob')`,
		`INSERT INTO roles VALUES ('admin')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	ds, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"users_id", "users_name", "roles_role"}; !reflect.DeepEqual(ds.Columns, want) {
		t.Errorf("Columns = %v, want %v", ds.Columns, want)
	}
	if ds.Len() != 2 {
		t.Fatalf("Len = %d", ds.Len())
	}
	if ds.Get(0, "roles_role").AsText() != "admin" || !ds.Get(1, "roles_role").IsNull() {
		t.Errorf("roles_role = %v, %v", ds.Get(0, "roles_role"), ds.Get(1, "roles_role"))
	}
}

func TestWriteListCells(t *testing.T) {
	ds := dataset.FromRows([]string{"tags"}, []dataset.Row{{
		"tags": querylang.ListValue([]querylang.Value{querylang.StrValue("a"), querylang.StrValue("b")}),
	}})
	path := filepath.Join(t.TempDir(), "tags.csv")
	if err := Write(path, ds); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Get(0, "tags").AsText() != "a b" {
		t.Errorf("tags = %q", got.Get(0, "tags").AsText())
	}
}
