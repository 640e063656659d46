package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"speakquery/internal/querylang"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "logs/a.csv", "_epoch,status\n100,ok\n200,error\n300,ok\n")
	writeFile(t, root, "logs/b.json", `[{"_epoch": 250, "status": "error"}]`)
	writeFile(t, root, "logs/notes.txt", "not an index")
	writeFile(t, root, "logs/sub/c.csv", "_epoch,status\n400,ok\n")
	writeFile(t, root, "t.csv", "x,test\n4,10\n5,13\n")
	writeFile(t, root, "lookups.csv", "host,owner\na,b\n")
	r := New(Config{
		Root:        root,
		Extensions:  []string{".csv", ".json", ".parquet"},
		Concurrency: 2,
	})
	return r, root
}

func TestExpand(t *testing.T) {
	r, _ := newTestResolver(t)
	tests := []struct {
		pattern string
		want    []string
		reason  string
	}{
		{"logs/*", []string{"logs/a.csv", "logs/b.json", "logs/sub/c.csv"}, ""},
		{"logs", []string{"logs/a.csv", "logs/b.json", "logs/sub/c.csv"}, ""},
		{"logs/", []string{"logs/a.csv", "logs/b.json", "logs/sub/c.csv"}, ""},
		{"logs/**/*.csv", []string{"logs/a.csv", "logs/sub/c.csv"}, ""},
		{"t", []string{"t.csv"}, ""},
		{"t.csv", []string{"t.csv"}, ""},
		{"logs/notes.txt", nil, ReasonNoMatch},
		{"missing", nil, ReasonNoMatch},
		{"../outside", nil, ReasonOutsideRoot},
		{"logs/../../outside", nil, ReasonOutsideRoot},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, warnings := r.Expand(tt.pattern)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expand(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
			switch {
			case tt.reason == "" && len(warnings) > 0:
				t.Errorf("unexpected warnings: %v", warnings)
			case tt.reason != "" && (len(warnings) != 1 || warnings[0].Reason != tt.reason):
				t.Errorf("warnings = %v, want reason %q", warnings, tt.reason)
			}
		})
	}
}

func TestExpandAbsolutePattern(t *testing.T) {
	r, root := newTestResolver(t)
	got, warnings := r.Expand(filepath.Join(root, "t.csv"))
	if len(warnings) > 0 || !reflect.DeepEqual(got, []string{"t.csv"}) {
		t.Errorf("Expand = %v, %v", got, warnings)
	}
}

func int64p(n int64) *int64 { return &n }

func TestResolveWindowIsInclusive(t *testing.T) {
	r, _ := newTestResolver(t)
	res, err := r.Resolve(context.Background(), querylang.FilterBlock{
		Paths:    []string{"logs/a.csv"},
		Earliest: int64p(200),
		Latest:   int64p(300),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Batches) != 1 {
		t.Fatalf("got %d batches", len(res.Batches))
	}
	b := res.Batches[0]
	if !reflect.DeepEqual(b.Offsets, []int{1, 2}) {
		t.Errorf("Offsets = %v, want [1 2]", b.Offsets)
	}
	var epochs []string
	for _, row := range b.Data.Rows {
		epochs = append(epochs, row[EpochColumn].AsText())
	}
	if !reflect.DeepEqual(epochs, []string{"200", "300"}) {
		t.Errorf("epochs = %v", epochs)
	}
}

func TestResolveSortedUnionOfPatterns(t *testing.T) {
	r, _ := newTestResolver(t)
	res, err := r.Resolve(context.Background(), querylang.FilterBlock{
		Paths: []string{"t", "logs/*", "logs/a.csv"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var files []string
	for _, b := range res.Batches {
		files = append(files, b.File)
	}
	want := []string{"logs/a.csv", "logs/b.json", "logs/sub/c.csv", "t.csv"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestResolveSkipsFilesWithoutEpoch(t *testing.T) {
	r, _ := newTestResolver(t)
	res, err := r.Resolve(context.Background(), querylang.FilterBlock{
		Paths:    []string{"t.csv", "logs/sub/c.csv"},
		Earliest: int64p(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Batches) != 1 || res.Batches[0].File != "logs/sub/c.csv" {
		t.Fatalf("batches = %+v", res.Batches)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Reason != ReasonNoEpoch || res.Warnings[0].File != "t.csv" {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestResolveNoPaths(t *testing.T) {
	r, _ := newTestResolver(t)
	res, err := r.Resolve(context.Background(), querylang.FilterBlock{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Batches) != 0 || len(res.Warnings) != 1 || res.Warnings[0].Reason != ReasonNoIndex {
		t.Errorf("res = %+v", res)
	}
}

func TestResolveSourceColumn(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.csv", "x\n1\n")
	r := New(Config{Root: root, Extensions: []string{".csv"}, AddSourceColumn: true})
	res, err := r.Resolve(context.Background(), querylang.FilterBlock{Paths: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	d := res.Batches[0].Data
	if !d.HasColumn(FileColumn) || d.Get(0, FileColumn).AsText() != "a.csv" {
		t.Errorf("source column = %v (columns %v)", d.Get(0, FileColumn), d.Columns)
	}
}

func TestResolveFileTooLarge(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.csv", "x\n1\n2\n3\n4\n5\n")
	r := New(Config{Root: root, Extensions: []string{".csv"}, MaxFileBytes: 4})
	res, err := r.Resolve(context.Background(), querylang.FilterBlock{Paths: []string{"big.csv"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Batches) != 0 || len(res.Warnings) != 1 {
		t.Fatalf("res = %+v", res)
	}
	if !errors.Is(res.Warnings[0], ErrFileTooLarge) {
		t.Errorf("warning = %v, want ErrFileTooLarge", res.Warnings[0])
	}
}

func TestResolveCacheRefreshesChangedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.csv", "x\n1\n")
	r := New(Config{Root: root, Extensions: []string{".csv"}})
	block := querylang.FilterBlock{Paths: []string{"a.csv"}}

	for range 2 {
		res, err := r.Resolve(context.Background(), block)
		if err != nil {
			t.Fatal(err)
		}
		// Mutating a batch must not leak into the cache.
		res.Batches[0].Data.Rows[0]["x"] = querylang.StrValue("changed")
	}
	if r.Cached() != 1 {
		t.Errorf("Cached = %d, want 1", r.Cached())
	}

	writeFile(t, root, "a.csv", "x\n1\n2\n")
	res, err := r.Resolve(context.Background(), block)
	if err != nil {
		t.Fatal(err)
	}
	if n := res.Batches[0].Data.Len(); n != 2 {
		t.Errorf("rows after rewrite = %d, want 2", n)
	}
	if got := res.Batches[0].Data.Get(0, "x").AsText(); got != "1" {
		t.Errorf("x = %q, want 1", got)
	}

	r.Invalidate()
	if r.Cached() != 0 {
		t.Errorf("Cached after Invalidate = %d", r.Cached())
	}
}

func TestResolveCanceled(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, querylang.FilterBlock{Paths: []string{"logs"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestInWindow(t *testing.T) {
	tests := []struct {
		epoch    querylang.Value
		earliest *int64
		latest   *int64
		want     bool
	}{
		{querylang.NumValue(5), nil, nil, true},
		{querylang.NumValue(5), int64p(5), int64p(5), true},
		{querylang.StrValue("6"), int64p(5), nil, true},
		{querylang.NumValue(4), int64p(5), nil, false},
		{querylang.NumValue(7), nil, int64p(6), false},
		{querylang.NullValue(), nil, nil, false},
	}
	for _, tt := range tests {
		if got := InWindow(tt.epoch, tt.earliest, tt.latest); got != tt.want {
			t.Errorf("InWindow(%v) = %v, want %v", tt.epoch, got, tt.want)
		}
	}
}
