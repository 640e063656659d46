package jobstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

func results() *dataset.Dataset {
	return dataset.FromRows([]string{"status", "count"}, []dataset.Row{
		{"status": querylang.StrValue("error"), "count": querylang.NumValue(3)},
		{"status": querylang.StrValue("ok"), "count": querylang.NumValue(12)},
	})
}

func TestSaveAndLoad(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "jobs"), nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Save(`index="web" | stats count by status`, results())
	if err != nil {
		t.Fatal(err)
	}
	if id.Version() != 7 {
		t.Errorf("id version = %d, want 7", id.Version())
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), id.String()+".mpk")); err != nil {
		t.Errorf("job file: %v", err)
	}

	ds, err := s.Load(id)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 2 || ds.Columns[0] != "status" || ds.Columns[1] != "count" {
		t.Fatalf("loaded = %v rows, columns %v", ds.Len(), ds.Columns)
	}
	if n, _ := ds.Get(1, "count").AsNumber(); n != 12 {
		t.Errorf("count = %v, want 12", ds.Get(1, "count"))
	}
}

func TestLoadUnknown(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(uuid.Must(uuid.NewV7())); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestParseID(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	got, err := ParseID(" " + id.String() + " ")
	if err != nil || got != id {
		t.Errorf("ParseID = %v, %v", got, err)
	}
	if _, err := ParseID("job-1"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
}

func TestListAndPrune(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := range 3 {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		id, err := s.Save("q", results())
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Fatalf("List = %d jobs, want 3", len(jobs))
	}
	for i, j := range jobs {
		if j.ID != ids[i] {
			t.Errorf("jobs[%d] = %s, want %s", i, j.ID, ids[i])
		}
		if j.Rows != 2 || len(j.Columns) != 2 || j.Query != "q" {
			t.Errorf("jobs[%d] = %+v", i, j)
		}
	}

	n, err := s.Prune(base.Add(90 * time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	if _, err := s.Load(ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned job still loads: %v", err)
	}
	if _, err := s.Load(ids[2]); err != nil {
		t.Errorf("kept job: %v", err)
	}
}
