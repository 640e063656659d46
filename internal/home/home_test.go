package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/speakquery-test")
	if d.Root() != "/tmp/speakquery-test" {
		t.Errorf("expected root /tmp/speakquery-test, got %s", d.Root())
	}
}

func TestDefault(t *testing.T) {
	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if filepath.Base(d.Root()) != "speakquery" {
		t.Errorf("expected root to end with 'speakquery', got %s", d.Root())
	}
}

func TestLayout(t *testing.T) {
	d := New("/data")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"indexes", d.IndexDir(), "/data/indexes"},
		{"lookups", d.LookupDir(), "/data/lookups"},
		{"jobs", d.JobDir(), "/data/jobs"},
		{"config", d.ConfigPath(), "/data/config.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestConfigPathPrefersYAML(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := New(root)
	if got := d.ConfigPath(); got != filepath.Join(root, "config.yaml") {
		t.Errorf("ConfigPath = %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "speakquery")
	d := New(root)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	for _, dir := range []string{root, d.IndexDir(), d.LookupDir(), d.JobDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("Stat(%s): %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s: expected directory", dir)
		}
	}

	// Idempotent.
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("second EnsureExists: %v", err)
	}
}

func TestInstanceIDStable(t *testing.T) {
	d := New(t.TempDir())
	first, err := d.InstanceID()
	if err != nil {
		t.Fatalf("InstanceID: %v", err)
	}
	if first == "" {
		t.Fatal("expected non-empty id")
	}
	second, err := d.InstanceID()
	if err != nil {
		t.Fatalf("InstanceID: %v", err)
	}
	if first != second {
		t.Errorf("instance id changed: %s != %s", first, second)
	}
}
