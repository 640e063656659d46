package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"speakquery/internal/home"
)

func TestParseBytesValid(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
	}{
		{"100", 100},
		{"100B", 100},
		{"100b", 100},
		{"1KB", 1024},
		{"1kb", 1024},
		{"64MB", 64 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{" 100 MB ", 100 * 1024 * 1024},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseBytes(tc.input)
			if err != nil {
				t.Fatalf("ParseBytes(%q) error: %v", tc.input, err)
			}
			if got != tc.expected {
				t.Errorf("ParseBytes(%q) = %d, want %d", tc.input, got, tc.expected)
			}
		})
	}
}

func TestParseBytesInvalid(t *testing.T) {
	for _, input := range []string{"", "abc", "-100", "100TB"} {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseBytes(input); err == nil {
				t.Errorf("ParseBytes(%q) expected error, got nil", input)
			}
		})
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load = %+v, want defaults", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "indexRoot": "data",
  "maxGroups": 50,
  "addSourceColumn": true,
  "macros": {"errors": "search status=error | stats count by host"},
  "logLevels": {"resolver": "debug"}
}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IndexRoot != "data" || cfg.MaxGroups != 50 || !cfg.AddSourceColumn {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.LoadConcurrency != Default().LoadConcurrency {
		t.Errorf("LoadConcurrency = %d, want default", cfg.LoadConcurrency)
	}
	if cfg.Macros["errors"] == "" {
		t.Error("macro not loaded")
	}
	levels, err := cfg.Levels()
	if err != nil {
		t.Fatal(err)
	}
	if levels["resolver"] != slog.LevelDebug {
		t.Errorf("resolver level = %v", levels["resolver"])
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
lookupRoot: /srv/lookups
indexExtensions: [".parquet", ".csv"]
maxFileSize: 2MB
reverseDNS:
  ratePerSecond: 5
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LookupRoot != "/srv/lookups" {
		t.Errorf("LookupRoot = %q", cfg.LookupRoot)
	}
	if !reflect.DeepEqual(cfg.IndexExtensions, []string{".parquet", ".csv"}) {
		t.Errorf("IndexExtensions = %v", cfg.IndexExtensions)
	}
	if cfg.MaxFileBytes() != 2<<20 {
		t.Errorf("MaxFileBytes = %d", cfg.MaxFileBytes())
	}
	if cfg.ReverseDNS.RatePerSecond != 5 {
		t.Errorf("RatePerSecond = %v", cfg.ReverseDNS.RatePerSecond)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    string
		invalid bool
	}{
		{"unknown json key", "config.json", `{"indexRot": "x"}`, false},
		{"unknown yaml key", "config.yaml", "indexRot: x\n", false},
		{"bad json", "config.json", `{`, false},
		{"zero concurrency", "config.json", `{"loadConcurrency": -1}`, true},
		{"bad extension", "config.json", `{"indexExtensions": ["parquet"]}`, true},
		{"bad level", "config.yaml", "logLevels:\n  query: loud\n", true},
		{"bad macro name", "config.json", `{"macros": {"a b": "head"}}`, true},
		{"newer version", "config.json", `{"version": 99}`, true},
		{"bad size", "config.json", `{"maxFileSize": "lots"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.data), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrInvalidConfig); got != tt.invalid {
				t.Errorf("errors.Is(err, ErrInvalidConfig) = %v, want %v (%v)", got, tt.invalid, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.IndexRoot = "/data/idx"
			cfg.Macros = map[string]string{"top": "stats count by $field$ | sort - count"}
			if err := Save(path, cfg); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temp file left behind")
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(got, cfg) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
			}
		})
	}
}

func TestResolvePaths(t *testing.T) {
	h := home.New("/home/u/.speakquery")
	cfg := Default()
	cfg.LookupRoot = "shared/lookups"
	cfg.JobRoot = "/var/jobs/"
	cfg.ResolvePaths(h)

	if cfg.IndexRoot != h.IndexDir() {
		t.Errorf("IndexRoot = %q, want %q", cfg.IndexRoot, h.IndexDir())
	}
	if want := filepath.Join(h.Root(), "shared", "lookups"); cfg.LookupRoot != want {
		t.Errorf("LookupRoot = %q, want %q", cfg.LookupRoot, want)
	}
	if cfg.JobRoot != "/var/jobs" {
		t.Errorf("JobRoot = %q", cfg.JobRoot)
	}
}
