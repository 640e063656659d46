// Package config holds the engine configuration and its on-disk form.
//
// The config file lives in the home directory (config.json, config.yaml or
// config.yml). A missing file means "all defaults". Every field that is
// omitted from the file keeps its default value.
//
// Config does not:
//   - Watch the file for live changes (load-on-start only)
//   - Validate macro bodies (they are parsed when first expanded)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"speakquery/internal/home"
	"speakquery/internal/logging"
)

// DefaultMaxGroups caps the number of groups one stats-family directive may
// produce.
const DefaultMaxGroups = 10_000

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the engine configuration.
type Config struct {
	// Version is the file format version. Zero means current.
	Version int `json:"version,omitempty" yaml:"version,omitempty"`

	// IndexRoot is the directory index="..." patterns resolve against.
	// Relative paths are relative to the home directory.
	IndexRoot string `json:"indexRoot,omitempty" yaml:"indexRoot,omitempty"`

	// LookupRoot holds lookup, inputlookup and outputlookup files.
	LookupRoot string `json:"lookupRoot,omitempty" yaml:"lookupRoot,omitempty"`

	// JobRoot holds persisted query results.
	JobRoot string `json:"jobRoot,omitempty" yaml:"jobRoot,omitempty"`

	// IndexExtensions lists the file extensions treated as index files when a
	// pattern names a directory or omits the extension. Order matters for
	// extension-less patterns: the first existing match wins per extension.
	IndexExtensions []string `json:"indexExtensions,omitempty" yaml:"indexExtensions,omitempty"`

	// LoadConcurrency bounds concurrent file loads within one filter block.
	LoadConcurrency int `json:"loadConcurrency,omitempty" yaml:"loadConcurrency,omitempty"`

	// MaxGroups caps stats/eventstats/streamstats group cardinality.
	MaxGroups int `json:"maxGroups,omitempty" yaml:"maxGroups,omitempty"`

	// MaxFileSize skips index files larger than this ("512MB", "2GB").
	// Empty means no limit.
	MaxFileSize string `json:"maxFileSize,omitempty" yaml:"maxFileSize,omitempty"`

	// AddSourceColumn adds a _file column naming each row's index file.
	AddSourceColumn bool `json:"addSourceColumn,omitempty" yaml:"addSourceColumn,omitempty"`

	// Macros maps a macro name to pipeline text. Arguments are written
	// $name$ in the body and passed as `name(k=v, ...)`.
	Macros map[string]string `json:"macros,omitempty" yaml:"macros,omitempty"`

	// LogLevels overrides the log level per component ("resolver": "debug").
	LogLevels map[string]string `json:"logLevels,omitempty" yaml:"logLevels,omitempty"`

	// ReverseDNS configures the rdns lookup table.
	ReverseDNS ReverseDNSConfig `json:"reverseDNS,omitzero" yaml:"reverseDNS,omitempty"`
}

// ReverseDNSConfig throttles PTR lookups issued by the rdns lookup table.
type ReverseDNSConfig struct {
	// RatePerSecond is the sustained lookup rate. Zero uses the default.
	RatePerSecond float64 `json:"ratePerSecond,omitempty" yaml:"ratePerSecond,omitempty"`
	// Burst is the token bucket size.
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`
	// CacheSize bounds the number of cached answers.
	CacheSize int `json:"cacheSize,omitempty" yaml:"cacheSize,omitempty"`
}

// Default returns the built-in configuration. Roots are empty and resolve to
// the home directory layout in ResolvePaths.
func Default() *Config {
	return &Config{
		Version:         currentVersion,
		IndexExtensions: []string{".parquet", ".csv", ".tsv", ".json", ".jsonl", ".ndjson"},
		LoadConcurrency: 8,
		MaxGroups:       DefaultMaxGroups,
		ReverseDNS: ReverseDNSConfig{
			RatePerSecond: 50,
			Burst:         10,
			CacheSize:     4096,
		},
	}
}

// ResolvePaths fills empty roots from the home layout and makes relative
// roots absolute below the home root.
func (c *Config) ResolvePaths(h home.Dir) {
	resolve := func(p, def string) string {
		switch {
		case p == "":
			return def
		case filepath.IsAbs(p):
			return filepath.Clean(p)
		default:
			return filepath.Join(h.Root(), p)
		}
	}
	c.IndexRoot = resolve(c.IndexRoot, h.IndexDir())
	c.LookupRoot = resolve(c.LookupRoot, h.LookupDir())
	c.JobRoot = resolve(c.JobRoot, h.JobDir())
}

var macroNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks field ranges. It does not touch the filesystem.
func (c *Config) Validate() error {
	if c.Version > currentVersion {
		return fmt.Errorf("%w: version %d is newer than supported version %d", ErrInvalidConfig, c.Version, currentVersion)
	}
	if c.LoadConcurrency < 1 {
		return fmt.Errorf("%w: loadConcurrency must be at least 1, got %d", ErrInvalidConfig, c.LoadConcurrency)
	}
	if c.MaxGroups < 1 {
		return fmt.Errorf("%w: maxGroups must be at least 1, got %d", ErrInvalidConfig, c.MaxGroups)
	}
	if len(c.IndexExtensions) == 0 {
		return fmt.Errorf("%w: indexExtensions must not be empty", ErrInvalidConfig)
	}
	for _, ext := range c.IndexExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("%w: index extension %q must start with '.'", ErrInvalidConfig, ext)
		}
	}
	if c.MaxFileSize != "" {
		if _, err := ParseBytes(c.MaxFileSize); err != nil {
			return fmt.Errorf("%w: maxFileSize: %v", ErrInvalidConfig, err)
		}
	}
	for name := range c.Macros {
		if !macroNameRe.MatchString(name) {
			return fmt.Errorf("%w: invalid macro name %q", ErrInvalidConfig, name)
		}
	}
	if _, err := c.Levels(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.ReverseDNS.RatePerSecond < 0 || c.ReverseDNS.Burst < 0 || c.ReverseDNS.CacheSize < 0 {
		return fmt.Errorf("%w: reverseDNS values must not be negative", ErrInvalidConfig)
	}
	return nil
}

// MaxFileBytes returns the parsed MaxFileSize, or 0 for no limit.
func (c *Config) MaxFileBytes() uint64 {
	if c.MaxFileSize == "" {
		return 0
	}
	n, err := ParseBytes(c.MaxFileSize)
	if err != nil {
		return 0
	}
	return n
}

// Levels parses LogLevels.
func (c *Config) Levels() (map[string]slog.Level, error) {
	out := make(map[string]slog.Level, len(c.LogLevels))
	for component, name := range c.LogLevels {
		lvl, err := logging.ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("log level for %s: %w", component, err)
		}
		out[component] = lvl
	}
	return out, nil
}

// ParseBytes parses a byte size string with optional suffix (B, KB, MB, GB).
// Examples: "1024", "64KB", "512MB", "2GB".
func ParseBytes(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}

	s = strings.ToUpper(s)

	var multiplier uint64 = 1
	numStr := s
	for _, u := range []struct {
		suffix string
		mult   uint64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			numStr = strings.TrimSuffix(s, u.suffix)
			break
		}
	}

	n, err := strconv.ParseUint(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, err
	}
	return n * multiplier, nil
}
