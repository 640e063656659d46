// Package home manages the speakquery home directory layout.
//
// The home directory owns all state the engine reads or writes by default:
// the config file, index files, lookup files and persisted job results.
// Every location can be overridden in the config file.
//
// Layout:
//
//	<root>/
//	  config.json  or  config.yaml   (engine config, optional)
//	  instance_id                    (stable identity used in job metadata)
//	  indexes/                       (index table files, searched by index="...")
//	  lookups/                       (lookup/inputlookup/outputlookup files)
//	  jobs/                          (persisted results, loaded by loadjob)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir represents a speakquery home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/speakquery
//   - macOS:   ~/Library/Application Support/speakquery
//   - Windows: %APPDATA%/speakquery
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "speakquery")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the config file path. A YAML file wins over JSON when
// both exist; when neither exists the JSON path is returned.
func (d Dir) ConfigPath() string {
	for _, name := range []string{"config.yaml", "config.yml"} {
		p := filepath.Join(d.root, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(d.root, "config.json")
}

// IndexDir returns the default index root.
func (d Dir) IndexDir() string {
	return filepath.Join(d.root, "indexes")
}

// LookupDir returns the default lookup root.
func (d Dir) LookupDir() string {
	return filepath.Join(d.root, "lookups")
}

// JobDir returns the directory for persisted job results.
func (d Dir) JobDir() string {
	return filepath.Join(d.root, "jobs")
}

// EnsureExists creates the home directory and its standard subdirectories.
func (d Dir) EnsureExists() error {
	for _, dir := range []string{d.root, d.IndexDir(), d.LookupDir(), d.JobDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create home directory %s: %w", dir, err)
		}
	}
	return nil
}

// InstanceID reads the persistent instance identity from <root>/instance_id.
// If the file doesn't exist, a new UUIDv7 is generated and written.
func (d Dir) InstanceID() (string, error) {
	return d.readOrCreate("instance_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is constructed from trusted home dir + constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: instance id is not secret
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
