package lookup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"speakquery/internal/callgroup"
	"speakquery/internal/dataset"
	"speakquery/internal/logging"
	"speakquery/internal/table"
)

// RDNSName is the registry name of the reverse DNS table.
const RDNSName = "rdns"

const mmdbExt = ".mmdb"

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Root   string
	RDNS   []RDNSOption
	Logger *slog.Logger
}

// Registry resolves lookup names to tables. Names are paths relative to
// the lookup root; a name without an extension also matches the name with
// any table extension or .mmdb appended. File contents are cached and
// refreshed when the file changes. Safe for concurrent use.
type Registry struct {
	root   string
	logger *slog.Logger
	rdns   *RDNS

	loads callgroup.Group[string, *dataset.Dataset]

	mu        sync.Mutex
	files     map[string]*fileEntry
	mmdbs     map[string]*MMDB
	watching  bool
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

type fileEntry struct {
	size    int64
	modTime time.Time
	data    *dataset.Dataset
	tables  map[string]*FileTable
}

// NewRegistry creates a registry rooted at cfg.Root.
func NewRegistry(cfg RegistryConfig) *Registry {
	root := cfg.Root
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Registry{
		root:   root,
		logger: logging.Default(cfg.Logger).With("component", "lookup"),
		rdns:   NewRDNS(cfg.RDNS...),
		files:  make(map[string]*fileEntry),
		mmdbs:  make(map[string]*MMDB),
	}
}

// Root returns the lookup root directory.
func (r *Registry) Root() string { return r.root }

// Path maps a lookup name to an absolute path below the root. The file
// need not exist.
func (r *Registry) Path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrNotFound)
	}
	p := filepath.FromSlash(name)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(r.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}
	return p, nil
}

// locate returns the existing file a name refers to.
func (r *Registry) locate(name string) (string, error) {
	p, err := r.Path(name)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
		return p, nil
	}
	if !table.Supported(p) && filepath.Ext(p) != mmdbExt {
		for _, ext := range append(table.Extensions(), mmdbExt) {
			if info, err := os.Stat(p + ext); err == nil && info.Mode().IsRegular() {
				return p + ext, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Table returns the table for name keyed on key. The key is ignored by
// MMDB and reverse DNS tables.
func (r *Registry) Table(ctx context.Context, name, key string) (Table, error) {
	if strings.EqualFold(name, RDNSName) {
		return r.rdns, nil
	}
	path, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), mmdbExt) {
		return r.mmdb(path)
	}

	entry, err := r.entry(ctx, path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := entry.tables[key]; ok {
		return t, nil
	}
	t, err := NewFileTable(entry.data, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	entry.tables[key] = t
	return t, nil
}

// Dataset returns a copy of the file table called name.
func (r *Registry) Dataset(ctx context.Context, name string) (*dataset.Dataset, error) {
	path, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), mmdbExt) {
		return nil, fmt.Errorf("%w: %q is an MMDB database", table.ErrUnsupportedFormat, name)
	}
	entry, err := r.entry(ctx, path)
	if err != nil {
		return nil, err
	}
	return entry.data.Clone(), nil
}

func (r *Registry) entry(ctx context.Context, path string) (*fileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	e, ok := r.files[path]
	r.mu.Unlock()
	if ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e, nil
	}
	if ok {
		r.logger.Info("lookup file changed, reloading", "path", path)
	}

	if _, _, err := r.loads.Do(ctx, path, func() (*dataset.Dataset, error) {
		ds, err := table.Read(path)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.files[path] = &fileEntry{
			size:    info.Size(),
			modTime: info.ModTime(),
			data:    ds,
			tables:  make(map[string]*FileTable),
		}
		r.mu.Unlock()
		r.logger.Debug("lookup file loaded", "path", path, "rows", ds.Len())
		return ds, nil
	}); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.files[path]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q was removed while loading", ErrNotFound, path)
}

func (r *Registry) mmdb(path string) (*MMDB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mmdbs[path]; ok {
		return m, nil
	}
	m := NewMMDB(r.logger)
	info, err := m.Load(path)
	if err != nil {
		return nil, err
	}
	if r.watching {
		if err := m.WatchFile(path); err != nil {
			r.logger.Warn("cannot watch mmdb file", "path", path, "error", err)
		}
	}
	r.logger.Debug("mmdb opened", "path", path, "type", info.DatabaseType, "built", info.BuildTime)
	r.mmdbs[path] = m
	return m, nil
}

// Exists reports whether name refers to an existing lookup file.
func (r *Registry) Exists(name string) bool {
	_, err := r.locate(name)
	return err == nil
}

// Write stores ds as the lookup file name, replacing it.
func (r *Registry) Write(name string, ds *dataset.Dataset) error {
	path, err := r.Path(name)
	if err != nil {
		return err
	}
	if err := table.Write(path, ds); err != nil {
		return err
	}
	r.Invalidate(path)
	return nil
}

// Remove deletes the lookup file name. A missing file is not an error.
func (r *Registry) Remove(name string) error {
	path, err := r.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	r.Invalidate(path)
	return nil
}

// Invalidate drops cached contents for the given absolute path.
func (r *Registry) Invalidate(path string) {
	r.mu.Lock()
	delete(r.files, path)
	r.mu.Unlock()
}

// Watch starts watching the lookup root. File changes evict cached
// tables and MMDB files opened afterwards reload on change.
func (r *Registry) Watch() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	err = filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", r.root, err)
	}
	r.watcher = w
	r.watching = true
	r.watchDone = make(chan struct{})
	go r.watchLoop(w, r.watchDone)
	return nil
}

func (r *Registry) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			r.mu.Lock()
			_, cached := r.files[ev.Name]
			delete(r.files, ev.Name)
			r.mu.Unlock()
			if cached {
				r.logger.Info("lookup file evicted", "path", ev.Name, "op", ev.Op.String())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("lookup watch error", "error", err)
		}
	}
}

// Close stops watching and closes MMDB readers.
func (r *Registry) Close() {
	r.mu.Lock()
	w, done := r.watcher, r.watchDone
	r.watcher, r.watchDone, r.watching = nil, nil, false
	mmdbs := r.mmdbs
	r.mmdbs = make(map[string]*MMDB)
	r.mu.Unlock()

	if w != nil {
		_ = w.Close()
		<-done
	}
	for _, m := range mmdbs {
		m.Close()
	}
}
