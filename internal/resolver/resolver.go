// Package resolver turns the index patterns and time window of a filter
// block into loaded rows.
//
// Patterns are resolved below a single index root with doublestar globbing.
// A directory expands recursively to every file carrying a configured index
// extension, and a pattern with no recognised extension is retried with
// each configured extension appended. Problems with individual patterns or
// files are reported as ResolutionWarnings and never abort the query.
//
// Loaded files are cached by path, size and modification time, and
// concurrent loads of the same file are collapsed into one.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"speakquery/internal/callgroup"
	"speakquery/internal/dataset"
	"speakquery/internal/logging"
	"speakquery/internal/querylang"
	"speakquery/internal/table"
)

// Column names with a fixed meaning.
const (
	EpochColumn = "_epoch"
	FileColumn  = "_file"
)

// Config holds resolver settings.
type Config struct {
	Root            string
	Extensions      []string // index file extensions, e.g. ".parquet"
	Concurrency     int      // max files loaded at once
	MaxFileBytes    uint64   // 0 means unlimited
	AddSourceColumn bool     // expose the relative file path as _file
	Logger          *slog.Logger
}

// Resolver loads index files for filter blocks. It is safe for concurrent
// use.
type Resolver struct {
	cfg    Config
	logger *slog.Logger

	loads callgroup.Group[string, *dataset.Dataset]

	mu    sync.Mutex
	cache map[string]cachedFile
}

type cachedFile struct {
	size    int64
	modTime time.Time
	data    *dataset.Dataset
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if abs, err := filepath.Abs(cfg.Root); err == nil {
		cfg.Root = abs
	}
	return &Resolver{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "resolver"),
		cache:  make(map[string]cachedFile),
	}
}

// Root returns the index root directory.
func (r *Resolver) Root() string {
	return r.cfg.Root
}

// Batch holds the rows one file contributed to a block, after the time
// window. Offsets[i] is the position of Data.Rows[i] in the file, so that
// (File, Offset) identifies a physical row across blocks.
type Batch struct {
	File    string // path relative to the index root
	Data    *dataset.Dataset
	Offsets []int
}

// Resolution is the outcome of resolving one filter block.
type Resolution struct {
	Batches  []Batch
	Warnings []*ResolutionWarning
}

// Resolve expands the block's patterns, loads every matched file and
// applies the block's time window. Row filters are not applied.
func (r *Resolver) Resolve(ctx context.Context, block querylang.FilterBlock) (*Resolution, error) {
	res := &Resolution{}
	warn := func(w *ResolutionWarning) {
		r.logger.Warn("index resolution", "pattern", w.Pattern, "file", w.File, "reason", w.Reason)
		res.Warnings = append(res.Warnings, w)
	}

	if len(block.Paths) == 0 {
		warn(&ResolutionWarning{Reason: ReasonNoIndex})
		return res, nil
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range block.Paths {
		matched, ws := r.Expand(pattern)
		for _, w := range ws {
			warn(w)
		}
		for _, f := range matched {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	slices.Sort(files)

	loaded := make([]*dataset.Dataset, len(files))
	loadErrs := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			loaded[i], loadErrs[i] = r.load(gctx, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	windowed := block.Earliest != nil || block.Latest != nil
	for i, rel := range files {
		if loadErrs[i] != nil {
			warn(&ResolutionWarning{File: rel, Reason: ReasonUnreadable, Err: loadErrs[i]})
			continue
		}
		data := loaded[i]
		if data == nil {
			continue
		}
		if windowed && !data.HasColumn(EpochColumn) {
			warn(&ResolutionWarning{File: rel, Reason: ReasonNoEpoch})
			continue
		}
		res.Batches = append(res.Batches, r.batch(rel, data, block.Earliest, block.Latest))
	}

	r.logger.Debug("block resolved", "block", block.String(), "files", len(files), "batches", len(res.Batches))
	return res, nil
}

// batch copies the rows of data that fall inside [earliest, latest].
func (r *Resolver) batch(rel string, data *dataset.Dataset, earliest, latest *int64) Batch {
	b := Batch{File: rel, Data: dataset.New(data.Columns...)}
	if r.cfg.AddSourceColumn {
		b.Data.AddColumn(FileColumn)
	}
	for i, row := range data.Rows {
		if earliest != nil || latest != nil {
			if !InWindow(row[EpochColumn], earliest, latest) {
				continue
			}
		}
		out := dataset.CloneRow(row)
		if r.cfg.AddSourceColumn {
			out[FileColumn] = querylang.StrValue(rel)
		}
		b.Data.Rows = append(b.Data.Rows, out)
		b.Offsets = append(b.Offsets, i)
	}
	return b
}

// InWindow reports whether epoch lies in the inclusive window. Nil bounds
// are open. A non-numeric epoch is outside every window.
func InWindow(epoch querylang.Value, earliest, latest *int64) bool {
	n, ok := epoch.AsNumber()
	if !ok {
		return false
	}
	if earliest != nil && n < float64(*earliest) {
		return false
	}
	if latest != nil && n > float64(*latest) {
		return false
	}
	return true
}

// load returns the parsed contents of one index file, from cache when the
// file is unchanged.
func (r *Resolver) load(ctx context.Context, rel string) (*dataset.Dataset, error) {
	path := r.abs(rel)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if limit := r.cfg.MaxFileBytes; limit > 0 && uint64(info.Size()) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, info.Size(), limit)
	}

	r.mu.Lock()
	c, ok := r.cache[path]
	r.mu.Unlock()
	if ok && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
		return c.data, nil
	}

	data, shared, err := r.loads.Do(ctx, path, func() (*dataset.Dataset, error) {
		start := time.Now()
		ds, err := table.Read(path)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[path] = cachedFile{size: info.Size(), modTime: info.ModTime(), data: ds}
		r.mu.Unlock()
		r.logger.Debug("index file loaded", "file", rel, "rows", ds.Len(), "duration", time.Since(start))
		return ds, nil
	})
	if shared {
		r.logger.Debug("index file load shared", "file", rel)
	}
	return data, err
}

// Invalidate drops cached file contents. With no paths the whole cache is
// cleared.
func (r *Resolver) Invalidate(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(paths) == 0 {
		clear(r.cache)
		return
	}
	for _, p := range paths {
		delete(r.cache, r.abs(p))
	}
}

// Cached returns the number of files held in the cache.
func (r *Resolver) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
