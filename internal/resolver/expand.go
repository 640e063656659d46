package resolver

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"speakquery/internal/table"
)

// Expand returns the index files matched by pattern as sorted paths
// relative to the root, with forward slashes.
func (r *Resolver) Expand(pattern string) ([]string, []*ResolutionWarning) {
	clean := strings.TrimSpace(pattern)
	if clean == "" {
		return nil, []*ResolutionWarning{{Pattern: pattern, Reason: ReasonNoMatch}}
	}
	full := filepath.FromSlash(clean)
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.cfg.Root, full)
	}
	full = filepath.Clean(full)
	if !r.within(full) {
		return nil, []*ResolutionWarning{{Pattern: pattern, Reason: ReasonOutsideRoot}}
	}

	files := r.glob(full)
	if len(files) == 0 && !r.indexExt(full) {
		for _, ext := range r.cfg.Extensions {
			files = append(files, r.glob(full+ext)...)
		}
	}

	var out []string
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if !r.within(f) {
			continue
		}
		rel, err := filepath.Rel(r.cfg.Root, f)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if !seen[rel] {
			seen[rel] = true
			out = append(out, rel)
		}
	}
	if len(out) == 0 {
		return nil, []*ResolutionWarning{{Pattern: pattern, Reason: ReasonNoMatch}}
	}
	slices.Sort(out)
	return out, nil
}

// glob matches pattern against the filesystem. Matched directories expand
// to the index files below them.
func (r *Resolver) glob(pattern string) []string {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		switch {
		case info.IsDir():
			out = append(out, r.walk(m)...)
		case info.Mode().IsRegular() && r.indexExt(m):
			out = append(out, m)
		}
	}
	return out
}

func (r *Resolver) walk(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && r.indexExt(path) {
			out = append(out, path)
		}
		return nil
	})
	return out
}

// indexExt reports whether path carries a configured index extension,
// ignoring any compression suffix.
func (r *Resolver) indexExt(path string) bool {
	if !table.Supported(path) {
		return false
	}
	return slices.Contains(r.cfg.Extensions, table.Ext(path))
}

func (r *Resolver) within(path string) bool {
	rel, err := filepath.Rel(r.cfg.Root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *Resolver) abs(rel string) string {
	return filepath.Join(r.cfg.Root, filepath.FromSlash(rel))
}
