// Package table reads and writes datasets as files. The file format is
// chosen by extension; a trailing compression suffix (.gz, .zst, .br, .xz,
// .bz2) is decoded transparently on read and applied on write.
package table

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"speakquery/internal/dataset"
)

// Format identifies a table file format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatTSV
	FormatJSON
	FormatJSONLines
	FormatYAML
	FormatParquet
	FormatXLSX
	FormatSQLite
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatTSV:
		return "tsv"
	case FormatJSON:
		return "json"
	case FormatJSONLines:
		return "jsonl"
	case FormatYAML:
		return "yaml"
	case FormatParquet:
		return "parquet"
	case FormatXLSX:
		return "xlsx"
	case FormatSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

var formatsByExt = map[string]Format{
	".csv":     FormatCSV,
	".tsv":     FormatTSV,
	".json":    FormatJSON,
	".jsonl":   FormatJSONLines,
	".ndjson":  FormatJSONLines,
	".yaml":    FormatYAML,
	".yml":     FormatYAML,
	".parquet": FormatParquet,
	".xlsx":    FormatXLSX,
	".sqlite":  FormatSQLite,
	".db":      FormatSQLite,
}

var (
	// ErrUnsupportedFormat is returned for paths whose extension names no
	// supported table format.
	ErrUnsupportedFormat = errors.New("unsupported table format")
	// ErrMalformed is returned when a file's content does not form a table.
	ErrMalformed = errors.New("malformed table file")
)

// Detect returns the table format and compression implied by path.
func Detect(path string) (Format, Compression, error) {
	ext, comp := splitExt(path)
	f, ok := formatsByExt[ext]
	if !ok {
		return FormatUnknown, CompressionNone, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Base(path))
	}
	if f == FormatSQLite && comp != CompressionNone {
		return FormatUnknown, CompressionNone, fmt.Errorf("%w: compressed sqlite %q", ErrUnsupportedFormat, filepath.Base(path))
	}
	return f, comp, nil
}

// Extensions returns every recognised table extension, sorted.
func Extensions() []string {
	out := make([]string, 0, len(formatsByExt))
	for ext := range formatsByExt {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// Ext returns the lower-cased format extension of path with any compression
// suffix removed: "a/b.csv.gz" yields ".csv".
func Ext(path string) string {
	ext, _ := splitExt(path)
	return ext
}

// Supported reports whether path has a readable table extension.
func Supported(path string) bool {
	_, _, err := Detect(path)
	return err == nil
}

func splitExt(path string) (string, Compression) {
	base := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(base)
	comp := compressionByExt(ext)
	if comp != CompressionNone {
		ext = filepath.Ext(strings.TrimSuffix(base, ext))
	}
	return ext, comp
}

// Read loads the table file at path.
func Read(path string) (*dataset.Dataset, error) {
	format, comp, err := Detect(path)
	if err != nil {
		return nil, err
	}
	var ds *dataset.Dataset
	switch format {
	case FormatSQLite:
		ds, err = readSQLite(path)
	case FormatParquet:
		ds, err = readParquetFile(path, comp)
	default:
		ds, err = readStream(path, format, comp)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ds, nil
}

func readStream(path string, format Format, comp Compression) (*dataset.Dataset, error) {
	r, err := openDecompressed(path, comp)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	switch format {
	case FormatCSV:
		return readDelimited(r, ',')
	case FormatTSV:
		return readDelimited(r, '\t')
	case FormatJSON, FormatJSONLines:
		return readJSON(r)
	case FormatYAML:
		return readYAML(r)
	case FormatXLSX:
		return readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Write stores ds at path, replacing any existing file. Parent directories
// are created as needed. The file is written to a temporary name first and
// renamed into place.
func Write(path string, ds *dataset.Dataset) error {
	format, comp, err := Detect(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if format == FormatSQLite {
		if err := writeSQLite(path, ds); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	}

	tmpPath := path + ".tmp"
	if err := writeFile(tmpPath, format, comp, ds); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func writeFile(path string, format Format, comp Compression, ds *dataset.Dataset) error {
	f, err := os.Create(path) //nolint:gosec // G304: output path is chosen by the query author
	if err != nil {
		return err
	}
	w, err := compressWriter(f, comp)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := encode(w, format, ds); err != nil {
		_ = w.Close()
		_ = f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ParseFormat returns the format named by an extension-less name such as
// "csv" or "jsonl".
func ParseFormat(name string) (Format, error) {
	if f, ok := formatsByExt["."+strings.ToLower(name)]; ok {
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// Encode writes ds to w in format. SQLite needs a file and is rejected.
func Encode(w io.Writer, format Format, ds *dataset.Dataset) error {
	return encode(w, format, ds)
}

func encode(w io.Writer, format Format, ds *dataset.Dataset) error {
	switch format {
	case FormatCSV:
		return writeDelimited(w, ',', ds)
	case FormatTSV:
		return writeDelimited(w, '\t', ds)
	case FormatJSON:
		return writeJSON(w, ds)
	case FormatJSONLines:
		return ds.WriteJSONLines(w)
	case FormatYAML:
		return writeYAML(w, ds)
	case FormatParquet:
		return writeParquet(w, ds)
	case FormatXLSX:
		return writeXLSX(w, ds)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
