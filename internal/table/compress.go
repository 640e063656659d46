package table

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"os"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression is the outer compression of a table file.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionBrotli
	CompressionXZ
	CompressionBzip2
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionBrotli:
		return "brotli"
	case CompressionXZ:
		return "xz"
	case CompressionBzip2:
		return "bzip2"
	default:
		return "none"
	}
}

func compressionByExt(ext string) Compression {
	switch ext {
	case ".gz":
		return CompressionGzip
	case ".zst":
		return CompressionZstd
	case ".br":
		return CompressionBrotli
	case ".xz":
		return CompressionXZ
	case ".bz2":
		return CompressionBzip2
	}
	return CompressionNone
}

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	zstdMagic  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic    = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	bzip2Magic = []byte{0x42, 0x5a, 0x68}
)

// sniff detects compression from leading bytes. Brotli has no magic number
// and is only recognised by extension.
func sniff(header []byte) Compression {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(header, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(header, xzMagic):
		return CompressionXZ
	case bytes.HasPrefix(header, bzip2Magic):
		return CompressionBzip2
	}
	return CompressionNone
}

type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openDecompressed opens path and wraps it in a decoder for comp. An
// extension that promises no compression is still checked against the
// magic bytes, so a gzip file saved as plain .csv reads correctly.
func openDecompressed(path string, comp Compression) (io.ReadCloser, error) {
	f, err := os.Open(path) //nolint:gosec // G304: paths are resolved below a configured root
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	if comp == CompressionNone {
		header, _ := br.Peek(len(xzMagic))
		comp = sniff(header)
	}

	rc := &readCloser{Reader: br, closers: []func() error{f.Close}}
	switch comp {
	case CompressionNone:
	case CompressionGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		rc.Reader = zr
		rc.closers = append([]func() error{zr.Close}, rc.closers...)
	case CompressionZstd:
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(0))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		rc.Reader = zr
		rc.closers = append([]func() error{func() error { zr.Close(); return nil }}, rc.closers...)
	case CompressionBrotli:
		rc.Reader = brotli.NewReader(br)
	case CompressionXZ:
		xr, err := xz.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("xz: %w", err)
		}
		rc.Reader = xr
	case CompressionBzip2:
		rc.Reader = bzip2.NewReader(br)
	}
	return rc, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressWriter wraps w in an encoder for comp. Closing the result flushes
// the encoder but does not close w.
func compressWriter(w io.Writer, comp Compression) (io.WriteCloser, error) {
	switch comp {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionBrotli:
		return brotli.NewWriter(w), nil
	case CompressionXZ:
		return xz.NewWriter(w)
	default:
		return nil, fmt.Errorf("%w: cannot write %s", ErrUnsupportedFormat, comp)
	}
}
