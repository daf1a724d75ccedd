package miner

import (
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Dump is an opened dump file, transparently decompressed by extension.
type Dump struct {
	io.Reader
	closers []io.Closer
	file    *countingReader
	size    int64
}

// OpenDump opens path for reading. Files ending in .gz, .zst, .zstd, .lz4 or
// .bz2 are decompressed on the fly.
func OpenDump(path string) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat dump: %w", err)
	}

	counted := &countingReader{r: f}
	d := &Dump{file: counted, size: info.Size(), closers: []io.Closer{f}}

	switch Compression(path) {
	case "gzip":
		zr, err := gzip.NewReader(counted)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		d.Reader = zr
		d.closers = append([]io.Closer{zr}, d.closers...)
	case "zstd":
		zr, err := zstd.NewReader(counted, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		rc := zr.IOReadCloser()
		d.Reader = rc
		d.closers = append([]io.Closer{rc}, d.closers...)
	case "lz4":
		d.Reader = lz4.NewReader(counted)
	case "bzip2":
		d.Reader = bzip2.NewReader(counted)
	default:
		d.Reader = counted
	}
	return d, nil
}

// Compression names the codec OpenDump applies to path, or "" for plain XML.
func Compression(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return "gzip"
	case ".zst", ".zstd":
		return "zstd"
	case ".lz4":
		return "lz4"
	case ".bz2":
		return "bzip2"
	}
	return ""
}

// Size is the on-disk size of the dump in bytes.
func (d *Dump) Size() int64 { return d.size }

// Consumed is the number of on-disk bytes read so far. For compressed dumps
// this tracks the compressed stream, so it is comparable with Size.
func (d *Dump) Consumed() int64 { return d.file.n.Load() }

// Close releases the decompressor and the file.
func (d *Dump) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
