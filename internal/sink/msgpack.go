package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/so-miner/backend/internal/models"
)

// Msgpack streams posts as consecutive msgpack values, optionally inside a
// zstd frame.
type Msgpack struct {
	file    *os.File
	buf     *bufio.Writer
	zw      *zstd.Encoder
	enc     *msgpack.Encoder
	path    string
	written int
	logger  *log.Logger
}

// NewMsgpack creates the stream file at path. Paths ending in .zst are always
// compressed.
func NewMsgpack(path string, opts Options) (Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	m := &Msgpack{file: f, path: path, logger: opts.logger("[Msgpack] ")}
	var w io.Writer = f
	if opts.Compress || isZstdPath(path) {
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		m.zw = zw
		w = zw
	}
	m.buf = bufio.NewWriterSize(w, 1<<20)
	m.enc = msgpack.NewEncoder(m.buf)
	m.enc.UseCompactInts(true)
	return m, nil
}

// Write encodes p.
func (m *Msgpack) Write(ctx context.Context, p *models.Post) error {
	if err := m.enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode post %d: %w", p.ID, err)
	}
	m.written++
	return nil
}

// Close flushes the stream and closes the file.
func (m *Msgpack) Close() error {
	if m.file == nil {
		return nil
	}
	err := m.buf.Flush()
	if m.zw != nil {
		if zerr := m.zw.Close(); err == nil {
			err = zerr
		}
	}
	if ferr := m.file.Close(); err == nil {
		err = ferr
	}
	m.file = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", m.path, err)
	}
	m.logger.Printf("Wrote %d posts to %s", m.written, m.path)
	return nil
}

// ReadMsgpack decodes a stream written by the msgpack sink and calls fn for
// each post. compressed selects zstd decoding.
func ReadMsgpack(r io.Reader, compressed bool, fn func(*models.Post) error) error {
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	dec := msgpack.NewDecoder(bufio.NewReader(r))
	for {
		var p models.Post
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode post: %w", err)
		}
		if err := fn(&p); err != nil {
			return err
		}
	}
}

// ReadMsgpackFile is ReadMsgpack over a file; .zst files are decompressed.
func ReadMsgpackFile(path string, fn func(*models.Post) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReadMsgpack(f, isZstdPath(path), fn)
}

func isZstdPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".zst" || ext == ".zstd"
}
