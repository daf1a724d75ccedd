package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/so-miner/backend/internal/models"
)

// JSONL writes one JSON object per line.
type JSONL struct {
	file    *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
	path    string
	written int
	logger  *log.Logger
}

// NewJSONL creates the output file at path.
func NewJSONL(path string, opts Options) (Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	buf := bufio.NewWriterSize(f, 1<<20)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONL{file: f, buf: buf, enc: enc, path: path, logger: opts.logger("[JSONL] ")}, nil
}

// Write encodes p as one line.
func (j *JSONL) Write(ctx context.Context, p *models.Post) error {
	if err := j.enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode post %d: %w", p.ID, err)
	}
	j.written++
	return nil
}

// Close flushes and closes the file.
func (j *JSONL) Close() error {
	if j.file == nil {
		return nil
	}
	err := j.buf.Flush()
	if ferr := j.file.Close(); err == nil {
		err = ferr
	}
	j.file = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", j.path, err)
	}
	j.logger.Printf("Wrote %d posts to %s", j.written, j.path)
	return nil
}
