package miner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/so-miner/backend/internal/models"
)

const (
	// DefaultBufferSize is the read buffer size; dump lines can hold very
	// large post bodies inline.
	DefaultBufferSize = 4 * 1024 * 1024
	// DefaultMaxLineSize bounds a single line. Longer lines are skipped.
	DefaultMaxLineSize = 64 * 1024 * 1024
	// DefaultProgressEvery is the progress reporting cadence in lines.
	DefaultProgressEvery = 100000
	// DefaultMaxRecordedErrors caps the line errors kept on a Session.
	DefaultMaxRecordedErrors = 100

	maxErrorContent = 200
)

// ProgressCallback is called periodically during mining to report progress.
type ProgressCallback func(linesProcessed int, bytesProcessed int64, totalBytes int64)

// options defines all configuration options for a Miner.
type options struct {
	stop              *StopFlag
	logger            *log.Logger
	bufferSize        int
	maxLineSize       int
	progressEvery     int
	onProgress        ProgressCallback
	maxRecordedErrors int
}

// Option is a function that configures a Miner.
type Option func(*options)

// WithStopFlag gates the Miner on f instead of DefaultStopFlag.
func WithStopFlag(f *StopFlag) Option {
	return func(o *options) {
		o.stop = f
	}
}

// WithLogger sets the logger used for line errors and progress.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithBufferSize sets the read buffer size in bytes.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithMaxLineSize sets the longest line the Miner will process.
func WithMaxLineSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineSize = n
		}
	}
}

// WithProgress reports progress every n lines and once more at the end.
func WithProgress(n int, cb ProgressCallback) Option {
	return func(o *options) {
		if n > 0 {
			o.progressEvery = n
		}
		o.onProgress = cb
	}
}

// WithMaxRecordedErrors caps how many line errors are kept on the Session.
func WithMaxRecordedErrors(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRecordedErrors = n
		}
	}
}

func defaultOptions() options {
	return options{
		stop:              DefaultStopFlag,
		logger:            log.New(os.Stderr, "[Miner] ", log.LstdFlags),
		bufferSize:        DefaultBufferSize,
		maxLineSize:       DefaultMaxLineSize,
		progressEvery:     DefaultProgressEvery,
		maxRecordedErrors: DefaultMaxRecordedErrors,
	}
}

// Miner scans dumps and dispatches records to a Handler.
type Miner struct {
	handler Handler
	opts    options
}

// New creates a Miner dispatching to h.
func New(h Handler, opts ...Option) *Miner {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxLineSize < o.bufferSize {
		o.maxLineSize = o.bufferSize
	}
	return &Miner{handler: h, opts: o}
}

// StopFlag returns the flag gating this Miner.
func (m *Miner) StopFlag() *StopFlag {
	return m.opts.stop
}

// Session is the state of one scan over one input.
type Session struct {
	Path       string
	Status     models.SessionStatus
	Lines      int
	Candidates int
	NotRecords int
	Dispatched int
	ErrorCount int
	Errors     []models.ParseError
	BytesRead  int64
	TotalBytes int64
	Started    time.Time
	Finished   time.Time
	Err        error
}

// Mine scans the dump at path. The returned Session is never nil.
// The error is non-nil only when the file cannot be opened or read.
func (m *Miner) Mine(ctx context.Context, path string) (*Session, error) {
	s := &Session{Path: path, Status: models.SessionStatusPending, Started: time.Now()}

	d, err := OpenDump(path)
	if err != nil {
		return m.fail(s, err)
	}
	defer d.Close()

	s.TotalBytes = d.Size()
	return m.scan(ctx, s, d, d.Consumed)
}

// MineReader scans r. totalBytes is only used for progress and may be 0.
// r is closed when the scan ends if it implements io.Closer.
func (m *Miner) MineReader(ctx context.Context, r io.Reader, totalBytes int64) (*Session, error) {
	s := &Session{Path: "-", Status: models.SessionStatusPending, Started: time.Now(), TotalBytes: totalBytes}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}
	return m.scan(ctx, s, r, nil)
}

func (m *Miner) scan(ctx context.Context, s *Session, r io.Reader, consumed func() int64) (*Session, error) {
	lr := newLineReader(r, m.opts.bufferSize, m.opts.maxLineSize)
	dctx := withStopFlag(ctx, m.opts.stop)
	s.Status = models.SessionStatusReading

	position := func() int64 {
		if consumed != nil {
			return consumed()
		}
		return s.BytesRead
	}

	for {
		if m.opts.stop.Stopped() || ctx.Err() != nil {
			return m.finish(s, models.SessionStatusStopped, position()), nil
		}

		line, n, tooLong, err := lr.next()
		if err != nil && !errors.Is(err, io.EOF) {
			return m.fail(s, fmt.Errorf("read failed after line %d: %w", s.Lines, err))
		}
		if n == 0 && errors.Is(err, io.EOF) {
			return m.finish(s, models.SessionStatusDone, position()), nil
		}

		s.Lines++
		s.BytesRead += int64(n)
		if s.Lines%m.opts.progressEvery == 0 {
			m.progress(s, position())
		}

		if tooLong {
			m.lineError(s, line, fmt.Sprintf("line exceeds %d bytes", m.opts.maxLineSize))
		} else if !m.processLine(dctx, s, line) {
			return m.finish(s, models.SessionStatusStopped, position()), nil
		}

		if errors.Is(err, io.EOF) {
			return m.finish(s, models.SessionStatusDone, position()), nil
		}
	}
}

// processLine filters, parses and dispatches one line. It returns false when
// the stop flag was observed before dispatch.
func (m *Miner) processLine(ctx context.Context, s *Session, raw []byte) (cont bool) {
	if !isCandidate(raw) {
		return true
	}
	s.Candidates++
	line := string(raw)

	defer func() {
		if r := recover(); r != nil {
			m.lineError(s, raw, fmt.Sprintf("handler panicked: %v", r))
			cont = true
		}
	}()

	rec, err := Parse(line)
	if errors.Is(err, ErrNotRecord) {
		s.NotRecords++
		return true
	}
	if err != nil {
		m.lineError(s, raw, err.Error())
		return true
	}

	if m.opts.stop.Stopped() || ctx.Err() != nil {
		return false
	}

	s.Dispatched++
	if err := m.handler.ProcessRecord(ctx, rec, line); err != nil {
		m.lineError(s, raw, fmt.Sprintf("handler failed: %v", err))
	}
	return true
}

func (m *Miner) lineError(s *Session, raw []byte, reason string) {
	s.ErrorCount++
	if s.ErrorCount > m.opts.maxRecordedErrors {
		if s.ErrorCount == m.opts.maxRecordedErrors+1 {
			m.opts.logger.Printf("line %d: further line errors suppressed", s.Lines)
		}
		return
	}

	content := raw
	if len(content) > maxErrorContent {
		content = content[:maxErrorContent]
	}
	s.Errors = append(s.Errors, models.ParseError{Line: s.Lines, Content: string(content), Reason: reason})
	m.opts.logger.Printf("line %d: %s", s.Lines, reason)
}

func (m *Miner) progress(s *Session, pos int64) {
	if m.opts.onProgress != nil {
		m.opts.onProgress(s.Lines, pos, s.TotalBytes)
		return
	}
	m.opts.logger.Printf("%d lines, %d records", s.Lines, s.Dispatched)
}

func (m *Miner) finish(s *Session, status models.SessionStatus, pos int64) *Session {
	s.Status = status
	s.Finished = time.Now()
	if m.opts.onProgress != nil {
		m.opts.onProgress(s.Lines, pos, s.TotalBytes)
	}
	if status == models.SessionStatusStopped {
		m.opts.logger.Printf("stopped after %d lines (%d records)", s.Lines, s.Dispatched)
	}
	return s
}

func (m *Miner) fail(s *Session, err error) (*Session, error) {
	s.Status = models.SessionStatusFailed
	s.Finished = time.Now()
	s.Err = err
	m.opts.logger.Printf("ERROR: %v", err)
	return s, err
}

// lineReader yields lines without a size limit on the underlying buffer,
// discarding the tail of lines longer than max.
type lineReader struct {
	br  *bufio.Reader
	buf []byte
	max int
}

func newLineReader(r io.Reader, size, max int) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, size), max: max}
}

// next returns the line without its terminator, the number of bytes consumed
// including the terminator, and whether the line was longer than max.
// err is io.EOF on the final, unterminated line.
func (lr *lineReader) next() (line []byte, n int, tooLong bool, err error) {
	lr.buf = lr.buf[:0]
	for {
		chunk, rerr := lr.br.ReadSlice('\n')
		n += len(chunk)
		// Two extra bytes leave room for a CRLF terminator.
		if !tooLong {
			if len(lr.buf)+len(chunk) > lr.max+2 {
				tooLong = true
				keep := lr.max - len(lr.buf)
				if keep > 0 {
					lr.buf = append(lr.buf, chunk[:keep]...)
				}
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}

		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		line = trimEOL(lr.buf)
		if len(line) > lr.max {
			tooLong = true
			line = line[:lr.max]
		}
		return line, n, tooLong, rerr
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}
