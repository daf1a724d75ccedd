package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/so-miner/backend/internal/filter"
	"github.com/so-miner/backend/internal/handlers"
	"github.com/so-miner/backend/internal/miner"
	"github.com/so-miner/backend/internal/models"
	"github.com/so-miner/backend/internal/sink"
)

// DefaultMaxSessions limits sessions kept in memory, running or finished.
const DefaultMaxSessions = 10

// SessionMaxAge is how long to keep completed sessions before cleanup
const SessionMaxAge = 30 * time.Minute

var (
	// ErrTooManySessions is returned when every slot holds a running session.
	ErrTooManySessions = errors.New("too many running sessions")
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrRunning is returned when an operation needs a finished session.
	ErrRunning = errors.New("session is still running")
	// ErrExportDisabled is returned for export requests without an ExportStore.
	ErrExportDisabled = errors.New("export is not configured")
)

// Options configures a Manager.
type Options struct {
	MaxSessions int
	// MinerOptions are applied to every scan before the session's own stop
	// flag and progress callback.
	MinerOptions []miner.Option
	// Exports receives the output of export sessions. Nil disables export.
	Exports *ExportStore
	// DefaultFormat is used for export requests that name no format.
	DefaultFormat string
	Sink          sink.Options
	// Output receives the text of demo handlers such as titles.
	Output io.Writer
	Logger *log.Logger
}

// Manager runs mining sessions in the background.
type Manager struct {
	sessions    map[string]*SessionState
	mu          sync.RWMutex
	maxSessions int
	minerOpts   []miner.Option
	exports     *ExportStore
	format      string
	sinkOpts    sink.Options
	output      io.Writer
	logger      *log.Logger
	wg          sync.WaitGroup
	seq         uint64
}

// SessionState holds the session metadata and the controls of its scan.
type SessionState struct {
	Session      *models.MiningSession
	LastAccessed time.Time // Last time the session was accessed (for keep-alive)

	seq      uint64
	stop     *miner.StopFlag
	snippets *handlers.SnippetStats
	done     chan struct{}
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[Manager] ", log.LstdFlags)
	}
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = "jsonl"
	}
	return &Manager{
		sessions:    make(map[string]*SessionState),
		maxSessions: opts.MaxSessions,
		minerOpts:   opts.MinerOptions,
		exports:     opts.Exports,
		format:      opts.DefaultFormat,
		sinkOpts:    opts.Sink,
		output:      opts.Output,
		logger:      opts.Logger,
	}
}

// Exports returns the export store, which may be nil.
func (m *Manager) Exports() *ExportStore {
	return m.exports
}

// Start begins mining req.Path in a background goroutine.
func (m *Manager) Start(req models.MiningRequest) (*models.MiningSession, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if _, err := os.Stat(req.Path); err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}

	name := strings.ToLower(req.Handler)
	if name == "" {
		name = "count"
	}

	var rules *filter.Filter
	if req.Rules != nil {
		f, err := filter.Compile(req.Rules)
		if err != nil {
			return nil, fmt.Errorf("invalid rules: %w", err)
		}
		rules = f
	}

	// Clean up old sessions if at limit
	m.dropExports(m.cleanupOldSessionsIfNeeded())

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	sessionID := uuid.New().String()
	session := models.NewMiningSession(sessionID, req.Path)
	session.Handler = name
	session.StartTime = time.Now().UnixMilli()
	m.seq++
	state := &SessionState{
		Session:      session,
		LastAccessed: time.Now(),
		seq:          m.seq,
		stop:         miner.NewStopFlag(),
		done:         make(chan struct{}),
	}
	m.sessions[sessionID] = state
	m.mu.Unlock()

	h, out, outPath, err := m.buildHandler(state, name, req)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		return nil, err
	}
	if rules != nil {
		h = rules.Wrap(h)
	}
	h = handlers.Limit(req.Limit, h)

	m.wg.Add(1)
	go m.run(state, h, out, outPath)

	return m.snapshot(state), nil
}

func (m *Manager) buildHandler(state *SessionState, name string, req models.MiningRequest) (miner.Handler, sink.Sink, string, error) {
	if name != "export" {
		h, err := handlers.ByName(name, m.output)
		if err != nil {
			return nil, nil, "", err
		}
		if stats, ok := h.(*handlers.SnippetStats); ok {
			state.snippets = stats
		}
		return h, nil, "", nil
	}

	if m.exports == nil {
		return nil, nil, "", ErrExportDisabled
	}
	format := req.Format
	if format == "" {
		format = m.format
	}
	opts := m.sinkOpts
	opts.Compress = opts.Compress || req.Compress
	opts.Logger = m.logger
	outPath := m.exports.PathFor(state.Session.ID, format, opts.Compress)
	out, err := sink.Open(format, outPath, opts)
	if err != nil {
		return nil, nil, "", err
	}
	return handlers.Export(out), out, outPath, nil
}

func (m *Manager) run(state *SessionState, h miner.Handler, out sink.Sink, outPath string) {
	sessionID := state.Session.ID
	logger := log.New(m.logger.Writer(), fmt.Sprintf("[Session %s] ", shortID(sessionID)), log.LstdFlags)

	defer m.wg.Done()
	defer close(state.done)
	// Recover from panics to prevent backend crash
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("PANIC recovered: %v", r)
			if out != nil {
				out.Close()
			}
			m.updateSessionError(sessionID, fmt.Sprintf("mining panicked: %v", r))
		}
	}()

	start := time.Now()
	logger.Printf("Starting %s scan of %s", state.Session.Handler, state.Session.Path)

	progressCb := func(lines int, bytesRead, totalBytes int64) {
		var progress float64
		if totalBytes > 0 {
			progress = float64(bytesRead) * 100.0 / float64(totalBytes)
		}
		// 100% is reserved for a finished session
		if progress > 99.9 {
			progress = 99.9
		}

		m.mu.Lock()
		state.Session.Progress = progress
		state.Session.LinesRead = lines
		state.Session.BytesRead = bytesRead
		state.Session.TotalBytes = totalBytes
		if state.Session.Status == models.SessionStatusPending {
			state.Session.Status = models.SessionStatusReading
		}
		m.mu.Unlock()
	}

	opts := append(slices.Clone(m.minerOpts),
		miner.WithStopFlag(state.stop),
		miner.WithLogger(logger),
		miner.WithProgress(0, progressCb),
	)

	m.mu.Lock()
	state.Session.Status = models.SessionStatusReading
	m.mu.Unlock()

	result, err := miner.New(h, opts...).Mine(context.Background(), state.Session.Path)

	var sinkErr error
	if out != nil {
		sinkErr = out.Close()
		if sinkErr == nil && err == nil {
			m.exports.MarkComplete(sessionID, outPath)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := state.Session
	s.Status = result.Status
	s.LinesRead = result.Lines
	s.Candidates = result.Candidates
	s.Dispatched = result.Dispatched
	s.ErrorCount = result.ErrorCount
	s.Errors = append(s.Errors, result.Errors...)
	s.EndTime = time.Now().UnixMilli()
	s.ProcessingTimeMs = time.Since(start).Milliseconds()
	if result.TotalBytes > 0 {
		s.TotalBytes = result.TotalBytes
	}
	if state.snippets != nil {
		report := state.snippets.Report()
		s.Snippets = &report
	}

	switch {
	case err != nil:
		s.Failure = err.Error()
	case sinkErr != nil:
		s.Status = models.SessionStatusFailed
		s.Failure = fmt.Sprintf("export failed: %v", sinkErr)
	default:
		if outPath != "" {
			s.Output = outPath
		}
		if s.Status == models.SessionStatusDone {
			s.Progress = 100
		}
	}

	logger.Printf("Finished with status %s: %d lines, %d records, %d errors in %dms",
		s.Status, s.LinesRead, s.Dispatched, s.ErrorCount, s.ProcessingTimeMs)
}

func (m *Manager) updateSessionError(sessionID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return
	}

	state.Session.Status = models.SessionStatusFailed
	state.Session.Failure = reason
	state.Session.EndTime = time.Now().UnixMilli()
}

// Stop asks the session's scan to halt after the current record.
func (m *Manager) Stop(id string) error {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	state.stop.Stop()
	return nil
}

// StopAll halts every running session and returns how many were signalled.
func (m *Manager) StopAll() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, state := range m.sessions {
		if state.Session.Status.Terminal() {
			continue
		}
		state.stop.Stop()
		n++
	}
	if n > 0 {
		m.logger.Printf("Stop requested for %d sessions", n)
	}
	return n
}

// Wait blocks until the session finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*models.MiningSession, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	select {
	case <-state.done:
		return m.snapshot(state), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops every session and waits for their goroutines.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSession returns a copy of the session and marks it as accessed.
func (m *Manager) GetSession(id string) (*models.MiningSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	state.LastAccessed = time.Now()
	return copySession(state.Session), true
}

// ListSessions returns copies of all sessions, oldest first.
func (m *Manager) ListSessions() []*models.MiningSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]*SessionState, 0, len(m.sessions))
	for _, state := range m.sessions {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].seq < states[j].seq })

	list := make([]*models.MiningSession, 0, len(states))
	for _, state := range states {
		list = append(list, copySession(state.Session))
	}
	return list
}

// DeleteSession forgets a finished session and removes its export.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !state.Session.Status.Terminal() {
		m.mu.Unlock()
		return ErrRunning
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.exports != nil {
		return m.exports.Delete(id)
	}
	return nil
}

// cleanupOldSessionsIfNeeded evicts finished sessions to free a slot and
// returns their IDs.
func (m *Manager) cleanupOldSessionsIfNeeded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < m.maxSessions {
		return nil
	}

	// Oldest finished sessions go first
	var finished []*SessionState
	for _, state := range m.sessions {
		if state.Session.Status.Terminal() {
			finished = append(finished, state)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		if finished[i].Session.EndTime != finished[j].Session.EndTime {
			return finished[i].Session.EndTime < finished[j].Session.EndTime
		}
		return finished[i].seq < finished[j].seq
	})

	toFree := len(m.sessions) - m.maxSessions + 1
	var evicted []string
	for i := 0; i < toFree && i < len(finished); i++ {
		id := finished[i].Session.ID
		delete(m.sessions, id)
		evicted = append(evicted, id)
		m.logger.Printf("Cleaned up old session %s to free a slot", shortID(id))
	}
	return evicted
}

// CleanupOldSessions removes finished sessions not accessed within maxAge
// together with their exports. Exports left without a session, such as
// those found on disk at startup, are removed once older than maxAge.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var expired []string
	for id, state := range m.sessions {
		// Only clean up finished sessions
		if !state.Session.Status.Terminal() {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, id)
			m.logger.Printf("Cleaned up aged session %s (last accessed: %s ago)",
				shortID(id), time.Since(state.LastAccessed).Round(time.Second))
		}
	}
	m.mu.Unlock()

	m.dropExports(expired)
	if m.exports != nil {
		if n := m.exports.Prune(cutoff, m.known); n > 0 {
			m.logger.Printf("Pruned %d orphaned exports", n)
		}
	}
	return len(expired)
}

func (m *Manager) known(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

func (m *Manager) dropExports(ids []string) {
	if m.exports == nil {
		return
	}
	for _, id := range ids {
		if err := m.exports.Delete(id); err != nil {
			m.logger.Printf("Warning: %v", err)
		}
	}
}

func (m *Manager) snapshot(state *SessionState) *models.MiningSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySession(state.Session)
}

func copySession(s *models.MiningSession) *models.MiningSession {
	c := *s
	c.Errors = slices.Clone(s.Errors)
	if s.Snippets != nil {
		report := *s.Snippets
		c.Snippets = &report
	}
	return &c
}
