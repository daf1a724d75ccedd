package session

import (
	"fmt"
	"log"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/so-miner/backend/internal/models"
	"github.com/so-miner/backend/internal/sink"
)

// shortID safely truncates an ID for logging (handles short IDs gracefully)
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// ExportStore manages the export outputs of sessions, keyed by session ID.
// Outputs are named export_<id><ext> inside one directory.
type ExportStore struct {
	dir    string
	mu     sync.RWMutex
	cache  map[string]string // session ID -> output path
	logger *log.Logger
}

// NewExportStore creates the directory if needed and indexes the outputs
// already in it.
func NewExportStore(dir string, logger *log.Logger) (*ExportStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[ExportStore] ", log.LstdFlags)
	}
	s := &ExportStore{dir: dir, cache: make(map[string]string), logger: logger}
	s.scanExisting()
	return s, nil
}

func (s *ExportStore) scanExisting() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Printf("Warning: failed to scan export directory: %v", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "export_") {
			continue
		}
		id, _, ok := strings.Cut(strings.TrimPrefix(name, "export_"), ".")
		if !ok || id == "" {
			continue
		}
		s.cache[id] = filepath.Join(s.dir, name)
	}
	s.logger.Printf("Scanned %d existing exports", len(s.cache))
}

// Dir is the export directory.
func (s *ExportStore) Dir() string { return s.dir }

// PathFor returns where the export of session id in format is written.
func (s *ExportStore) PathFor(id, format string, compress bool) string {
	return filepath.Join(s.dir, "export_"+id+sink.Extension(format, compress))
}

// MarkComplete records path as the finished export of session id.
func (s *ExportStore) MarkComplete(id, path string) {
	s.mu.Lock()
	s.cache[id] = path
	s.mu.Unlock()
	s.logger.Printf("Export of session %s ready at %s", shortID(id), path)
}

// Get returns the export path of session id if it still exists.
func (s *ExportStore) Get(id string) (string, bool) {
	s.mu.RLock()
	path, ok := s.cache[id]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		s.mu.Lock()
		delete(s.cache, id)
		s.mu.Unlock()
		return "", false
	}
	return path, true
}

// Delete removes the export of session id.
func (s *ExportStore) Delete(id string) error {
	s.mu.Lock()
	path, ok := s.cache[id]
	delete(s.cache, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	// bleve outputs are directories
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete export: %w", err)
	}
	s.logger.Printf("Deleted export of session %s", shortID(id))
	return nil
}

// List describes the exports still on disk, newest first.
func (s *ExportStore) List() []models.ExportInfo {
	s.mu.RLock()
	paths := maps.Clone(s.cache)
	s.mu.RUnlock()

	list := make([]models.ExportInfo, 0, len(paths))
	for id, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		list = append(list, models.ExportInfo{
			SessionID:  id,
			Name:       filepath.Base(path),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
			Directory:  info.IsDir(),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ModifiedAt.Equal(list[j].ModifiedAt) {
			return list[i].ModifiedAt.After(list[j].ModifiedAt)
		}
		return list[i].SessionID < list[j].SessionID
	})
	return list
}

// Prune deletes exports last written before cutoff, skipping those keep
// reports as still owned by a live session. It returns how many it removed.
func (s *ExportStore) Prune(cutoff time.Time, keep func(id string) bool) int {
	removed := 0
	for _, info := range s.List() {
		if !info.ModifiedAt.Before(cutoff) || (keep != nil && keep(info.SessionID)) {
			continue
		}
		if err := s.Delete(info.SessionID); err != nil {
			s.logger.Printf("Warning: %v", err)
			continue
		}
		removed++
	}
	return removed
}
