// Package storage keeps uploaded dump files on the local filesystem.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/so-miner/backend/internal/miner"
	"github.com/so-miner/backend/internal/models"
)

// ErrNotFound is returned for unknown dump IDs.
var ErrNotFound = errors.New("dump not found")

// Store defines the interface for dump storage.
type Store interface {
	Save(name string, r io.Reader) (*models.DumpInfo, error)
	Get(id string) (*models.DumpInfo, error)
	List(limit int) ([]*models.DumpInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.DumpInfo, error)
}

// LocalStore implements Store using the local filesystem. Each dump is kept
// as "<id>_<name>" so the compression extension survives and the index can
// be rebuilt on start.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.DumpInfo
}

// NewLocalStore creates a new LocalStore and indexes the dumps already in
// uploadDir.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.DumpInfo),
	}
	if err := s.scanExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) scanExisting() error {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return fmt.Errorf("reading upload directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, name, ok := splitStoredName(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		s.files[id] = newDumpInfo(id, name, fi.Size(), fi.ModTime())
	}
	return nil
}

// storedName is the on-disk name of a dump.
func storedName(id, name string) string {
	return id + "_" + name
}

func splitStoredName(file string) (id, name string, ok bool) {
	if len(file) < 38 || file[36] != '_' {
		return "", "", false
	}
	if _, err := uuid.Parse(file[:36]); err != nil {
		return "", "", false
	}
	return file[:36], file[37:], true
}

// cleanName keeps only the base name of an uploaded file.
func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "dump.xml"
	}
	return name
}

// Save saves a dump to the local filesystem.
func (s *LocalStore) Save(name string, r io.Reader) (*models.DumpInfo, error) {
	id := uuid.New().String()
	name = cleanName(name)
	path := filepath.Join(s.uploadDir, storedName(id, name))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := newDumpInfo(id, name, size, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	return copyInfo(info), nil
}

// Get retrieves dump metadata by ID.
func (s *LocalStore) Get(id string) (*models.DumpInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return copyInfo(info), nil
}

// List returns the most recent dumps. limit <= 0 returns all of them.
func (s *LocalStore) List(limit int) ([]*models.DumpInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.DumpInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, copyInfo(info))
	}

	// Sort by UploadedAt desc
	sort.Slice(list, func(i, j int) bool {
		if list[i].UploadedAt.Equal(list[j].UploadedAt) {
			return list[i].Name < list[j].Name
		}
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a dump from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, storedName(id, info.Name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return nil
}

// GetFilePath returns the path a miner can open for a dump.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return filepath.Join(s.uploadDir, storedName(id, info.Name)), nil
}

func (s *LocalStore) chunkDir(uploadID string) (string, error) {
	if uploadID == "" || uploadID != filepath.Base(uploadID) || uploadID == "." || uploadID == ".." {
		return "", fmt.Errorf("invalid upload id %q", uploadID)
	}
	return filepath.Join(s.uploadDir, "chunks", uploadID), nil
}

// SaveChunk saves a single chunk to a temporary location.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	if chunkIndex < 0 {
		return fmt.Errorf("invalid chunk index %d", chunkIndex)
	}
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	path := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", chunkIndex))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}

	return nil
}

// CompleteChunkedUpload assembles all chunks into a final dump.
func (s *LocalStore) CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.DumpInfo, error) {
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return nil, err
	}
	if totalChunks <= 0 {
		return nil, fmt.Errorf("invalid chunk count %d", totalChunks)
	}

	id := uuid.New().String()
	name = cleanName(name)
	finalPath := filepath.Join(s.uploadDir, storedName(id, name))

	out, err := os.Create(finalPath)
	if err != nil {
		return nil, fmt.Errorf("creating final file: %w", err)
	}

	var totalSize int64
	for i := 0; i < totalChunks; i++ {
		n, err := appendChunk(out, filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return nil, fmt.Errorf("copying chunk %d: %w", i, err)
		}
		totalSize += n
	}
	if err := out.Close(); err != nil {
		os.Remove(finalPath)
		return nil, fmt.Errorf("closing final file: %w", err)
	}

	info := newDumpInfo(id, name, totalSize, time.Now())

	s.mu.Lock()
	s.files[id] = info
	s.mu.Unlock()

	// Cleanup chunks
	os.RemoveAll(chunkDir)

	return copyInfo(info), nil
}

func appendChunk(out io.Writer, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return io.Copy(out, in)
}

func newDumpInfo(id, name string, size int64, at time.Time) *models.DumpInfo {
	return &models.DumpInfo{
		ID:          id,
		Name:        name,
		Size:        size,
		UploadedAt:  at,
		Compression: miner.Compression(name),
	}
}

func copyInfo(info *models.DumpInfo) *models.DumpInfo {
	c := *info
	return &c
}
