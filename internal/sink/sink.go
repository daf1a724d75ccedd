// Package sink writes mined posts to export targets.
package sink

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/so-miner/backend/internal/models"
)

// Sink receives posts in dump order. Implementations are not safe for
// concurrent use; the miner dispatches from a single goroutine.
type Sink interface {
	Write(ctx context.Context, p *models.Post) error
	// Close flushes pending posts and releases the target.
	Close() error
}

// Options configures a Sink.
type Options struct {
	// BatchSize is the number of posts buffered before a flush. Zero picks the
	// format's default.
	BatchSize int
	// Compress enables compression where the format supports it.
	Compress bool
	Logger   *log.Logger
}

func (o Options) batchSize(def int) int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return def
}

func (o Options) logger(prefix string) *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

// Factory opens a Sink writing to path.
type Factory func(path string, opts Options) (Sink, error)

// Registry maps format names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry returns a registry holding every bundled format.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{
			"duckdb":  NewDuckDB,
			"sqlite":  NewSQLite,
			"bleve":   NewBleve,
			"msgpack": NewMsgpack,
			"jsonl":   NewJSONL,
		},
	}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds or replaces a format.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Open creates a Sink of the named format.
func (r *Registry) Open(format, path string, opts Options) (Sink, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(format)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(r.Formats(), ", "))
	}
	return f(path, opts)
}

// Formats lists the registered format names in order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open creates a Sink of the named format from the global registry.
func Open(format, path string, opts Options) (Sink, error) {
	return globalRegistry.Open(format, path, opts)
}

// Extension returns the conventional file extension for format.
func Extension(format string, compress bool) string {
	switch strings.ToLower(format) {
	case "duckdb":
		return ".duckdb"
	case "sqlite":
		return ".sqlite"
	case "bleve":
		return ".bleve"
	case "msgpack":
		if compress {
			return ".msgpack.zst"
		}
		return ".msgpack"
	case "jsonl":
		return ".jsonl"
	}
	return "." + strings.ToLower(format)
}
