package handlers

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/so-miner/backend/internal/miner"
	"github.com/so-miner/backend/internal/models"
	"github.com/so-miner/backend/internal/snippet"
)

// SnippetStats counts code snippets across posts.
type SnippetStats struct {
	mu            sync.Mutex
	posts         int
	postsWithCode int
	snippets      int
	seen          *snippet.Seen
}

// NewSnippetStats creates an empty counter.
func NewSnippetStats() *SnippetStats {
	return &SnippetStats{seen: snippet.NewSeen()}
}

// ProcessRecord implements miner.Handler.
func (s *SnippetStats) ProcessRecord(ctx context.Context, rec *miner.Record, line string) error {
	codes := rec.CodeSnippets()
	for code := range codes {
		s.seen.Add(code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts++
	if len(codes) > 0 {
		s.postsWithCode++
		s.snippets += len(codes)
	}
	return nil
}

// Report returns the current counts.
func (s *SnippetStats) Report() models.SnippetReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SnippetReport{
		Posts:          s.posts,
		PostsWithCode:  s.postsWithCode,
		Snippets:       s.snippets,
		UniqueSnippets: s.seen.Len(),
	}
}

// PrintReport writes r in a human readable form.
func PrintReport(w io.Writer, r models.SnippetReport) error {
	_, err := fmt.Fprintf(w, "posts: %d\nposts with code: %d\nsnippets: %d\nunique snippets: %d\n",
		r.Posts, r.PostsWithCode, r.Snippets, r.UniqueSnippets)
	return err
}
