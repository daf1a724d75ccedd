package snippet

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Seen tracks which snippets have been observed without retaining their text.
// Snippets are keyed by their 64-bit xxhash, so distinct snippets can collide;
// at dump scale the collision rate is negligible for counting purposes.
type Seen struct {
	mu     sync.Mutex
	hashes map[uint64]struct{}
}

// NewSeen creates an empty snippet set.
func NewSeen() *Seen {
	return &Seen{hashes: make(map[uint64]struct{}, 1024)}
}

// Add records code and reports whether it was new.
func (s *Seen) Add(code string) bool {
	h := xxhash.Sum64String(code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[h]; ok {
		return false
	}
	s.hashes[h] = struct{}{}
	return true
}

// Len returns the number of distinct snippets recorded.
func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hashes)
}
