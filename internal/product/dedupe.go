package product

import "sync"

// DedupSet is a concurrency-safe insert-if-absent set of dedup keys.
// One set lives for exactly one run; it is never shared across runs.
type DedupSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[string]struct{})}
}

// Add inserts key and reports whether it was absent before. Concurrent
// callers racing on the same key see exactly one true.
func (s *DedupSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Len reports how many distinct keys have been admitted.
func (s *DedupSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
