package orchestrator

import (
	"sync"
	"time"
)

// seenSet is the short-TTL "recently analysed" set that keeps a token
// from entering the pipeline twice in quick succession.
type seenSet struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]time.Time
	now func() time.Time
}

func newSeenSet(ttl time.Duration) *seenSet {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &seenSet{
		ttl: ttl,
		m:   make(map[string]time.Time),
		now: time.Now,
	}
}

// Mark records the mint as analysed now.
func (s *seenSet) Mark(mint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[mint] = s.now()
}

// Seen reports whether the mint was analysed within the TTL, evicting
// expired entries as it goes.
func (s *seenSet) Seen(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.m[mint]
	if !ok {
		return false
	}
	if s.now().Sub(at) >= s.ttl {
		delete(s.m, mint)
		return false
	}
	return true
}

// Forget drops the mint so a forced evaluation is never deduplicated.
func (s *seenSet) Forget(mint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, mint)
}

// Len returns the live entry count. Expired entries are swept first so
// the health check does not report a growing map.
func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for mint, at := range s.m {
		if now.Sub(at) >= s.ttl {
			delete(s.m, mint)
		}
	}
	return len(s.m)
}
