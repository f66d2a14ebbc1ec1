package core

import (
	"sync"
	"time"
)

// IDSequence hands out creation-time identifiers in Unix milliseconds. When
// two transactions land in the same millisecond the later one is bumped so
// identifiers stay unique and increasing.
type IDSequence struct {
	mu   sync.Mutex
	last int64
}

// Next returns an identifier strictly greater than every previous one.
func (s *IDSequence) Next(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := now.UnixMilli()
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id
	return id
}

// Observe raises the floor so identifiers loaded from storage are never reused.
func (s *IDSequence) Observe(id int64) {
	s.mu.Lock()
	if id > s.last {
		s.last = id
	}
	s.mu.Unlock()
}
