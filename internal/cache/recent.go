package cache

import (
	"slices"
	"sync"
	"time"
)

// RecentCache holds at most maxSize entries and, when full, drops the entry
// with the smallest key. Keys are calendar dates (2006-01-02), so the
// smallest key is the oldest day. A report scan visits every archive once,
// and the newest days are the ones the daily and monthly windows revisit.
// A zero ttl keeps entries until they are pushed out.
type RecentCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry[T]
	keys    []string // sorted ascending
}

type entry[T any] struct {
	value   T
	expires time.Time
}

var (
	_ Cache[int] = (*RecentCache[int])(nil)
	_ Cleaner    = (*RecentCache[int])(nil)
)

func NewRecentCache[T any](maxSize int, ttl time.Duration) *RecentCache[T] {
	return &RecentCache[T]{
		maxSize: max(maxSize, 1),
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry[T], maxSize),
	}
}

func (c *RecentCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.stale(e) {
		c.drop(key)
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores value under key. A key older than every cached key is not
// admitted into a full cache.
func (c *RecentCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[T]{value: value}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	if _, ok := c.entries[key]; ok {
		c.entries[key] = e
		return
	}
	if len(c.keys) >= c.maxSize {
		if key < c.keys[0] {
			return
		}
		c.drop(c.keys[0])
	}
	i, _ := slices.BinarySearch(c.keys, key)
	c.keys = slices.Insert(c.keys, i, key)
	c.entries[key] = e
}

func (c *RecentCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop(key)
}

func (c *RecentCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CleanExpired removes expired entries and returns how many went.
func (c *RecentCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.keys[:0]
	for _, k := range c.keys {
		if c.stale(c.entries[k]) {
			delete(c.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	n := len(c.keys) - len(kept)
	c.keys = kept
	return n
}

func (c *RecentCache[T]) stale(e entry[T]) bool {
	return !e.expires.IsZero() && c.now().After(e.expires)
}

func (c *RecentCache[T]) drop(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	if i, found := slices.BinarySearch(c.keys, key); found {
		c.keys = slices.Delete(c.keys, i, i+1)
	}
}
