package client

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// QueryCache holds read results keyed by query key. Every key carries a
// generation that Invalidate bumps, so a read started before a write can
// tell that its result is stale.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	gens    map[string]uint64
	ttl     time.Duration
	now     func() time.Time
}

// NewQueryCache creates a cache whose entries stay fresh for ttl.
func NewQueryCache(ttl time.Duration) *QueryCache {
	return &QueryCache{
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a fresh value for key.
func (q *QueryCache) Get(key string) (any, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.entries[key]
	if !ok || q.now().Sub(e.storedAt) > q.ttl {
		return nil, false
	}
	return e.value, true
}

// Generation returns the current generation of key.
func (q *QueryCache) Generation(key string) uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.gens[key]
}

// Set stores value under key.
func (q *QueryCache) Set(key string, value any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[key] = cacheEntry{value: value, storedAt: q.now()}
}

// SetIfGeneration stores value only if key has not been invalidated since
// gen was read. It reports whether the value was stored.
func (q *QueryCache) SetIfGeneration(key string, value any, gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.gens[key] != gen {
		return false
	}
	q.entries[key] = cacheEntry{value: value, storedAt: q.now()}
	return true
}

// Invalidate removes key so the next read goes to the server and discards
// any read of key that is still in flight.
func (q *QueryCache) Invalidate(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, key)
	q.gens[key]++
}

// Len reports the number of cached entries, fresh or not.
func (q *QueryCache) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
