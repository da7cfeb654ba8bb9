package analysis

import (
	"context"
	"sync"
)

// Cache memoizes verdicts keyed by "name@version". It lives for the
// process lifetime and is never persisted.
//
// Cache is not authoritative about freshness: a stored result is
// returned verbatim until Clear. Callers that refresh the deny-list and
// need up-to-date coverage must Clear afterwards.
//
// Safe for concurrent use; the last write for a key wins, which is
// sound because results are deterministic for a given deny-list
// snapshot.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Result
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Result)}
}

// Get returns the cached result for key, if any.
func (c *Cache) Get(key string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	return r, ok
}

// Set stores a result under key, replacing any previous entry.
func (c *Cache) Set(key string, r *Result) {
	c.mu.Lock()
	c.entries[key] = r
	c.mu.Unlock()
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Result)
	c.mu.Unlock()
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// memoizedScanner wraps a Scanner with cache lookups.
type memoizedScanner struct {
	scanner Scanner
	cache   *Cache
}

// Memoized wraps scanner so repeated scans of the same identity return
// the cached verdict without redoing network or subprocess work.
func Memoized(scanner Scanner, cache *Cache) Scanner {
	return &memoizedScanner{scanner: scanner, cache: cache}
}

// Scan checks the cache before delegating to the wrapped scanner.
func (m *memoizedScanner) Scan(ctx context.Context, id Identity) (*Result, error) {
	if r, ok := m.cache.Get(id.Key()); ok {
		return r, nil
	}
	r, err := m.scanner.Scan(ctx, id)
	if err != nil {
		return nil, err
	}
	m.cache.Set(id.Key(), r)
	return r, nil
}
