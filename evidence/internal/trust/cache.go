package trust

import (
	"context"
	"strings"
	"sync"

	"github.com/hazyhaar/factcheck/evidence/internal/document"
)

// Cache memoizes successful oracle lookups for the life of the process.
// Errors are not cached. Safe for concurrent use across retrieval runs.
type Cache struct {
	oracle  Oracle
	mu      sync.Mutex
	entries map[string]document.SiteTrust
	hits    int
	misses  int
}

// NewCache wraps oracle with a process-lifetime cache.
func NewCache(oracle Oracle) *Cache {
	return &Cache{oracle: oracle, entries: make(map[string]document.SiteTrust)}
}

// Lookup implements Oracle.
func (c *Cache) Lookup(ctx context.Context, domain string) (document.SiteTrust, error) {
	key := strings.ToLower(domain)

	c.mu.Lock()
	if st, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		return st, nil
	}
	c.misses++
	c.mu.Unlock()

	st, err := c.oracle.Lookup(ctx, domain)
	if err != nil {
		return st, err
	}

	c.mu.Lock()
	c.entries[key] = st
	c.mu.Unlock()
	return st, nil
}

// Stats returns cache entries, hits and misses.
func (c *Cache) Stats() (entries, hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.hits, c.misses
}
