package github

import (
	"sync"
	"time"
)

// Cache holds one fetched repository list per account with an explicit TTL.
// It is owned by the Fetcher; entries never outlive their deadline.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	repos   []Repo
	expires time.Time
}

// NewCache creates a repository cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached repositories for the account, if still fresh.
func (c *Cache) Get(account string) ([]Repo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[account]
	if !ok || c.now().After(e.expires) {
		delete(c.entries, account)
		return nil, false
	}
	return e.repos, true
}

// Put stores the repositories for the account until the TTL elapses.
func (c *Cache) Put(account string, repos []Repo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[account] = cacheEntry{
		repos:   repos,
		expires: c.now().Add(c.ttl),
	}
}

// Invalidate drops the cached entry for the account.
func (c *Cache) Invalidate(account string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, account)
}
