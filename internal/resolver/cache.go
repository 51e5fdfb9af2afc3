package resolver

import (
	"context"
	"sync"
	"time"
)

type lookuper interface {
	Lookup(ctx context.Context, target string) (*Result, error)
}

// Cache remembers successful lookups per host for ttl. Failures are not cached.
type Cache struct {
	next lookuper
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

func NewCache(next lookuper, ttl time.Duration) *Cache {
	return &Cache{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Lookup(ctx context.Context, target string) (*Result, error) {
	host := CleanHost(target)

	c.mu.RLock()
	entry, ok := c.entries[host]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.result.clone(), nil
	}

	res, err := c.next.Lookup(ctx, target)
	if err != nil {
		return nil, err
	}

	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[host] = cacheEntry{result: *res.clone(), expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return res, nil
}

// Len reports how many hosts are cached, expired ones included until the next miss.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (r *Result) clone() *Result {
	cp := *r
	cp.IPs = append([]string(nil), r.IPs...)
	return &cp
}
