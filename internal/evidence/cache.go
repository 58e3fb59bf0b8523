package evidence

import (
	"sync"
	"time"
)

// Bundle holds the fetched evidence for all targets for one address.
// Providers are cheaper to query once per address than once per target,
// so the cache always stores whole bundles.
type Bundle struct {
	Address   string
	Results   []Result
	FetchedAt time.Time
}

// ByTarget returns the result for a target ID, if present
func (b *Bundle) ByTarget(targetID string) (Result, bool) {
	for _, r := range b.Results {
		if r.TargetID == targetID {
			return r, true
		}
	}
	return Result{}, false
}

// Cache memoizes evidence bundles per address for a TTL. Failed fetches
// are never cached, so the next check retries immediately, bounded by the
// rate/retry controller. Entries are evicted lazily on read.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*Bundle

	// now is swapped out in tests
	now func() time.Time
}

// NewCache creates an evidence cache with the given TTL
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]*Bundle),
		now:     time.Now,
	}
}

// Get returns the cached bundle for a normalized address, or false on a
// miss or a stale entry. Stale entries are deleted on read.
func (c *Cache) Get(address string) (*Bundle, bool) {
	c.mu.RLock()
	bundle, ok := c.entries[address]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().Sub(bundle.FetchedAt) > c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// refreshed the entry in between.
		if current, ok := c.entries[address]; ok && c.now().Sub(current.FetchedAt) > c.ttl {
			delete(c.entries, address)
		}
		c.mu.Unlock()
		return nil, false
	}
	return bundle, true
}

// Put stores a bundle for the bundle's address
func (c *Cache) Put(bundle *Bundle) {
	if bundle.FetchedAt.IsZero() {
		bundle.FetchedAt = c.now()
	}
	c.mu.Lock()
	c.entries[bundle.Address] = bundle
	c.mu.Unlock()
}

// Invalidate drops the cached bundle for an address
func (c *Cache) Invalidate(address string) {
	c.mu.Lock()
	delete(c.entries, address)
	c.mu.Unlock()
}
