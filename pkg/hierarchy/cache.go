package hierarchy

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheStats holds cache hit/miss counters
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Items   int64   `json:"items"`
	HitRate float64 `json:"hit_rate"`
}

// Invalidator drops cached records after a container moves or is deleted.
// LRUSource and RedisSource implement it.
type Invalidator interface {
	Invalidate(ctx context.Context, id int64) error
}

// LookupObserver is notified of every cache lookup
type LookupObserver func(cache string, hit bool)

// LRUSource caches container records from another Source in process.
// Only Get is cached; Children always reaches the underlying source.
type LRUSource struct {
	next    Source
	cache   *lru.LRU[int64, Container]
	observe LookupObserver
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewLRUSource wraps next with an expiring LRU of at most size entries
func NewLRUSource(next Source, size int, ttl time.Duration) *LRUSource {
	if size < 10 {
		size = 10
	}
	return &LRUSource{
		next:  next,
		cache: lru.NewLRU[int64, Container](size, nil, ttl),
	}
}

// WithObserver sets a lookup observer, typically a metrics hook
func (c *LRUSource) WithObserver(fn LookupObserver) *LRUSource {
	c.observe = fn
	return c
}

// Get returns a cached container or loads it from the next source
func (c *LRUSource) Get(ctx context.Context, id int64) (*Container, error) {
	if cached, ok := c.cache.Get(id); ok {
		c.record(true)
		return &cached, nil
	}
	c.record(false)

	container, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *container)
	return container, nil
}

// Children delegates to the next source
func (c *LRUSource) Children(ctx context.Context, parentID int64) ([]Container, error) {
	return c.next.Children(ctx, parentID)
}

// Invalidate drops the cached record for id
func (c *LRUSource) Invalidate(_ context.Context, id int64) error {
	c.cache.Remove(id)
	return nil
}

// Purge drops every cached record
func (c *LRUSource) Purge() {
	c.cache.Purge()
}

// Stats returns cache statistics
func (c *LRUSource) Stats() CacheStats {
	stats := CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Items:  int64(c.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *LRUSource) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observe != nil {
		c.observe("lru", hit)
	}
}
