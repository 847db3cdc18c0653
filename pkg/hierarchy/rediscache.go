package hierarchy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces the keys written by RedisSource
const DefaultKeyPrefix = "rampart:hierarchy"

// RedisSource caches container records in Redis so that several
// processes share one warm cache. Redis failures fall through to the
// next source.
type RedisSource struct {
	next    Source
	client  *redis.Client
	kind    Kind
	prefix  string
	ttl     time.Duration
	observe LookupObserver
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewRedisSource wraps next with a Redis cache for containers of kind
func NewRedisSource(next Source, client *redis.Client, kind Kind, ttl time.Duration) *RedisSource {
	return &RedisSource{
		next:   next,
		client: client,
		kind:   kind,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
	}
}

// WithPrefix overrides the key prefix
func (c *RedisSource) WithPrefix(prefix string) *RedisSource {
	c.prefix = prefix
	return c
}

// WithObserver sets a lookup observer, typically a metrics hook
func (c *RedisSource) WithObserver(fn LookupObserver) *RedisSource {
	c.observe = fn
	return c
}

func (c *RedisSource) key(id int64) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, c.kind, id)
}

// Get returns a cached container or loads it from the next source
func (c *RedisSource) Get(ctx context.Context, id int64) (*Container, error) {
	key := c.key(id)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var container Container
		if err := json.Unmarshal(data, &container); err == nil {
			c.record(true)
			return &container, nil
		}
		// corrupt entry
		c.client.Del(ctx, key)
	}
	c.record(false)

	container, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(container); err == nil {
		c.client.Set(ctx, key, data, c.ttl)
	}
	return container, nil
}

// Children delegates to the next source
func (c *RedisSource) Children(ctx context.Context, parentID int64) ([]Container, error) {
	return c.next.Children(ctx, parentID)
}

// Invalidate drops the cached record for id
func (c *RedisSource) Invalidate(ctx context.Context, id int64) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to invalidate %s:%d: %w", c.kind, id, err)
	}
	return nil
}

// Purge drops every record of this kind
func (c *RedisSource) Purge(ctx context.Context) error {
	pattern := fmt.Sprintf("%s:%s:*", c.prefix, c.kind)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return nil
}

// Stats returns hit/miss counters. Items is not tracked.
func (c *RedisSource) Stats() CacheStats {
	stats := CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *RedisSource) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observe != nil {
		c.observe("redis", hit)
	}
}
