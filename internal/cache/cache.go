// Package cache provides the key-value cache every read path sits
// behind. The discipline is cache-aside: readers consult the cache,
// fall through to the store on miss, and populate on the way out;
// writers mutate the store first and then evict. Counter keys are
// maintained with atomic incr/decr on the cache server.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Cache is the key-value interface used by every component. Failures
// are absorbed: a broken cache degrades to store reads, it never fails
// a request.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool)
	// Set stores value under key with no expiry.
	Set(ctx context.Context, key, value string)
	// SetEx stores value under key with a TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration)
	// Remove deletes the given keys.
	Remove(ctx context.Context, keys ...string)
	// Incr atomically increments the counter at key.
	Incr(ctx context.Context, key string)
	// Decr atomically decrements the counter at key.
	Decr(ctx context.Context, key string)
	// GetCount returns the counter at key, or false when absent or
	// unparseable. Counter read paths must tolerate absence and prime
	// the key themselves.
	GetCount(ctx context.Context, key string) (int64, bool)
	// SetCount primes a counter key.
	SetCount(ctx context.Context, key string, n int64)
}

// Redis is the go-redis backed Cache used in production.
type Redis struct {
	rdb    *redis.Client
	logger *slog.Logger
	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewRedis creates a Redis cache. The counters may be nil in tests.
func NewRedis(rdb *redis.Client, logger *slog.Logger, hits, misses prometheus.Counter) *Redis {
	return &Redis{rdb: rdb, logger: logger, hits: hits, misses: misses}
}

func (c *Redis) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		if c.misses != nil {
			c.misses.Inc()
		}
		return "", false
	}
	if c.hits != nil {
		c.hits.Inc()
	}
	return val, true
}

func (c *Redis) Set(ctx context.Context, key, value string) {
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache setex failed", "key", key, "error", err)
	}
}

func (c *Redis) Remove(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache remove failed", "keys", keys, "error", err)
	}
}

func (c *Redis) Incr(ctx context.Context, key string) {
	if err := c.rdb.Incr(ctx, key).Err(); err != nil {
		c.logger.Warn("cache incr failed", "key", key, "error", err)
	}
}

func (c *Redis) Decr(ctx context.Context, key string) {
	if err := c.rdb.Decr(ctx, key).Err(); err != nil {
		c.logger.Warn("cache decr failed", "key", key, "error", err)
	}
}

func (c *Redis) GetCount(ctx context.Context, key string) (int64, bool) {
	val, ok := c.Get(ctx, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Corrupt counter: evict so the next read primes it fresh.
		c.Remove(ctx, key)
		return 0, false
	}
	return n, true
}

func (c *Redis) SetCount(ctx context.Context, key string, n int64) {
	c.Set(ctx, key, strconv.FormatInt(n, 10))
}
