package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Cache used by tests and by deployments that
// run without a cache server. TTLs are honored lazily on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (c *Memory) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *Memory) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value}
}

func (c *Memory) SetEx(_ context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expires: time.Now().Add(ttl)}
}

func (c *Memory) Remove(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
}

func (c *Memory) Incr(ctx context.Context, key string) { c.add(key, 1) }

func (c *Memory) Decr(ctx context.Context, key string) { c.add(key, -1) }

func (c *Memory) add(key string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, _ := strconv.ParseInt(c.entries[key].value, 10, 64)
	c.entries[key] = memoryEntry{value: strconv.FormatInt(n+delta, 10)}
}

func (c *Memory) GetCount(ctx context.Context, key string) (int64, bool) {
	val, ok := c.Get(ctx, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		c.Remove(ctx, key)
		return 0, false
	}
	return n, true
}

func (c *Memory) SetCount(ctx context.Context, key string, n int64) {
	c.Set(ctx, key, strconv.FormatInt(n, 10))
}
