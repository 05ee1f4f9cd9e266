package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store used in tests and as the fallback when
// no Redis server is reachable. Expiry is checked lazily on read; there
// is no background sweeper, which is fine for the small, short-TTL key
// space the entitlement service produces.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// GetOrSet implements Store. The lock is not held while compute runs, so
// concurrent misses for the same key may both compute; last write wins.
func (c *Memory) GetOrSet(ctx context.Context, namespace, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	k := cacheKey(namespace, key)
	c.mu.Lock()
	if e, ok := c.entries[k]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	delete(c.entries, k)
	c.mu.Unlock()

	bs, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[k] = memoryEntry{value: bs, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return bs, nil
}

// Delete implements Store.
func (c *Memory) Delete(_ context.Context, namespace, key string) error {
	c.mu.Lock()
	delete(c.entries, cacheKey(namespace, key))
	c.mu.Unlock()
	return nil
}

// Noop is a Store that caches nothing: every read computes. Useful in
// tests that assert on store access counts.
type Noop struct{}

func (Noop) GetOrSet(ctx context.Context, _, _ string, _ time.Duration, compute ComputeFunc) ([]byte, error) {
	return compute(ctx)
}

func (Noop) Delete(context.Context, string, string) error { return nil }
