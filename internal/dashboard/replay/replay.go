// Package replay guards the backend verdict-push callback against token
// replay: once a {backend}.{ts}.{hmac} token has been accepted, it must
// never be accepted again within its validity window. Grounded on the
// teacher's use of go-redis for shared, process-independent state
// (internal/app/jam uses Redis-backed locking for similar cross-process
// coordination); no example repo wires an actual redis.Client, so the
// client usage here follows go-redis/redis/v8's own documented API
// rather than a pack pattern (see DESIGN.md).
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewCache picks RedisCache when addr is configured (spec SPEC_FULL §9
// `callback.redis_addr`), falling back to an in-process MemCache for
// single-instance deployments where sharing across processes is moot.
func NewCache(addr string) Cache {
	if addr == "" {
		return NewMemCache()
	}
	return NewRedisCache(addr)
}

// Cache records seen callback tokens and rejects repeats.
type Cache interface {
	// SeenBefore marks token as used and reports whether it had already
	// been recorded. ttl bounds how long the token is remembered, which
	// should be at least the callback token's own validity window.
	SeenBefore(ctx context.Context, token string, ttl time.Duration) (bool, error)
}

// RedisCache is the production Cache, backed by a single Redis instance
// shared across arbiterd processes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache builds a RedisCache against addr (host:port).
func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "arbiter:callback:seen:",
	}
}

// SeenBefore uses SETNX semantics (SetNX) so the check-and-mark is atomic.
func (c *RedisCache) SeenBefore(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+token, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay cache: %w", err)
	}
	// SetNX reports true when the key was newly set, i.e. not seen before.
	return !ok, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemCache is the in-process fallback used when no Redis address is
// configured (single-instance deployments, tests). Entries are swept
// lazily on access rather than by a background goroutine.
type MemCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemCache builds an empty in-process Cache.
func NewMemCache() *MemCache {
	return &MemCache{seen: make(map[string]time.Time)}
}

func (c *MemCache) SeenBefore(_ context.Context, token string, ttl time.Duration) (bool, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, exp := range c.seen {
		if now.After(exp) {
			delete(c.seen, k)
		}
	}

	if exp, ok := c.seen[token]; ok && now.Before(exp) {
		return true, nil
	}
	c.seen[token] = now.Add(ttl)
	return false, nil
}
