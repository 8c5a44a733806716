// Package cache provides a best-effort Redis response cache.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache memoizes computed string responses in Redis. Keys are the
// md5 of the request payload under a fixed prefix. The cache is best
// effort: Redis errors fall through to the compute function and are only
// logged.
type ResponseCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a cache with the given key prefix and entry TTL.
func New(client *redis.Client, prefix string, ttl time.Duration) *ResponseCache {
	if prefix == "" {
		prefix = "cache"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{client: client, prefix: prefix, ttl: ttl}
}

// Key derives the cache key for a request payload.
func (c *ResponseCache) Key(payload string) string {
	sum := md5.Sum([]byte(payload))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}

// GetOrCompute returns the cached response for the payload, or invokes
// compute and stores its result. A compute error is returned as-is and
// nothing is cached.
func (c *ResponseCache) GetOrCompute(ctx context.Context, payload string, compute func(context.Context) (string, error)) (string, bool, error) {
	key := c.Key(payload)
	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return cached, true, nil
	}
	if err != redis.Nil {
		slog.Warn("cache read failed", "key", key, "error", err)
	}

	value, err := compute(ctx)
	if err != nil {
		return "", false, err
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
	return value, false, nil
}

// Invalidate drops a cached entry.
func (c *ResponseCache) Invalidate(ctx context.Context, payload string) error {
	return c.client.Del(ctx, c.Key(payload)).Err()
}
