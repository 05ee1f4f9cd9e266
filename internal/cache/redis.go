package cache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the Store implementation backing production deployments.
// Cache trouble must never fail an entitlement read: a Redis error on
// lookup falls through to compute, and a Redis error on store or delete
// is logged and swallowed (the TTL bounds how long the stale entry can
// survive a failed delete).
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// GetOrSet implements Store.
func (c *Redis) GetOrSet(ctx context.Context, namespace, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error) {
	k := cacheKey(namespace, key)
	if bs, err := c.rdb.Get(ctx, k).Bytes(); err == nil {
		return bs, nil
	} else if err != redis.Nil {
		log.Printf("cache: redis get %s failed: %v", k, err)
	}
	bs, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.SetEx(ctx, k, bs, ttl).Err(); err != nil {
		log.Printf("cache: redis set %s failed: %v", k, err)
	}
	return bs, nil
}

// Delete implements Store.
func (c *Redis) Delete(ctx context.Context, namespace, key string) error {
	k := cacheKey(namespace, key)
	if err := c.rdb.Del(ctx, k).Err(); err != nil {
		log.Printf("cache: redis del %s failed: %v", k, err)
		return err
	}
	return nil
}
