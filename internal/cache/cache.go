// Package cache provides the short-TTL read-through cache entitlement
// decisions are served from. Two implementations exist: Redis for
// deployments and an in-process map used in tests and as the degraded
// mode when Redis is unreachable at startup.
//
// Concurrency contract: operations are safe under concurrent access for
// the same key without any distributed lock. Two requests may both miss
// and both invoke the compute function; that duplication is acceptable
// because compute functions are read-only and idempotent.
package cache

import (
	"context"
	"time"
)

// Namespaces used by the entitlement service. Invalidation after a write
// deletes the user's entry in every namespace derived from the changed
// data.
const (
	NamespaceStatus      = "sub-status"
	NamespaceCanGenerate = "can-generate"
)

// ComputeFunc produces the value for a key on cache miss. It must be
// read-only: it may run more than once for the same key under
// concurrent misses.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Store is the read-through cache interface. GetOrSet returns the cached
// value on hit without invoking compute; on miss it invokes compute,
// stores the result with the given TTL and returns it. Delete removes an
// entry immediately so the next read recomputes.
type Store interface {
	GetOrSet(ctx context.Context, namespace, key string, ttl time.Duration, compute ComputeFunc) ([]byte, error)
	Delete(ctx context.Context, namespace, key string) error
}

func cacheKey(namespace, key string) string { return namespace + ":" + key }
