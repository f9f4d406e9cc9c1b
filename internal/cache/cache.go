// Package cache defines the key-value store used for insight entries,
// day-scoped counters and the last-run record.
package cache

import (
	"context"
	"time"
)

// Store is the cache backend contract. Implementations enforce per-key
// expiry themselves; an expired key reads as absent.
type Store interface {
	// Get returns ok=false for a missing or expired key.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Incr atomically adds one to key and (re)applies ttl when ttl > 0.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Del removes keys; missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
