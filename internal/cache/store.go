package cache

import (
	"context"
	"time"
)

// Store represents the shared expiring key-value interface used across the
// application. The cache tier is never authoritative: callers must carry
// their own expiry checks and tolerate a missing or stale entry.
type Store interface {
	// IncrementWithTTL atomically increments the counter for key, attaching
	// the window expiry on the first increment, and returns the new count
	// plus the remaining time-to-live.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
