package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/campusgate/campusgate/internal/cache"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// memoryRateStore is a process-local RateStore for tests and single-node
// deployments. Expired windows are pruned lazily whenever an increment runs,
// so no background goroutine is needed.
type memoryRateStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	clock   func() time.Time
}

type memoryWindow struct {
	count int
	until time.Time
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore() RateStore {
	return &memoryRateStore{
		windows: make(map[string]*memoryWindow),
		clock:   time.Now,
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.windows) > 0 {
		for k, w := range s.windows {
			if now.After(w.until) {
				delete(s.windows, k)
			}
		}
	}

	w, ok := s.windows[key]
	if !ok {
		w = &memoryWindow{until: now.Add(window)}
		s.windows[key] = w
	}
	w.count++

	return w.count, w.until.Sub(now), nil
}

// storeRateStore implements RateStore on the shared cache.Store, whose
// IncrementWithTTL attaches the window expiry atomically with the increment.
type storeRateStore struct {
	store cache.Store
}

// NewStoreRateStore wraps a cache store (Redis or the database fallback) in a
// RateStore implementation.
func NewStoreRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store}
}

func (s *storeRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
