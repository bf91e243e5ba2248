package store

import (
	"context"
	"sync"
	"time"

	"klarogeo/internal/ratelimit/models"
)

// InMemoryBucketStore implements the limiter's store with per-key sliding
// windows held in process memory.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*slidingWindow
	now     func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
}

func (sw *slidingWindow) tryConsume(cost, limit int, window time.Duration, now time.Time) (bool, int, time.Time) {
	sw.cleanupExpired(now, window)

	allowed := len(sw.timestamps)+cost <= limit
	if allowed {
		for range cost {
			sw.timestamps = append(sw.timestamps, now)
		}
	}
	resetAt := now.Add(window)
	if len(sw.timestamps) > 0 {
		resetAt = sw.timestamps[0].Add(window)
	}
	return allowed, limit - len(sw.timestamps), resetAt
}

func (sw *slidingWindow) cleanupExpired(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// MemoryOption configures an InMemoryBucketStore.
type MemoryOption func(*InMemoryBucketStore)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryBucketStore) {
		s.now = now
	}
}

func NewInMemoryBucketStore(opts ...MemoryOption) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		buckets: make(map[string]*slidingWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow checks a request of cost 1 against limit and records it if admitted.
func (s *InMemoryBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

// AllowN checks a request with a custom cost.
func (s *InMemoryBucketStore) AllowN(_ context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error) {
	if err := checkArgs(key, cost, limit, window); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bucket, ok := s.buckets[key]
	if !ok {
		bucket = &slidingWindow{}
		s.buckets[key] = bucket
	}
	allowed, remaining, resetAt := bucket.tryConsume(cost, limit, window, now)

	return &models.Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: models.RetryAfterSeconds(allowed, now, resetAt),
	}, nil
}

// Reset clears the counter for key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Sweep drops keys whose windows are empty.
func (s *InMemoryBucketStore) Sweep(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, bucket := range s.buckets {
		bucket.cleanupExpired(now, window)
		if len(bucket.timestamps) == 0 {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}
