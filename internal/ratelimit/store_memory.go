package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore implements CounterStore with a per-key sliding window.
// Single-process only; deployments with more than one replica should use
// the Redis store instead.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*slidingWindow
}

// slidingWindow tracks request timestamps. A sliding window avoids the
// boundary burst a fixed window permits.
type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{buckets: make(map[string]*slidingWindow)}
}

func (s *InMemoryStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sw := s.getOrCreateBucket(key, window)
	sw.cleanup(now)

	if len(sw.timestamps)+1 > limit {
		return &Result{
			Allowed:   false,
			Remaining: 0,
			Limit:     limit,
			ResetAt:   sw.timestamps[0].Add(window),
		}, nil
	}

	sw.timestamps = append(sw.timestamps, now)
	return &Result{
		Allowed:   true,
		Remaining: limit - len(sw.timestamps),
		Limit:     limit,
		ResetAt:   sw.timestamps[0].Add(window),
	}, nil
}

func (s *InMemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// cleanup removes timestamps that fell out of the window.
func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// getOrCreateBucket must be called while holding s.mu.
func (s *InMemoryStore) getOrCreateBucket(key string, window time.Duration) *slidingWindow {
	if sw := s.buckets[key]; sw != nil {
		return sw
	}
	sw := &slidingWindow{window: window}
	s.buckets[key] = sw
	return sw
}
