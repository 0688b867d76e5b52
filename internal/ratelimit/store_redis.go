package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements CounterStore with a fixed window counter shared
// across replicas. INCR and EXPIRE run in one pipeline round trip; the
// expiry is only set when the counter is first created so the window does
// not slide on every request.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, prefix: "evault:ratelimit:"}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	fullKey := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	ttl := pipe.TTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(incr.Val())
	resetAt := time.Now().Add(window)
	if d := ttl.Val(); d > 0 {
		resetAt = time.Now().Add(d)
	}

	if count > limit {
		return &Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: resetAt}, nil
	}
	return &Result{Allowed: true, Remaining: limit - count, Limit: limit, ResetAt: resetAt}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}
