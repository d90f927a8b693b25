package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter shared by every instance pointing at the same Redis.
type RedisLimiter struct {
	client    redis.UniversalClient
	namespace string
	window    time.Duration
	maxReqs   int
}

// NewRedisLimiter allows maxReqs calls per key in each window. Keys are stored as namespace:key.
// EXPIRE NX needs Redis 7 or later.
func NewRedisLimiter(client redis.UniversalClient, namespace string, window time.Duration, maxReqs int) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		namespace: namespace,
		window:    window,
		maxReqs:   maxReqs,
	}
}

// Allow increments the key's counter and sets its expiry in one MULTI/EXEC; the first increment
// starts the window. EXPIRE NX runs on every call, so a counter left without a TTL is repaired on
// the next one.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	countKey := l.namespace + ":" + key

	var incr *redis.IntCmd
	var expire *redis.BoolCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, countKey)
		expire = pipe.ExpireNX(ctx, countKey, l.window)
		return nil
	})
	if err := incr.Err(); err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}
	if err := expire.Err(); err != nil {
		return false, fmt.Errorf("redis expire: %w", err)
	}
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return incr.Val() <= int64(l.maxReqs), nil
}
