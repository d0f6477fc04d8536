package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter is a Redis-backed fixed-window counter so limits are shared
// across instances. On Redis errors it fails open: the request is allowed and
// the error is returned for the caller to log.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	duration time.Duration
}

// NewRedisLimiter creates a distributed limiter with the given key prefix and
// window duration.
func NewRedisLimiter(client *redis.Client, prefix string, duration time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if duration <= 0 {
		duration = time.Hour
	}
	return &RedisLimiter{client: client, prefix: prefix, duration: duration}
}

// Allow implements Limiter using a pipelined INCR + EXPIRE.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.duration)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open so a Redis outage does not take authentication down
		// with it.
		return true, fmt.Errorf("ratelimit: redis error: %w", err)
	}

	return incr.Val() <= int64(limit), nil
}

// Remaining returns how many requests are left in the current window for key.
func (l *RedisLimiter) Remaining(ctx context.Context, key string, limit int) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	count, err := l.client.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return limit, nil
	} else if err != nil {
		return 0, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the window for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}
