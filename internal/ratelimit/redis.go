package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "odoorest:ratelimit:"

// Redis counts requests per key in fixed windows shared by every replica.
type Redis struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedis creates a limiter allowing limit requests per key per window.
func NewRedis(client redis.Cmdable, limit int, window time.Duration) *Redis {
	if window <= 0 {
		window = time.Second
	}
	if limit < 1 {
		limit = 1
	}
	return &Redis{client: client, limit: limit, window: window, now: time.Now}
}

// Allow implements Limiter.
func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, slot)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("redis incr %q: %w", redisKey, err)
	}

	if incr.Val() > int64(l.limit) {
		windowEnd := time.Unix(0, (slot+1)*int64(l.window))
		return Decision{RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}

// HealthCheck pings Redis.
func (l *Redis) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
