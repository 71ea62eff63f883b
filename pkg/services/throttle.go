package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CreationThrottle is the load-shed policy consulted before a new group is
// created. Shedding is an expected discard, not an error; the engine never
// queues or retries a shed occurrence.
type CreationThrottle interface {
	AllowCreate(ctx context.Context, projectID uuid.UUID) (bool, error)
}

// NoopThrottle always allows creation. Used when Redis is not configured
// or the per-project rate is 0.
type NoopThrottle struct{}

var _ CreationThrottle = (*NoopThrottle)(nil)

// AllowCreate implements CreationThrottle.
func (NoopThrottle) AllowCreate(context.Context, uuid.UUID) (bool, error) {
	return true, nil
}

// RedisCreationThrottle caps group creations per project in a fixed window,
// backed by a shared Redis counter so the cap holds across worker
// processes.
type RedisCreationThrottle struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewRedisCreationThrottle creates a RedisCreationThrottle allowing limit
// creations per project per window.
func NewRedisCreationThrottle(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *RedisCreationThrottle {
	return &RedisCreationThrottle{
		client: client,
		limit:  limit,
		window: window,
		logger: logger.Named("throttle"),
	}
}

var _ CreationThrottle = (*RedisCreationThrottle)(nil)

// AllowCreate implements CreationThrottle. A Redis outage fails open:
// shedding every creation because the counter is unreachable would turn a
// cache incident into data loss.
func (t *RedisCreationThrottle) AllowCreate(ctx context.Context, projectID uuid.UUID) (bool, error) {
	windowStart := time.Now().Truncate(t.window).Unix()
	key := fmt.Sprintf("grouping:create:%s:%d", projectID, windowStart)

	pipe := t.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("throttle check failed, allowing creation", zap.Error(err))
		return true, nil
	}

	return incr.Val() <= int64(t.limit), nil
}
