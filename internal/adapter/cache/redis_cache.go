package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evgenyvinnik/checkout-api/internal/retry"
	"github.com/evgenyvinnik/checkout-api/internal/usecase"
)

// RedisCache is the order status read cache. Operations run under the
// cache retry budget so a single dropped connection does not surface to
// the best-effort callers.
type RedisCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	retries retry.Options
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, retries retry.Options) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, retries: retries}
}

var _ usecase.StatusCache = (*RedisCache)(nil)

func statusKey(orderID string) string { return "order:status:" + orderID }

func (r *RedisCache) SetStatus(ctx context.Context, orderID string, status string) error {
	_, err := retry.Do(ctx, r.retries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.rdb.Set(ctx, statusKey(orderID), status, r.ttl).Err()
	})
	return err
}

func (r *RedisCache) GetStatus(ctx context.Context, orderID string) (string, bool, error) {
	type hit struct {
		val string
		ok  bool
	}
	h, err := retry.Do(ctx, r.retries, func(ctx context.Context) (hit, error) {
		val, err := r.rdb.Get(ctx, statusKey(orderID)).Result()
		if err == redis.Nil {
			return hit{}, nil
		}
		if err != nil {
			return hit{}, err
		}
		return hit{val: val, ok: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	return h.val, h.ok, nil
}
