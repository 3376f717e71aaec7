package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/order-service/internal/core/domain"
)

const (
	stockKeyPrefix    = "stock:"
	idempotencyKeyTTL = 24 * time.Hour
)

// RedisAdapter serves two roles: a stock oracle reading stock:<sku> counters
// and the idempotency guard for order placement.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// InStock reports a SKU as available when its counter is above zero. SKUs
// without a counter are left out of the answer.
func (r *RedisAdapter) InStock(ctx context.Context, skus []string) (domain.Availability, error) {
	cmds := make([]*redis.StringCmd, len(skus))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, sku := range skus {
			cmds[i] = pipe.Get(ctx, stockKeyPrefix+sku)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read stock: %w", err)
	}

	availability := make(domain.Availability, len(skus))
	for i, cmd := range cmds {
		qty, err := cmd.Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read stock %s: %w", skus[i], err)
		}
		availability[skus[i]] = qty > 0
	}
	return availability, nil
}

func (r *RedisAdapter) SetStock(ctx context.Context, sku string, quantity int) error {
	return r.client.Set(ctx, stockKeyPrefix+sku, quantity, 0).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
