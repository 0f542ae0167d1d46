package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RedisLocker implements shared.Locker with bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
}

// NewLocker wraps a redis client.
func NewLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

// Obtain acquires key for ttl without waiting.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, shared.ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
