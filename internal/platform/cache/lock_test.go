package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestRedisLockerExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(client)
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "stockledger:test:lock", time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "stockledger:test:lock", time.Minute)
	require.ErrorIs(t, err, shared.ErrLockNotObtained)

	require.NoError(t, release(ctx))

	release, err = locker.Obtain(ctx, "stockledger:test:lock", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLockerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(client)
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "stockledger:ttl:lock", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := locker.Obtain(ctx, "stockledger:ttl:lock", time.Second)
	require.NoError(t, err)
	require.NoError(t, other(ctx))
	require.NoError(t, release(ctx))
}
