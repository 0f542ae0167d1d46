package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client, "stockledger:test:")
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "demand")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "demand", []byte(`{"qty":"3"}`), time.Minute))
	require.True(t, mr.Exists("stockledger:test:demand"))

	raw, ok, err := store.Get(ctx, "demand")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"qty":"3"}`, string(raw))

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, "demand")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreSurfacesConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client, "")
	mr.Close()

	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(context.Background(), Options{})
	require.Error(t, err)

	addr := mr.Addr()
	mr.Close()
	_, err = New(context.Background(), Options{Addr: addr})
	require.ErrorContains(t, err, "platform/cache: ping")
}
