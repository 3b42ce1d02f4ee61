package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreClaimIsExclusive(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	won, err := store.Claim(ctx, "webhook:stripe:evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Claim(ctx, "webhook:stripe:evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	mr.FastForward(2 * time.Minute)
	won, err = store.Claim(ctx, "webhook:stripe:evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestRedisStoreConcurrentClaims(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if won, err := store.Claim(ctx, "usage:k1", time.Minute); err == nil && won {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners)
}

func TestRedisStoreMarkExistsRelease(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, "usage:done:k1", 24*time.Hour))
	ok, err := store.Exists(ctx, "usage:done:k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(defaultKeyPrefix+"usage:done:k1"))

	require.NoError(t, store.Release(ctx, "usage:done:k1"))
	ok, err = store.Exists(ctx, "usage:done:k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreHonorsTTL(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk)
	ctx := context.Background()

	won, err := store.Claim(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Claim(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.False(t, won)

	clk.Advance(time.Hour)
	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	won, err = store.Claim(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, won)

	require.NoError(t, store.Release(ctx, "k"))
	ok, _ = store.Exists(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStoreConcurrentClaims(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if won, _ := store.Claim(ctx, "webhook:polar:msg_1", time.Minute); won {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners)
}
