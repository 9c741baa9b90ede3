package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// testClient connects to TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rdb, err := Connect(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestLocker(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	l := NewLocker(rdb)
	key := "lock:test:" + uuid.NewString()

	release, ok, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrLockLost)

	release2, ok, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, release2(ctx))
}

func TestLocker_ReleaseDoesNotStealTakenOverLock(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	l := NewLocker(rdb)
	key := "lock:test:" + uuid.NewString()

	release, ok, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// simulate expiry followed by another holder
	require.NoError(t, rdb.Set(ctx, key, "someone-else", time.Minute).Err())
	assert.ErrorIs(t, release(ctx), ErrLockLost)

	v, err := rdb.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
	require.NoError(t, rdb.Del(ctx, key).Err())
}

func TestStatusCache(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := NewStatusCache(rdb)
	id := "PPTEST" + uuid.NewString()[:8]

	_, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	view := orders.StatusView{
		OrderID:       id,
		PaymentStatus: orders.PaymentSuccess,
		OrderStatus:   orders.OrderPending,
		RefundStatus:  orders.RefundNone,
		TotalPrice:    48000,
		UpdatedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.Set(ctx, view))

	got, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, view.OrderStatus, got.OrderStatus)
	assert.Equal(t, int64(48000), got.TotalPrice)

	ttl, err := rdb.TTL(ctx, statusKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.Invalidate(ctx, id))
	_, ok, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusCache_CorruptEntryIsAMiss(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := NewStatusCache(rdb)
	id := "PPTEST" + uuid.NewString()[:8]

	require.NoError(t, rdb.Set(ctx, statusKey(id), "{not json", time.Minute).Err())
	_, ok, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Invalidate(ctx, id))
}
