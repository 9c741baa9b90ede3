package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// StatusCache keeps orders.StatusView copies under KeyOrderStatus.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func statusKey(orderID string) string {
	return fmt.Sprintf(KeyOrderStatus, orderID)
}

// Get reports ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.StatusView, bool, error) {
	var v orders.StatusView
	raw, err := c.rdb.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		// a corrupt entry is treated as a miss and overwritten by the caller
		return v, false, nil
	}
	return v, true, nil
}

func (c *StatusCache) Set(ctx context.Context, v orders.StatusView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statusKey(v.OrderID), b, c.ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, statusKey(orderID)).Err()
}
