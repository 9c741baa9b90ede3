package redisx

import "time"

const (
	// Cached order status: order_status:{order_id} -> orders.StatusView JSON
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
)
