package orders

import "time"

// Job names registered with the queue.
const (
	JobProcessOrder = "process-order"
	JobExpireOrder  = "expired-order"
)

// ProcessOrderPayload asks the fulfillment worker to dispatch a paid order.
// PendingChecks counts how many times the provider already answered PENDING.
type ProcessOrderPayload struct {
	OrderID       string `json:"order_id"`
	PendingChecks int    `json:"pending_checks,omitempty"`
}

// ExpireOrderPayload is scheduled at checkout for the end of the payment window.
type ExpireOrderPayload struct {
	OrderID string `json:"order_id"`
}

// PaymentEvent is the already-verified payment gateway outcome for an order.
type PaymentEvent struct {
	OrderID    string        `json:"order_id"`
	Status     PaymentStatus `json:"status"`
	Reference  string        `json:"reference,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
