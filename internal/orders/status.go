package orders

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentExpired PaymentStatus = "EXPIRED"
)

type OrderStatus string

const (
	OrderNone      OrderStatus = "NONE"
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderFailed    OrderStatus = "FAILED"
)

type RefundStatus string

const (
	RefundNone       RefundStatus = "NONE"
	RefundProcessing RefundStatus = "PROCESSING"
	RefundCompleted  RefundStatus = "COMPLETED"
	RefundFailed     RefundStatus = "FAILED"
)

type InquiryStatus string

const (
	InquiryAwaitConfirmation InquiryStatus = "AWAIT_CONFIRMATION"
	InquiryExpired           InquiryStatus = "EXPIRED"
	InquiryConsumed          InquiryStatus = "CONSUMED"
)

var validPayment = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {PaymentSuccess: true, PaymentFailed: true, PaymentExpired: true},
	PaymentSuccess: {},
	PaymentFailed:  {},
	PaymentExpired: {},
}

var validOrder = map[OrderStatus]map[OrderStatus]bool{
	OrderNone:      {OrderPending: true},
	OrderPending:   {OrderCompleted: true, OrderFailed: true},
	OrderCompleted: {},
	OrderFailed:    {},
}

var validRefund = map[RefundStatus]map[RefundStatus]bool{
	RefundNone:       {RefundProcessing: true, RefundCompleted: true},
	RefundProcessing: {RefundCompleted: true, RefundFailed: true},
	RefundCompleted:  {},
	RefundFailed:     {RefundProcessing: true},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPayment[from][to]
}

func CanTransitionOrder(from, to OrderStatus) bool {
	return validOrder[from][to]
}

// CanTransitionRefund also requires a paid order whose fulfillment failed
// before a refund may leave NONE.
func CanTransitionRefund(o Order, to RefundStatus) bool {
	if o.RefundStatus == RefundNone && (o.PaymentStatus != PaymentSuccess || o.OrderStatus != OrderFailed) {
		return false
	}
	return validRefund[o.RefundStatus][to]
}

// IsTerminal reports whether fulfillment has reached a final state.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderFailed
}
