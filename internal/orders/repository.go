package orders

import (
	"context"
	"encoding/json"
	"time"
)

// TxManager runs fn in a transaction carried by ctx. Nested calls join the
// outer transaction.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ProductRepository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	GetSubcategory(ctx context.Context, id int64) (Subcategory, error)
	ListInputFields(ctx context.Context, categoryID int64) ([]InputField, error)
	// DecrementStock fails with ErrOutOfStock when no unit is left.
	DecrementStock(ctx context.Context, productID int64) error
	RestoreStock(ctx context.Context, productID int64) error
}

type OfferRepository interface {
	// ListCandidateOffers returns non-voucher offers scoped to the product,
	// its category, or all products. Validity is decided by the discount engine.
	ListCandidateOffers(ctx context.Context, productID, categoryID int64) ([]Offer, error)
	GetVoucher(ctx context.Context, id int64) (Offer, error)
	// IncrementUsage fails with ErrOfferExhausted when the quota is used up.
	IncrementUsage(ctx context.Context, offerID int64) error
	DecrementUsage(ctx context.Context, offerID int64) error
}

type SnapshotRepository interface {
	CreateProductSnapshot(ctx context.Context, s ProductSnapshot) error
	CreatePaymentSnapshot(ctx context.Context, s PaymentSnapshot) error
	GetProductSnapshot(ctx context.Context, id string) (ProductSnapshot, error)
}

type InquiryRepository interface {
	CreateInquiry(ctx context.Context, inq Inquiry) error
	GetInquiry(ctx context.Context, id string) (Inquiry, error)
	// ConsumeInquiry moves AWAIT_CONFIRMATION to CONSUMED and reports
	// whether this caller won the transition.
	ConsumeInquiry(ctx context.Context, id string) (bool, error)
	ExpireInquiry(ctx context.Context, id string) (bool, error)
}

type OrderRepository interface {
	// CreateOrder fails with ErrDuplicateOrderID on an order_id collision.
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	// FindPaidOrder only returns orders whose payment_status is SUCCESS.
	FindPaidOrder(ctx context.Context, orderID string) (Order, error)

	// The transition methods below are conditional updates keyed on the
	// current status; false means another writer got there first.
	ConfirmPayment(ctx context.Context, orderID string, at time.Time) (bool, error)
	FailPayment(ctx context.Context, orderID string, at time.Time) (bool, error)
	ExpirePayment(ctx context.Context, orderID string, at time.Time) (bool, error)
	MarkFulfillmentPending(ctx context.Context, orderID string, raw json.RawMessage, at time.Time) (bool, error)
	CompleteFulfillment(ctx context.Context, orderID string, out FulfillmentOutcome, at time.Time) (bool, error)
	FailFulfillment(ctx context.Context, orderID string, raw json.RawMessage, at time.Time) (bool, error)
	TransitionRefund(ctx context.Context, orderID string, from, to RefundStatus, manual bool, at time.Time) (bool, error)
}

type BalanceRepository interface {
	// Credit locks the user's balance row, applies the amount and appends
	// the mutation. A second CREDIT for the same order fails with
	// ErrRefundAlreadyExists.
	Credit(ctx context.Context, userID string, amount int64, refType, refID string, at time.Time) (BalanceMutation, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	ListMutations(ctx context.Context, userID string) ([]BalanceMutation, error)
}

// StatusCache holds read-through copies of order status; writers drop the
// entry after every transition.
type StatusCache interface {
	Invalidate(ctx context.Context, orderID string) error
}
