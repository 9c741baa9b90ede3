package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID               int64
	Name             string
	IsAvailable      bool
	IsSpecialFeature bool
}

type Subcategory struct {
	ID          int64
	CategoryID  int64
	Name        string
	IsAvailable bool
}

// InputField is a customer input the provider needs (phone number, game id, zone id...).
type InputField struct {
	ID         int64
	CategoryID int64
	Name       string
	Label      string
	IsRequired bool
	Position   int
}

type Product struct {
	ID            int64
	CategoryID    int64
	SubcategoryID int64
	Name          string
	ProviderName  string
	ProviderCode  string
	BillingType   string
	Price         int64
	ProviderPrice int64
	MaxPrice      int64
	Separator     string
	AllowDot      bool
	Stock         int64
	IsAvailable   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OfferType string

const (
	OfferDiscount  OfferType = "DISCOUNT"
	OfferFlashSale OfferType = "FLASH_SALE"
	OfferVoucher   OfferType = "VOUCHER"
)

type Offer struct {
	ID                 int64
	Code               string
	Name               string
	Type               OfferType
	DiscountStatic     int64
	DiscountPercentage decimal.Decimal
	// DiscountMaximum caps the discount; zero means uncapped.
	DiscountMaximum int64

	StartDate       time.Time
	EndDate         time.Time
	IsUnlimitedDate bool

	Quota            int64
	UsageCount       int64
	IsUnlimitedQuota bool

	IsAvailable bool
	DeletedAt   *time.Time

	IsAllProducts       bool
	IsAllUsers          bool
	IsAllPaymentMethods bool
	ProductIDs          []int64
	CategoryIDs         []int64
	UserIDs             []string
	PaymentMethodIDs    []int64

	IsCombinable bool
}

type PaymentMethod struct {
	ID            int64
	Code          string
	Name          string
	MinAmount     int64
	MaxAmount     int64
	FeeStatic     int64
	FeePercentage decimal.Decimal
	IsAvailable   bool
	NeedsPhone    bool
}

// ProductSnapshot freezes what the customer saw at inquiry time.
type ProductSnapshot struct {
	ID            string
	ProductID     int64
	Name          string
	CategoryName  string
	ProviderName  string
	ProviderCode  string
	BillingType   string
	Price         int64
	ProviderPrice int64
	MaxPrice      int64
	Separator     string
	AllowDot      bool
	CreatedAt     time.Time
}

type PaymentSnapshot struct {
	ID              string
	PaymentMethodID int64
	Code            string
	Name            string
	FeeStatic       int64
	FeePercentage   decimal.Decimal
	Fee             int64
	CreatedAt       time.Time
}

// InquiryRequest is the customer payload bound into the checkout token.
type InquiryRequest struct {
	ProductID       int64        `json:"product_id"`
	PaymentMethodID int64        `json:"payment_method_id"`
	VoucherID       *int64       `json:"voucher_id,omitempty"`
	InputFields     []FieldValue `json:"input_fields"`
	PaymentPhone    string       `json:"payment_phone,omitempty"`
}

type FieldValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Inquiry struct {
	ID                string
	UserID            string
	ProductID         int64
	PaymentMethodID   int64
	ProductSnapshotID string
	PaymentSnapshotID string
	OfferIDs          []int64
	CustomerInput     string
	Price             int64
	CostPrice         int64
	Fee               int64
	OfferDiscount     int64
	VoucherDiscount   int64
	DiscountPrice     int64
	TotalPrice        int64
	Profit            int64
	Status            InquiryStatus
	Token             string
	CreatedAt         time.Time
	ExpiredAt         time.Time
}

type Order struct {
	ID                int64
	OrderID           string
	InquiryID         string
	UserID            string
	ProductID         int64
	PaymentMethodID   int64
	ProductSnapshotID string
	PaymentSnapshotID string
	OfferIDs          []int64
	CustomerInput     string

	Price         int64
	CostPrice     int64
	Fee           int64
	DiscountPrice int64
	TotalPrice    int64
	Profit        int64

	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
	RefundStatus  RefundStatus
	ManualRefund  bool

	SerialNumber     string
	ProviderRef      string
	ProviderResponse json.RawMessage

	IP               string
	UserAgent        string
	PaymentExpiredAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsGuest reports whether the order has no registered owner.
func (o Order) IsGuest() bool { return o.UserID == "" }

// RefundAmount is what goes back to the buyer's balance when fulfillment fails.
func (o Order) RefundAmount() int64 { return o.TotalPrice - o.Fee }

type MutationType string

const (
	MutationCredit MutationType = "CREDIT"
	MutationDebit  MutationType = "DEBIT"
)

const RefTypeOrder = "ORDER"

type BalanceMutation struct {
	ID            int64
	UserID        string
	Amount        int64
	Type          MutationType
	RefType       string
	RefID         string
	BalanceBefore int64
	BalanceAfter  int64
	CreatedAt     time.Time
}

// FulfillmentOutcome is what the provider reported for a completed top-up.
type FulfillmentOutcome struct {
	CostPrice    int64
	Profit       int64
	SerialNumber string
	ProviderRef  string
	Raw          json.RawMessage
}

// StatusView is the public read model of an order served by the status endpoint.
type StatusView struct {
	OrderID       string        `json:"order_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status"`
	RefundStatus  RefundStatus  `json:"refund_status"`
	ManualRefund  bool          `json:"manual_refund,omitempty"`
	TotalPrice    int64         `json:"total_price"`
	SerialNumber  string        `json:"serial_number,omitempty"`
	ExpiresAt     time.Time     `json:"payment_expired_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (o Order) View() StatusView {
	return StatusView{
		OrderID:       o.OrderID,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.OrderStatus,
		RefundStatus:  o.RefundStatus,
		ManualRefund:  o.ManualRefund,
		TotalPrice:    o.TotalPrice,
		SerialNumber:  o.SerialNumber,
		ExpiresAt:     o.PaymentExpiredAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// Settled reports whether no pipeline step will change the view again.
// Guest refunds stay open until an operator pays them out.
func (v StatusView) Settled() bool {
	switch {
	case v.PaymentStatus == PaymentExpired, v.PaymentStatus == PaymentFailed:
		return true
	case v.OrderStatus == OrderCompleted:
		return true
	case v.OrderStatus == OrderFailed:
		return v.RefundStatus == RefundCompleted
	}
	return false
}
