package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

type MethodRepository interface {
	GetPaymentMethod(ctx context.Context, id int64) (orders.PaymentMethod, error)
}

type Input struct {
	PaymentMethodID int64
	TotalPrice      int64
	Voucher         *orders.Offer
	UserID          string
	PaymentPhone    string
}

type Quote struct {
	Method orders.PaymentMethod
	Fee    int64
}

type Validator struct {
	Methods MethodRepository
}

func NewValidator(methods MethodRepository) *Validator {
	return &Validator{Methods: methods}
}

// ValidatePaymentMethod checks that the method can pay TotalPrice and
// returns the fee it charges on top.
func (v *Validator) ValidatePaymentMethod(ctx context.Context, in Input) (Quote, error) {
	m, err := v.Methods.GetPaymentMethod(ctx, in.PaymentMethodID)
	if err != nil {
		return Quote{}, fmt.Errorf("get payment method %d: %w", in.PaymentMethodID, err)
	}
	if !m.IsAvailable {
		return Quote{}, orders.ErrPaymentIneligible
	}
	if in.TotalPrice < m.MinAmount || (m.MaxAmount > 0 && in.TotalPrice > m.MaxAmount) {
		return Quote{}, orders.ErrPaymentIneligible
	}
	if m.NeedsPhone && in.PaymentPhone == "" {
		return Quote{}, orders.ErrPaymentPhoneMissing
	}
	if in.Voucher != nil && !in.Voucher.IsAllPaymentMethods && !contains(in.Voucher.PaymentMethodIDs, m.ID) {
		return Quote{}, orders.ErrVoucherInvalid
	}
	return Quote{Method: m, Fee: Fee(in.TotalPrice, m)}, nil
}

// Fee is static + ceil(total * pct / 100).
func Fee(total int64, m orders.PaymentMethod) int64 {
	pct := decimal.NewFromInt(total).Mul(m.FeePercentage).Div(decimal.NewFromInt(100)).Ceil().IntPart()
	return m.FeeStatic + pct
}

func contains(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
