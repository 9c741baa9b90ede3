// Package discount picks the best offer and validates vouchers for a price.
// It performs no I/O.
package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// MinimumPayable is the business floor for the discounted price.
const MinimumPayable int64 = 1000

var hundred = decimal.NewFromInt(100)

// Usage describes who is buying what, for eligibility checks.
type Usage struct {
	ProductID       int64
	CategoryID      int64
	UserID          string
	PaymentMethodID int64
}

func (u Usage) isGuest() bool { return u.UserID == "" }

type Input struct {
	Price  int64
	Offers []orders.Offer
	// Voucher is the voucher the customer asked for, already loaded; nil when none.
	Voucher *orders.Offer
	Usage   Usage
	Now     time.Time
}

type Result struct {
	Offer           *orders.Offer
	Voucher         *orders.Offer
	OfferDiscount   int64
	VoucherDiscount int64
	TotalDiscount   int64
	TotalPrice      int64
}

// AppliedOfferIDs lists the offers whose usage must be reserved at checkout.
func (r Result) AppliedOfferIDs() []int64 {
	var ids []int64
	if r.Offer != nil {
		ids = append(ids, r.Offer.ID)
	}
	if r.Voucher != nil {
		ids = append(ids, r.Voucher.ID)
	}
	return ids
}

// Calculate applies the best offer and the voucher to in.Price.
func Calculate(in Input) (Result, error) {
	var res Result

	best, bestValue := Best(in.Price, in.Offers, in.Usage, in.Now)
	if best != nil {
		res.Offer = best
		res.OfferDiscount = bestValue
	}

	if in.Voucher != nil {
		v := *in.Voucher
		if v.Type != orders.OfferVoucher || !IsValid(v, in.Now) || !Eligible(v, in.Usage) {
			return Result{}, orders.ErrVoucherInvalid
		}
		if res.Offer != nil && !(res.Offer.IsCombinable && v.IsCombinable) {
			return Result{}, orders.ErrOfferNotCombinable
		}
		res.Voucher = &v
		res.VoucherDiscount = Amount(in.Price, v)
	}

	res.TotalDiscount = res.OfferDiscount + res.VoucherDiscount
	res.TotalPrice = in.Price - res.TotalDiscount
	if res.TotalPrice < 0 {
		res.TotalPrice = 0
	}
	if res.TotalPrice < MinimumPayable {
		return Result{}, orders.ErrBelowMinimumPayable
	}
	return res, nil
}

// Best returns the non-voucher offer with the largest discount for price.
// Ties go to FLASH_SALE, then to the earlier offer.
func Best(price int64, offers []orders.Offer, u Usage, now time.Time) (*orders.Offer, int64) {
	var (
		best      *orders.Offer
		bestValue int64
	)
	for i := range offers {
		o := offers[i]
		if o.Type == orders.OfferVoucher || !IsValid(o, now) || !Eligible(o, u) {
			continue
		}
		v := Amount(price, o)
		switch {
		case best == nil, v > bestValue:
		case v == bestValue && o.Type == orders.OfferFlashSale && best.Type != orders.OfferFlashSale:
		default:
			continue
		}
		best = &offers[i]
		bestValue = v
	}
	if best == nil {
		return nil, 0
	}
	picked := *best
	return &picked, bestValue
}

// Amount computes floor(price * pct / 100) + static, capped by the offer maximum.
func Amount(price int64, o orders.Offer) int64 {
	pct := decimal.NewFromInt(price).Mul(o.DiscountPercentage).Div(hundred).Floor().IntPart()
	v := pct + o.DiscountStatic
	if v < 0 {
		v = 0
	}
	if o.DiscountMaximum > 0 && v > o.DiscountMaximum {
		v = o.DiscountMaximum
	}
	return v
}

// IsValid checks availability, deletion, date window and quota.
func IsValid(o orders.Offer, now time.Time) bool {
	if !o.IsAvailable || o.DeletedAt != nil {
		return false
	}
	if !o.IsUnlimitedDate && (now.Before(o.StartDate) || now.After(o.EndDate)) {
		return false
	}
	if !o.IsUnlimitedQuota && o.UsageCount >= o.Quota {
		return false
	}
	return true
}

// Eligible checks the product, user and payment method scopes of an offer.
func Eligible(o orders.Offer, u Usage) bool {
	if !o.IsAllProducts && !containsInt(o.ProductIDs, u.ProductID) && !containsInt(o.CategoryIDs, u.CategoryID) {
		return false
	}
	if !o.IsAllUsers {
		if u.isGuest() || !containsString(o.UserIDs, u.UserID) {
			return false
		}
	}
	if !o.IsAllPaymentMethods && u.PaymentMethodID != 0 && !containsInt(o.PaymentMethodIDs, u.PaymentMethodID) {
		return false
	}
	return true
}

func containsInt(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
