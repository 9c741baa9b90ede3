package discount

import (
	"time"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// Display is the read-only price shown on listing pages.
type Display struct {
	Offer      *orders.Offer
	Discount   int64
	FinalPrice int64
}

// DisplayPrice applies the best offer without vouchers or the payable floor.
// A zero PaymentMethodID in u skips the payment scope check.
func DisplayPrice(price int64, offers []orders.Offer, u Usage, now time.Time) Display {
	best, v := Best(price, offers, u, now)
	final := price - v
	if final < 0 {
		final = 0
	}
	return Display{Offer: best, Discount: v, FinalPrice: final}
}
