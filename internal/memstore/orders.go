package memstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

func (s *Store) CreateProductSnapshot(ctx context.Context, snap orders.ProductSnapshot) error {
	defer s.lock(ctx)()
	s.st.productSnaps[snap.ID] = snap
	return nil
}

func (s *Store) CreatePaymentSnapshot(ctx context.Context, snap orders.PaymentSnapshot) error {
	defer s.lock(ctx)()
	s.st.paymentSnaps[snap.ID] = snap
	return nil
}

func (s *Store) GetProductSnapshot(ctx context.Context, id string) (orders.ProductSnapshot, error) {
	defer s.lock(ctx)()
	snap, ok := s.st.productSnaps[id]
	if !ok {
		return orders.ProductSnapshot{}, orders.ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *Store) CreateInquiry(ctx context.Context, inq orders.Inquiry) error {
	defer s.lock(ctx)()
	s.st.inquiries[inq.ID] = inq
	return nil
}

func (s *Store) GetInquiry(ctx context.Context, id string) (orders.Inquiry, error) {
	defer s.lock(ctx)()
	inq, ok := s.st.inquiries[id]
	if !ok {
		return orders.Inquiry{}, orders.ErrInquiryNotFound
	}
	return inq, nil
}

func (s *Store) ConsumeInquiry(ctx context.Context, id string) (bool, error) {
	return s.moveInquiry(ctx, id, orders.InquiryConsumed)
}

func (s *Store) ExpireInquiry(ctx context.Context, id string) (bool, error) {
	return s.moveInquiry(ctx, id, orders.InquiryExpired)
}

func (s *Store) moveInquiry(ctx context.Context, id string, to orders.InquiryStatus) (bool, error) {
	defer s.lock(ctx)()
	inq, ok := s.st.inquiries[id]
	if !ok || inq.Status != orders.InquiryAwaitConfirmation {
		return false, nil
	}
	inq.Status = to
	s.st.inquiries[id] = inq
	return true, nil
}

func (s *Store) CreateOrder(ctx context.Context, o *orders.Order) error {
	defer s.lock(ctx)()
	if _, ok := s.st.orders[o.OrderID]; ok {
		return orders.ErrDuplicateOrderID
	}
	s.st.nextOrderID++
	o.ID = s.st.nextOrderID
	s.st.orders[o.OrderID] = *o
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.st.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) FindPaidOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if o.PaymentStatus != orders.PaymentSuccess {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

// update applies fn to the order when cond holds and reports whether it did.
func (s *Store) update(ctx context.Context, orderID string, at time.Time, cond func(orders.Order) bool, fn func(*orders.Order)) (bool, error) {
	defer s.lock(ctx)()
	o, ok := s.st.orders[orderID]
	if !ok || !cond(o) {
		return false, nil
	}
	fn(&o)
	o.UpdatedAt = at
	s.st.orders[orderID] = o
	return true, nil
}

func paymentIs(st orders.PaymentStatus) func(orders.Order) bool {
	return func(o orders.Order) bool { return o.PaymentStatus == st }
}

func paidAndPending(o orders.Order) bool {
	return o.PaymentStatus == orders.PaymentSuccess && o.OrderStatus == orders.OrderPending
}

func (s *Store) ConfirmPayment(ctx context.Context, orderID string, at time.Time) (bool, error) {
	return s.update(ctx, orderID, at, paymentIs(orders.PaymentPending), func(o *orders.Order) {
		o.PaymentStatus = orders.PaymentSuccess
		o.OrderStatus = orders.OrderPending
	})
}

func (s *Store) FailPayment(ctx context.Context, orderID string, at time.Time) (bool, error) {
	return s.update(ctx, orderID, at, paymentIs(orders.PaymentPending), func(o *orders.Order) {
		o.PaymentStatus = orders.PaymentFailed
	})
}

func (s *Store) ExpirePayment(ctx context.Context, orderID string, at time.Time) (bool, error) {
	return s.update(ctx, orderID, at, paymentIs(orders.PaymentPending), func(o *orders.Order) {
		o.PaymentStatus = orders.PaymentExpired
	})
}

func (s *Store) MarkFulfillmentPending(ctx context.Context, orderID string, raw json.RawMessage, at time.Time) (bool, error) {
	return s.update(ctx, orderID, at, paidAndPending, func(o *orders.Order) {
		o.ProviderResponse = raw
	})
}

func (s *Store) CompleteFulfillment(ctx context.Context, orderID string, out orders.FulfillmentOutcome, at time.Time) (bool, error) {
	return s.update(ctx, orderID, at, paidAndPending, func(o *orders.Order) {
		o.OrderStatus = orders.OrderCompleted
		o.CostPrice = out.CostPrice
		o.Profit = out.Profit
		o.SerialNumber = out.SerialNumber
		o.ProviderRef = out.ProviderRef
		o.ProviderResponse = out.Raw
	})
}

func (s *Store) FailFulfillment(ctx context.Context, orderID string, raw json.RawMessage, at time.Time) (bool, error) {
	return s.update(ctx, orderID, at, paidAndPending, func(o *orders.Order) {
		o.OrderStatus = orders.OrderFailed
		o.ProviderResponse = raw
	})
}

func (s *Store) TransitionRefund(ctx context.Context, orderID string, from, to orders.RefundStatus, manual bool, at time.Time) (bool, error) {
	cond := func(o orders.Order) bool {
		return o.RefundStatus == from && orders.CanTransitionRefund(o, to)
	}
	return s.update(ctx, orderID, at, cond, func(o *orders.Order) {
		o.RefundStatus = to
		if manual {
			o.ManualRefund = true
		}
	})
}

func (s *Store) Credit(ctx context.Context, userID string, amount int64, refType, refID string, at time.Time) (orders.BalanceMutation, error) {
	defer s.lock(ctx)()
	before, ok := s.st.balances[userID]
	if !ok {
		return orders.BalanceMutation{}, orders.ErrUserNotFound
	}
	if refType == orders.RefTypeOrder {
		for _, m := range s.st.mutations {
			if m.Type == orders.MutationCredit && m.RefType == refType && m.RefID == refID {
				return orders.BalanceMutation{}, orders.ErrRefundAlreadyExists
			}
		}
	}
	m := orders.BalanceMutation{
		ID:            int64(len(s.st.mutations) + 1),
		UserID:        userID,
		Amount:        amount,
		Type:          orders.MutationCredit,
		RefType:       refType,
		RefID:         refID,
		BalanceBefore: before,
		BalanceAfter:  before + amount,
		CreatedAt:     at,
	}
	s.st.mutations = append(s.st.mutations, m)
	s.st.balances[userID] = m.BalanceAfter
	return m, nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	defer s.lock(ctx)()
	b, ok := s.st.balances[userID]
	if !ok {
		return 0, orders.ErrUserNotFound
	}
	return b, nil
}

func (s *Store) ListMutations(ctx context.Context, userID string) ([]orders.BalanceMutation, error) {
	defer s.lock(ctx)()
	var out []orders.BalanceMutation
	for _, m := range s.st.mutations {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Orders returns every stored order, for assertions.
func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o)
	}
	return out
}
