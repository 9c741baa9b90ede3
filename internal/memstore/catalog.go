package memstore

import (
	"context"
	"sort"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

func (s *Store) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	defer s.lock(ctx)()
	p, ok := s.st.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (orders.Category, error) {
	defer s.lock(ctx)()
	c, ok := s.st.categories[id]
	if !ok {
		return orders.Category{}, orders.ErrCategoryNotFound
	}
	return c, nil
}

func (s *Store) GetSubcategory(ctx context.Context, id int64) (orders.Subcategory, error) {
	defer s.lock(ctx)()
	c, ok := s.st.subcategories[id]
	if !ok {
		return orders.Subcategory{}, orders.ErrCategoryNotFound
	}
	return c, nil
}

func (s *Store) ListInputFields(ctx context.Context, categoryID int64) ([]orders.InputField, error) {
	defer s.lock(ctx)()
	return append([]orders.InputField(nil), s.st.inputFields[categoryID]...), nil
}

func (s *Store) DecrementStock(ctx context.Context, productID int64) error {
	defer s.lock(ctx)()
	p, ok := s.st.products[productID]
	if !ok {
		return orders.ErrProductNotFound
	}
	if p.Stock <= 0 {
		return orders.ErrOutOfStock
	}
	p.Stock--
	s.st.products[productID] = p
	return nil
}

func (s *Store) RestoreStock(ctx context.Context, productID int64) error {
	defer s.lock(ctx)()
	p, ok := s.st.products[productID]
	if !ok {
		return orders.ErrProductNotFound
	}
	p.Stock++
	s.st.products[productID] = p
	return nil
}

func (s *Store) ListCandidateOffers(ctx context.Context, productID, categoryID int64) ([]orders.Offer, error) {
	defer s.lock(ctx)()
	var out []orders.Offer
	for _, id := range sortedKeys(s.st.offers) {
		o := s.st.offers[id]
		if o.Type == orders.OfferVoucher || o.DeletedAt != nil {
			continue
		}
		if o.IsAllProducts || containsInt(o.ProductIDs, productID) || containsInt(o.CategoryIDs, categoryID) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *Store) GetVoucher(ctx context.Context, id int64) (orders.Offer, error) {
	defer s.lock(ctx)()
	o, ok := s.st.offers[id]
	if !ok {
		return orders.Offer{}, orders.ErrVoucherNotFound
	}
	return o, nil
}

func (s *Store) IncrementUsage(ctx context.Context, offerID int64) error {
	defer s.lock(ctx)()
	o, ok := s.st.offers[offerID]
	if !ok {
		return orders.ErrOfferExhausted
	}
	if !o.IsUnlimitedQuota && o.UsageCount >= o.Quota {
		return orders.ErrOfferExhausted
	}
	o.UsageCount++
	s.st.offers[offerID] = o
	return nil
}

func (s *Store) DecrementUsage(ctx context.Context, offerID int64) error {
	defer s.lock(ctx)()
	o, ok := s.st.offers[offerID]
	if !ok || o.UsageCount == 0 {
		return nil
	}
	o.UsageCount--
	s.st.offers[offerID] = o
	return nil
}

// Offer returns the current offer row, for assertions.
func (s *Store) Offer(id int64) orders.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.offers[id]
}

func (s *Store) GetPaymentMethod(ctx context.Context, id int64) (orders.PaymentMethod, error) {
	defer s.lock(ctx)()
	m, ok := s.st.methods[id]
	if !ok {
		return orders.PaymentMethod{}, orders.ErrPaymentMethodNotFound
	}
	return m, nil
}

func sortedKeys(m map[int64]orders.Offer) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func containsInt(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
