// Package memstore is an in-memory implementation of every repository and
// the job outbox. Transactions take a store-wide lock and roll back by
// restoring a copy of the state.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

type txKey struct{}

type Store struct {
	mu    sync.Mutex
	st    state
	clock clock.Clock
}

type state struct {
	products      map[int64]orders.Product
	categories    map[int64]orders.Category
	subcategories map[int64]orders.Subcategory
	inputFields   map[int64][]orders.InputField
	offers        map[int64]orders.Offer
	methods       map[int64]orders.PaymentMethod
	productSnaps  map[string]orders.ProductSnapshot
	paymentSnaps  map[string]orders.PaymentSnapshot
	inquiries     map[string]orders.Inquiry
	orders        map[string]orders.Order
	nextOrderID   int64
	balances      map[string]int64
	mutations     []orders.BalanceMutation
	outbox        []outboxRow
}

type outboxRow struct {
	job       queue.Job
	published bool
	attempts  int
	lastError string
}

func New(clk clock.Clock) *Store {
	return &Store{
		clock: clk,
		st: state{
			products:      map[int64]orders.Product{},
			categories:    map[int64]orders.Category{},
			subcategories: map[int64]orders.Subcategory{},
			inputFields:   map[int64][]orders.InputField{},
			offers:        map[int64]orders.Offer{},
			methods:       map[int64]orders.PaymentMethod{},
			productSnaps:  map[string]orders.ProductSnapshot{},
			paymentSnaps:  map[string]orders.PaymentSnapshot{},
			inquiries:     map[string]orders.Inquiry{},
			orders:        map[string]orders.Order{},
			balances:      map[string]int64{},
		},
	}
}

// WithTx runs fn holding the store lock. Any error restores the state
// as it was before fn started.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = saved
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the store lock unless ctx already runs inside one of our transactions.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (st state) clone() state {
	c := state{
		products:      make(map[int64]orders.Product, len(st.products)),
		categories:    make(map[int64]orders.Category, len(st.categories)),
		subcategories: make(map[int64]orders.Subcategory, len(st.subcategories)),
		inputFields:   make(map[int64][]orders.InputField, len(st.inputFields)),
		offers:        make(map[int64]orders.Offer, len(st.offers)),
		methods:       make(map[int64]orders.PaymentMethod, len(st.methods)),
		productSnaps:  make(map[string]orders.ProductSnapshot, len(st.productSnaps)),
		paymentSnaps:  make(map[string]orders.PaymentSnapshot, len(st.paymentSnaps)),
		inquiries:     make(map[string]orders.Inquiry, len(st.inquiries)),
		orders:        make(map[string]orders.Order, len(st.orders)),
		nextOrderID:   st.nextOrderID,
		balances:      make(map[string]int64, len(st.balances)),
		mutations:     append([]orders.BalanceMutation(nil), st.mutations...),
		outbox:        append([]outboxRow(nil), st.outbox...),
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.categories {
		c.categories[k] = v
	}
	for k, v := range st.subcategories {
		c.subcategories[k] = v
	}
	for k, v := range st.inputFields {
		c.inputFields[k] = append([]orders.InputField(nil), v...)
	}
	for k, v := range st.offers {
		c.offers[k] = v
	}
	for k, v := range st.methods {
		c.methods[k] = v
	}
	for k, v := range st.productSnaps {
		c.productSnaps[k] = v
	}
	for k, v := range st.paymentSnaps {
		c.paymentSnaps[k] = v
	}
	for k, v := range st.inquiries {
		c.inquiries[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.balances {
		c.balances[k] = v
	}
	return c
}

// Seed helpers.

func (s *Store) AddCategory(c orders.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.categories[c.ID] = c
}

func (s *Store) AddSubcategory(c orders.Subcategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.subcategories[c.ID] = c
}

func (s *Store) AddInputField(f orders.InputField) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := append(s.st.inputFields[f.CategoryID], f)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Position < fields[j].Position })
	s.st.inputFields[f.CategoryID] = fields
}

func (s *Store) AddProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) AddOffer(o orders.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.offers[o.ID] = o
}

func (s *Store) AddPaymentMethod(m orders.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.methods[m.ID] = m
}

// AddUser registers a user with an opening balance.
func (s *Store) AddUser(id string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.balances[id] = balance
}

// PutOrder stores o as-is, bypassing checkout. Used to stage fulfillment scenarios.
func (s *Store) PutOrder(o orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		s.st.nextOrderID++
		o.ID = s.st.nextOrderID
	}
	s.st.orders[o.OrderID] = o
}
