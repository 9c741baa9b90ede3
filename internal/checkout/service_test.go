package checkout

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/inquiry"
	"github.com/ariefcatur/go-prepaid-orders/internal/memstore"
	"github.com/ariefcatur/go-prepaid-orders/internal/metrics"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/payment"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

var secret = []byte("checkout-secret")

const ts int64 = 1746093600000

type harness struct {
	clk      *clock.Manual
	store    *memstore.Store
	inquiry  *inquiry.Service
	checkout *Service
	cache    *fakeCache
}

type fakeCache struct {
	mu   sync.Mutex
	keys []string
}

func (c *fakeCache) Invalidate(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, orderID)
	return nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	store := memstore.New(clk)
	memstore.SeedCatalog(store)
	m := metrics.New(prometheus.NewRegistry())
	cache := &fakeCache{}

	inq := inquiry.NewService(inquiry.Deps{
		Tx:        store,
		Products:  store,
		Offers:    store,
		Snapshots: store,
		Inquiries: store,
		Payments:  payment.NewValidator(store),
	}, secret, clk, zap.NewNop(), m)

	co := NewService(Deps{
		Tx:        store,
		Products:  store,
		Offers:    store,
		Inquiries: store,
		Orders:    store,
		Jobs:      store,
		Cache:     cache,
	}, secret, clk, zap.NewNop(), m, WithPaymentWindow(15*time.Minute))

	return &harness{clk: clk, store: store, inquiry: inq, checkout: co, cache: cache}
}

func request() orders.InquiryRequest {
	return orders.InquiryRequest{
		ProductID:       memstore.ProductPulsa50,
		PaymentMethodID: memstore.MethodVA,
		InputFields:     []orders.FieldValue{{Name: "phone", Value: "081234567890"}},
	}
}

func (h *harness) inquire(t *testing.T, user string) orders.Inquiry {
	t.Helper()
	inq, err := h.inquiry.CreateInquiry(context.Background(), request(), user, ts)
	require.NoError(t, err)
	return inq
}

func input(inq orders.Inquiry, user string) Input {
	return Input{
		InquiryID: inq.ID,
		Request:   request(),
		Timestamp: ts,
		Token:     inq.Token,
		UserID:    user,
		IP:        "10.0.0.1",
		UserAgent: "test",
	}
}

func (h *harness) stock(t *testing.T) int64 {
	t.Helper()
	p, err := h.store.GetProduct(context.Background(), memstore.ProductPulsa50)
	require.NoError(t, err)
	return p.Stock
}

func jobsNamed(jobs []queue.Job, name string) []queue.Job {
	var out []queue.Job
	for _, j := range jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

func TestCheckout_CreatesPendingOrder(t *testing.T) {
	h := newHarness(t)
	h.store.AddOffer(memstore.PercentOffer(1, orders.OfferDiscount, 10, 4000))
	inq := h.inquire(t, memstore.UserID)

	h.clk.Advance(time.Minute)
	o, err := h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(o.OrderID, "PPUSER"), o.OrderID)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, orders.OrderNone, o.OrderStatus)
	assert.Equal(t, orders.RefundNone, o.RefundStatus)
	assert.Equal(t, int64(48000), o.TotalPrice)
	assert.Equal(t, o.Price-o.DiscountPrice+o.Fee, o.TotalPrice)
	assert.Equal(t, h.clk.Now().Add(15*time.Minute), o.PaymentExpiredAt)
	assert.Equal(t, "10.0.0.1", o.IP)

	assert.Equal(t, int64(4), h.stock(t))
	assert.Equal(t, int64(1), h.store.Offer(1).UsageCount)

	stored, err := h.store.GetInquiry(context.Background(), inq.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.InquiryConsumed, stored.Status)

	expire := jobsNamed(h.store.Jobs(), orders.JobExpireOrder)
	require.Len(t, expire, 1)
	assert.Equal(t, o.OrderID, expire[0].CorrelationID)
	assert.Equal(t, o.PaymentExpiredAt, expire[0].AvailableAt)
}

func TestCheckout_GuestOrderID(t *testing.T) {
	h := newHarness(t)
	inq := h.inquire(t, "")
	o, err := h.checkout.Checkout(context.Background(), input(inq, ""))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(o.OrderID, "PPGUES"), o.OrderID)
	assert.True(t, o.IsGuest())
}

func TestCheckout_TokenFailuresHaveNoSideEffects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Input)
	}{
		{name: "tampered input", mutate: func(in *Input) { in.Request.InputFields[0].Value = "089999999999" }},
		{name: "tampered product", mutate: func(in *Input) { in.Request.ProductID = memstore.ProductGame }},
		{name: "other timestamp", mutate: func(in *Input) { in.Timestamp++ }},
		{name: "other user", mutate: func(in *Input) { in.UserID = "user-2" }},
		{name: "forged token", mutate: func(in *Input) { in.Token = "AAAA" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			inq := h.inquire(t, memstore.UserID)
			in := input(inq, memstore.UserID)
			tc.mutate(&in)

			_, err := h.checkout.Checkout(context.Background(), in)
			require.ErrorIs(t, err, orders.ErrInvalidToken)
			assert.Equal(t, orders.KindAuth, orders.KindOf(err))
			assert.Equal(t, int64(5), h.stock(t))
			assert.Empty(t, h.store.Orders())
			assert.Empty(t, h.store.Jobs())
		})
	}
}

func TestCheckout_ExpiredInquiry(t *testing.T) {
	h := newHarness(t)
	inq := h.inquire(t, memstore.UserID)

	h.clk.Advance(6 * time.Minute)
	_, err := h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
	require.ErrorIs(t, err, orders.ErrInquiryExpired)
	assert.Equal(t, orders.KindConflict, orders.KindOf(err))
	assert.Equal(t, int64(5), h.stock(t))
	assert.Empty(t, h.store.Orders())

	stored, err := h.store.GetInquiry(context.Background(), inq.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.InquiryExpired, stored.Status)
}

func TestCheckout_SecondCheckoutIsConflict(t *testing.T) {
	h := newHarness(t)
	inq := h.inquire(t, memstore.UserID)

	_, err := h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
	require.NoError(t, err)
	_, err = h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
	require.ErrorIs(t, err, orders.ErrInquiryConsumed)
	assert.Len(t, h.store.Orders(), 1)
}

func TestCheckout_ConcurrentDoubleSubmitCreatesOneOrder(t *testing.T) {
	h := newHarness(t)
	inq := h.inquire(t, memstore.UserID)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			assert.ErrorIs(t, err, orders.ErrInquiryConsumed)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Len(t, h.store.Orders(), 1)
	assert.Equal(t, int64(4), h.stock(t))
	assert.Len(t, jobsNamed(h.store.Jobs(), orders.JobExpireOrder), 1)
}

func TestCheckout_OutOfStockRollsBack(t *testing.T) {
	h := newHarness(t)
	inq := h.inquire(t, memstore.UserID)

	p, err := h.store.GetProduct(context.Background(), memstore.ProductPulsa50)
	require.NoError(t, err)
	p.Stock = 0
	h.store.AddProduct(p)

	_, err = h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
	require.ErrorIs(t, err, orders.ErrOutOfStock)

	stored, err := h.store.GetInquiry(context.Background(), inq.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.InquiryAwaitConfirmation, stored.Status)
	assert.Empty(t, h.store.Orders())
}

func TestCheckout_OfferExhaustedRollsBack(t *testing.T) {
	h := newHarness(t)
	o := memstore.PercentOffer(1, orders.OfferFlashSale, 10, 4000)
	o.IsUnlimitedQuota = false
	o.Quota = 1
	h.store.AddOffer(o)
	inq := h.inquire(t, memstore.UserID)

	o.UsageCount = 1
	h.store.AddOffer(o)

	_, err := h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
	require.ErrorIs(t, err, orders.ErrOfferExhausted)
	assert.Equal(t, int64(5), h.stock(t))
	assert.Equal(t, int64(1), h.store.Offer(1).UsageCount)
}

func TestConfirmPayment(t *testing.T) {
	h := newHarness(t)
	inq := h.inquire(t, memstore.UserID)
	o, err := h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
	require.NoError(t, err)

	got, err := h.checkout.HandlePaymentEvent(context.Background(), orders.PaymentEvent{OrderID: o.OrderID, Status: orders.PaymentSuccess})
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentSuccess, got.PaymentStatus)
	assert.Equal(t, orders.OrderPending, got.OrderStatus)

	process := jobsNamed(h.store.Jobs(), orders.JobProcessOrder)
	require.Len(t, process, 1)
	payload, err := queue.Decode[orders.ProcessOrderPayload](process[0])
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, payload.OrderID)
	assert.Zero(t, payload.PendingChecks)
	assert.Contains(t, h.cache.keys, o.OrderID)

	err = h.checkout.ConfirmPayment(context.Background(), o.OrderID)
	require.ErrorIs(t, err, orders.ErrOrderNotPayable)
	assert.Len(t, jobsNamed(h.store.Jobs(), orders.JobProcessOrder), 1)

	err = h.checkout.ConfirmPayment(context.Background(), "PPNOPE")
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestRejectPayment_RestoresStockAndOfferQuota(t *testing.T) {
	h := newHarness(t)
	offer := memstore.PercentOffer(1, orders.OfferDiscount, 10, 4000)
	offer.IsUnlimitedQuota = false
	offer.Quota = 1
	h.store.AddOffer(offer)
	inq := h.inquire(t, memstore.UserID)
	o, err := h.checkout.Checkout(context.Background(), input(inq, memstore.UserID))
	require.NoError(t, err)
	require.Equal(t, []int64{1}, o.OfferIDs)
	require.Equal(t, int64(4), h.stock(t))
	require.Equal(t, int64(1), h.store.Offer(1).UsageCount)

	got, err := h.checkout.HandlePaymentEvent(context.Background(), orders.PaymentEvent{OrderID: o.OrderID, Status: orders.PaymentFailed})
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, int64(5), h.stock(t))
	assert.Equal(t, int64(0), h.store.Offer(1).UsageCount)

	err = h.checkout.RejectPayment(context.Background(), o.OrderID)
	require.ErrorIs(t, err, orders.ErrOrderNotPayable)
	assert.Equal(t, int64(5), h.stock(t))
	assert.Equal(t, int64(0), h.store.Offer(1).UsageCount)
}

func TestHandlePaymentEvent_UnknownStatus(t *testing.T) {
	h := newHarness(t)
	_, err := h.checkout.HandlePaymentEvent(context.Background(), orders.PaymentEvent{OrderID: "PPX", Status: orders.PaymentExpired})
	require.ErrorIs(t, err, orders.ErrBadPaymentStatus)
}
