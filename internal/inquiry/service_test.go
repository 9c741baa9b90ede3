package inquiry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/memstore"
	"github.com/ariefcatur/go-prepaid-orders/internal/metrics"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/payment"
	"github.com/ariefcatur/go-prepaid-orders/internal/token"
)

var (
	secret = []byte("inquiry-secret")
	now    = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
)

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New(clock.NewManual(now))
	memstore.SeedCatalog(store)
	svc := NewService(Deps{
		Tx:        store,
		Products:  store,
		Offers:    store,
		Snapshots: store,
		Inquiries: store,
		Payments:  payment.NewValidator(store),
	}, secret, clock.NewManual(now), zap.NewNop(), metrics.New(prometheus.NewRegistry()))
	return svc, store
}

func pulsaRequest() orders.InquiryRequest {
	return orders.InquiryRequest{
		ProductID:       memstore.ProductPulsa50,
		PaymentMethodID: memstore.MethodVA,
		InputFields:     []orders.FieldValue{{Name: "phone", Value: "081234567890"}},
	}
}

func TestCreateInquiry_PricesAndFreezes(t *testing.T) {
	svc, store := newService(t)
	store.AddOffer(memstore.PercentOffer(1, orders.OfferDiscount, 10, 4000))
	ctx := context.Background()

	inq, err := svc.CreateInquiry(ctx, pulsaRequest(), memstore.UserID, 1746093600000)
	require.NoError(t, err)

	assert.Equal(t, int64(50000), inq.Price)
	assert.Equal(t, int64(4000), inq.OfferDiscount)
	assert.Equal(t, int64(4000), inq.DiscountPrice)
	assert.Equal(t, int64(2000), inq.Fee)
	assert.Equal(t, int64(48000), inq.TotalPrice, "46,000 after discount plus the 2,000 fee")
	assert.Equal(t, int64(30000), inq.CostPrice)
	assert.Equal(t, int64(16000), inq.Profit)
	assert.Equal(t, []int64{1}, inq.OfferIDs)
	assert.Equal(t, "081234567890", inq.CustomerInput)
	assert.Equal(t, orders.InquiryAwaitConfirmation, inq.Status)
	assert.Equal(t, now.Add(5*time.Minute), inq.ExpiredAt)

	require.NoError(t, token.Verify(secret, pulsaRequest(), 1746093600000, memstore.UserID, inq.Token))

	stored, err := store.GetInquiry(ctx, inq.ID)
	require.NoError(t, err)
	assert.Equal(t, inq.Token, stored.Token)

	snap, err := store.GetProductSnapshot(ctx, inq.ProductSnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "TSEL50", snap.ProviderCode)
	assert.Equal(t, int64(30000), snap.ProviderPrice)

	p, err := store.GetProduct(ctx, memstore.ProductPulsa50)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Stock, "inquiry never touches stock")
	assert.Zero(t, store.Offer(1).UsageCount, "inquiry never touches offer usage")
}

func TestCreateInquiry_MergesInputInDefinitionOrder(t *testing.T) {
	svc, _ := newService(t)
	req := orders.InquiryRequest{
		ProductID:       memstore.ProductGame,
		PaymentMethodID: memstore.MethodVA,
		InputFields: []orders.FieldValue{
			{Name: "zone_id", Value: "2001"},
			{Name: "game_id", Value: " 88123 "},
		},
	}
	inq, err := svc.CreateInquiry(context.Background(), req, "", 1)
	require.NoError(t, err)
	assert.Equal(t, "88123|2001", inq.CustomerInput)
	assert.Empty(t, inq.UserID)
}

func TestCreateInquiry_Rejections(t *testing.T) {
	voucherID := int64(50)
	missingVoucher := int64(404)

	cases := []struct {
		name  string
		setup func(*memstore.Store)
		req   func() orders.InquiryRequest
		want  error
	}{
		{
			name: "unknown product",
			req: func() orders.InquiryRequest {
				r := pulsaRequest()
				r.ProductID = 999
				return r
			},
			want: orders.ErrProductNotFound,
		},
		{
			name: "product switched off",
			setup: func(s *memstore.Store) {
				p, _ := s.GetProduct(context.Background(), memstore.ProductPulsa50)
				p.IsAvailable = false
				s.AddProduct(p)
			},
			req:  pulsaRequest,
			want: orders.ErrProductUnavailable,
		},
		{
			name: "special category",
			req: func() orders.InquiryRequest {
				r := pulsaRequest()
				r.ProductID = memstore.ProductSpecial
				return r
			},
			want: orders.ErrSpecialCategory,
		},
		{
			name: "blank required field",
			req: func() orders.InquiryRequest {
				r := pulsaRequest()
				r.InputFields = []orders.FieldValue{{Name: "phone", Value: "  "}}
				return r
			},
			want: orders.ErrMissingInputField,
		},
		{
			name: "voucher does not exist",
			req: func() orders.InquiryRequest {
				r := pulsaRequest()
				r.VoucherID = &missingVoucher
				return r
			},
			want: orders.ErrVoucherNotFound,
		},
		{
			name: "voucher with non combinable offer",
			setup: func(s *memstore.Store) {
				s.AddOffer(memstore.PercentOffer(1, orders.OfferDiscount, 10, 4000))
				v := memstore.PercentOffer(voucherID, orders.OfferVoucher, 5, 0)
				v.IsCombinable = true
				s.AddOffer(v)
			},
			req: func() orders.InquiryRequest {
				r := pulsaRequest()
				r.VoucherID = &voucherID
				return r
			},
			want: orders.ErrOfferNotCombinable,
		},
		{
			name: "unknown payment method",
			req: func() orders.InquiryRequest {
				r := pulsaRequest()
				r.PaymentMethodID = 77
				return r
			},
			want: orders.ErrPaymentMethodNotFound,
		},
		{
			name: "wallet without phone",
			req: func() orders.InquiryRequest {
				r := pulsaRequest()
				r.PaymentMethodID = memstore.MethodWallet
				return r
			},
			want: orders.ErrPaymentPhoneMissing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newService(t)
			if tc.setup != nil {
				tc.setup(store)
			}
			_, err := svc.CreateInquiry(context.Background(), tc.req(), memstore.UserID, 1)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateInquiry_MissingFieldNamesTheField(t *testing.T) {
	svc, _ := newService(t)
	req := orders.InquiryRequest{
		ProductID:       memstore.ProductGame,
		PaymentMethodID: memstore.MethodVA,
		InputFields:     []orders.FieldValue{{Name: "game_id", Value: "88123"}},
	}
	_, err := svc.CreateInquiry(context.Background(), req, "", 1)
	var e *orders.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "zone_id", e.Field)
	assert.Equal(t, orders.KindValidation, e.Kind)
}

func TestMergeInput_SkipsEmptyOptional(t *testing.T) {
	fields := []orders.InputField{
		{Name: "a", IsRequired: true},
		{Name: "b"},
		{Name: "c", IsRequired: true},
	}
	got, err := MergeInput(fields, []orders.FieldValue{{Name: "c", Value: "3"}, {Name: "a", Value: "1"}}, ".")
	require.NoError(t, err)
	assert.Equal(t, "1.3", got)
}
