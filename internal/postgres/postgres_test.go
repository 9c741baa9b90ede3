package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

type RepoSuite struct {
	suite.Suite
	ctx     context.Context
	pool    *pgxpool.Pool
	tx      *TxManager
	catalog *CatalogRepo
	inq     *InquiryRepo
	orders  *OrderRepo
	bal     *BalanceRepo
	outbox  *JobOutbox
	clock   *clock.Manual
}

func TestRepoSuite(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	suite.Run(t, &RepoSuite{})
}

func (s *RepoSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	s.ctx = context.Background()
	s.Require().NoError(Migrate(dsn))

	pool, err := Connect(s.ctx, dsn, 8)
	s.Require().NoError(err)
	s.pool = pool
	s.clock = clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	s.tx = NewTxManager(pool)
	s.catalog = &CatalogRepo{DB: pool}
	s.inq = &InquiryRepo{DB: pool}
	s.orders = &OrderRepo{DB: pool}
	s.bal = &BalanceRepo{DB: pool}
	s.outbox = &JobOutbox{DB: pool, Clock: s.clock, Producer: "test"}
}

func (s *RepoSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *RepoSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE job_outbox, balance_mutations, orders, users, inquiries,
		payment_snapshots, product_snapshots, payment_methods, offers, products, input_fields,
		subcategories, categories RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)
}

func (s *RepoSuite) exec(sql string, args ...any) {
	_, err := s.pool.Exec(s.ctx, sql, args...)
	s.Require().NoError(err)
}

// seed inserts one category, one product with the given stock and one user.
func (s *RepoSuite) seed(stock int64) {
	s.exec(`INSERT INTO categories(id, name) VALUES (1, 'Pulsa')`)
	s.exec(`INSERT INTO input_fields(category_id, name, position) VALUES (1, 'zone_id', 2), (1, 'game_id', 1)`)
	s.exec(`INSERT INTO products(id, category_id, name, provider_name, provider_code, price, provider_price, max_price, stock)
		VALUES (10, 1, 'Pulsa 50k', 'acme', 'P50', 50000, 30000, 31000, $1)`, stock)
	s.exec(`INSERT INTO payment_methods(id, code, name, min_amount, fee_static, fee_percentage) VALUES (1, 'VA', 'Virtual Account', 10000, 2000, 1.5)`)
	s.exec(`INSERT INTO users(id, balance) VALUES ('user-1', 0)`)
}

func (s *RepoSuite) createOrder(id string) orders.Order {
	now := s.clock.Now()
	ps := orders.ProductSnapshot{ID: uuid.NewString(), ProductID: 10, Name: "Pulsa 50k", CategoryName: "Pulsa",
		ProviderName: "acme", ProviderCode: "P50", BillingType: "PREPAID", Price: 50000, ProviderPrice: 30000, MaxPrice: 31000, CreatedAt: now}
	pay := orders.PaymentSnapshot{ID: uuid.NewString(), PaymentMethodID: 1, Code: "VA", Name: "Virtual Account",
		FeeStatic: 2000, FeePercentage: decimal.Zero, Fee: 2000, CreatedAt: now}
	s.Require().NoError(s.inq.CreateProductSnapshot(s.ctx, ps))
	s.Require().NoError(s.inq.CreatePaymentSnapshot(s.ctx, pay))
	inq := orders.Inquiry{ID: uuid.NewString(), UserID: "user-1", ProductID: 10, PaymentMethodID: 1,
		ProductSnapshotID: ps.ID, PaymentSnapshotID: pay.ID, CustomerInput: "0812", Price: 50000, CostPrice: 30000,
		Fee: 2000, DiscountPrice: 4000, TotalPrice: 48000, Profit: 16000, Status: orders.InquiryAwaitConfirmation,
		Token: "tok", CreatedAt: now, ExpiredAt: now.Add(5 * time.Minute)}
	s.Require().NoError(s.inq.CreateInquiry(s.ctx, inq))

	o := orders.Order{OrderID: id, InquiryID: inq.ID, UserID: "user-1", ProductID: 10, PaymentMethodID: 1,
		ProductSnapshotID: ps.ID, PaymentSnapshotID: pay.ID, CustomerInput: "0812",
		Price: 50000, CostPrice: 30000, Fee: 2000, DiscountPrice: 4000, TotalPrice: 48000, Profit: 16000,
		PaymentStatus: orders.PaymentPending, OrderStatus: orders.OrderNone, RefundStatus: orders.RefundNone,
		PaymentExpiredAt: now.Add(30 * time.Minute), CreatedAt: now, UpdatedAt: now}
	s.Require().NoError(s.orders.CreateOrder(s.ctx, &o))
	s.Require().NotZero(o.ID)
	return o
}

func (s *RepoSuite) TestCatalog() {
	s.seed(1)
	p, err := s.catalog.GetProduct(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(int64(50000), p.Price)
	s.Zero(p.SubcategoryID)

	fields, err := s.catalog.ListInputFields(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(fields, 2)
	s.Equal("game_id", fields[0].Name)

	m, err := s.catalog.GetPaymentMethod(s.ctx, 1)
	s.Require().NoError(err)
	s.True(m.FeePercentage.Equal(decimal.RequireFromString("1.5")))

	_, err = s.catalog.GetProduct(s.ctx, 999)
	s.ErrorIs(err, orders.ErrProductNotFound)
	_, err = s.catalog.GetPaymentMethod(s.ctx, 999)
	s.ErrorIs(err, orders.ErrPaymentMethodNotFound)
}

func (s *RepoSuite) TestStockNeverGoesNegative() {
	s.seed(1)
	s.Require().NoError(s.catalog.DecrementStock(s.ctx, 10))
	s.ErrorIs(s.catalog.DecrementStock(s.ctx, 10), orders.ErrOutOfStock)
	s.ErrorIs(s.catalog.DecrementStock(s.ctx, 999), orders.ErrProductNotFound)

	s.Require().NoError(s.catalog.RestoreStock(s.ctx, 10))
	p, err := s.catalog.GetProduct(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(int64(1), p.Stock)
}

func (s *RepoSuite) TestOffers() {
	s.seed(1)
	s.exec(`INSERT INTO offers(id, name, type, discount_percentage, quota, product_ids, is_unlimited_date) VALUES (1, 'ten', 'DISCOUNT', 10, 1, '{10}', true)`)
	s.exec(`INSERT INTO offers(id, name, type, discount_static, is_all_products, is_unlimited_quota, is_unlimited_date) VALUES (2, 'flash', 'FLASH_SALE', 500, true, true, true)`)
	s.exec(`INSERT INTO offers(id, name, type, discount_static, category_ids, is_unlimited_quota) VALUES (3, 'voucher', 'VOUCHER', 1000, '{1}', true)`)
	s.exec(`INSERT INTO offers(id, name, type, discount_static, product_ids, deleted_at) VALUES (4, 'gone', 'DISCOUNT', 1000, '{10}', now())`)
	s.exec(`INSERT INTO offers(id, name, type, discount_static, product_ids) VALUES (5, 'other', 'DISCOUNT', 1000, '{11}')`)

	got, err := s.catalog.ListCandidateOffers(s.ctx, 10, 1)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(int64(1), got[0].ID)
	s.True(got[0].DiscountPercentage.Equal(decimal.NewFromInt(10)))
	s.Equal([]int64{10}, got[0].ProductIDs)
	s.Equal(orders.OfferFlashSale, got[1].Type)

	v, err := s.catalog.GetVoucher(s.ctx, 3)
	s.Require().NoError(err)
	s.Equal(orders.OfferVoucher, v.Type)
	s.True(v.StartDate.IsZero())

	s.Require().NoError(s.catalog.IncrementUsage(s.ctx, 1))
	s.ErrorIs(s.catalog.IncrementUsage(s.ctx, 1), orders.ErrOfferExhausted)
	s.Require().NoError(s.catalog.DecrementUsage(s.ctx, 1))
	s.Require().NoError(s.catalog.DecrementUsage(s.ctx, 1))
	o, err := s.catalog.GetVoucher(s.ctx, 1)
	s.Require().NoError(err)
	s.Zero(o.UsageCount)
}

func (s *RepoSuite) TestInquiryConsumedOnce() {
	s.seed(1)
	o := s.createOrder("PPUSER0001")

	inq, err := s.inq.GetInquiry(s.ctx, o.InquiryID)
	s.Require().NoError(err)
	s.Equal("user-1", inq.UserID)
	s.Equal(orders.InquiryAwaitConfirmation, inq.Status)

	ok, err := s.inq.ConsumeInquiry(s.ctx, inq.ID)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.inq.ConsumeInquiry(s.ctx, inq.ID)
	s.Require().NoError(err)
	s.False(ok)
	ok, err = s.inq.ExpireInquiry(s.ctx, inq.ID)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RepoSuite) TestOrderLifecycle() {
	s.seed(1)
	o := s.createOrder("PPUSER0001")

	dup := o
	s.ErrorIs(s.orders.CreateOrder(s.ctx, &dup), orders.ErrDuplicateOrderID)

	_, err := s.orders.FindPaidOrder(s.ctx, o.OrderID)
	s.ErrorIs(err, orders.ErrOrderNotFound)

	now := s.clock.Now()
	ok, err := s.orders.ConfirmPayment(s.ctx, o.OrderID, now)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.orders.ExpirePayment(s.ctx, o.OrderID, now)
	s.Require().NoError(err)
	s.False(ok, "paid orders never expire")

	ok, err = s.orders.MarkFulfillmentPending(s.ctx, o.OrderID, []byte(`{"status":"PENDING"}`), now)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.orders.FailFulfillment(s.ctx, o.OrderID, []byte(`{"status":"FAILED"}`), now)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.orders.CompleteFulfillment(s.ctx, o.OrderID, orders.FulfillmentOutcome{}, now)
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.orders.TransitionRefund(s.ctx, o.OrderID, orders.RefundNone, orders.RefundCompleted, false, now)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.orders.TransitionRefund(s.ctx, o.OrderID, orders.RefundNone, orders.RefundCompleted, false, now)
	s.Require().NoError(err)
	s.False(ok)

	got, err := s.orders.FindPaidOrder(s.ctx, o.OrderID)
	s.Require().NoError(err)
	s.Equal(orders.OrderFailed, got.OrderStatus)
	s.Equal(orders.RefundCompleted, got.RefundStatus)
	s.JSONEq(`{"status":"FAILED"}`, string(got.ProviderResponse))
}

func (s *RepoSuite) TestRefundNeedsFailedFulfillment() {
	s.seed(1)
	o := s.createOrder("PPUSER0002")
	ok, err := s.orders.TransitionRefund(s.ctx, o.OrderID, orders.RefundNone, orders.RefundCompleted, false, s.clock.Now())
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RepoSuite) TestCreditOncePerOrder() {
	s.seed(1)
	m, err := s.bal.Credit(s.ctx, "user-1", 46000, orders.RefTypeOrder, "PPUSER0001", s.clock.Now())
	s.Require().NoError(err)
	s.Equal(int64(0), m.BalanceBefore)
	s.Equal(int64(46000), m.BalanceAfter)

	_, err = s.bal.Credit(s.ctx, "user-1", 46000, orders.RefTypeOrder, "PPUSER0001", s.clock.Now())
	s.ErrorIs(err, orders.ErrRefundAlreadyExists)

	_, err = s.bal.Credit(s.ctx, "nobody", 1, orders.RefTypeOrder, "PPX", s.clock.Now())
	s.ErrorIs(err, orders.ErrUserNotFound)

	b, err := s.bal.GetBalance(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(int64(46000), b)
	ms, err := s.bal.ListMutations(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Len(ms, 1)
}

func (s *RepoSuite) TestTxRollsBackEverything() {
	s.seed(1)
	boom := errors.New("boom")
	err := s.tx.WithTx(s.ctx, func(ctx context.Context) error {
		s.Require().NoError(s.catalog.DecrementStock(ctx, 10))
		_, err := s.bal.Credit(ctx, "user-1", 100, orders.RefTypeOrder, "PPROLLBACK", s.clock.Now())
		s.Require().NoError(err)
		s.Require().NoError(s.outbox.Enqueue(ctx, orders.JobProcessOrder, "PPROLLBACK", orders.ProcessOrderPayload{OrderID: "PPROLLBACK"}, 0))
		return boom
	})
	s.ErrorIs(err, boom)

	p, err := s.catalog.GetProduct(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(int64(1), p.Stock)
	b, err := s.bal.GetBalance(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Zero(b)

	n, err := s.outbox.ClaimDue(s.ctx, s.clock.Now(), 10, func(context.Context, queue.Job) error { return nil })
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *RepoSuite) TestOutboxClaimDue() {
	s.Require().NoError(s.outbox.Enqueue(s.ctx, orders.JobProcessOrder, "PP1", orders.ProcessOrderPayload{OrderID: "PP1"}, 0))
	s.Require().NoError(s.outbox.Enqueue(s.ctx, orders.JobExpireOrder, "PP1", orders.ExpireOrderPayload{OrderID: "PP1"}, 30*time.Minute))

	var seen []queue.Job
	collect := func(_ context.Context, j queue.Job) error {
		seen = append(seen, j)
		return nil
	}

	n, err := s.outbox.ClaimDue(s.ctx, s.clock.Now(), 10, collect)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Require().Len(seen, 1)
	s.Equal(orders.JobProcessOrder, seen[0].Name)
	s.Equal("test", seen[0].Producer)

	n, err = s.outbox.ClaimDue(s.ctx, s.clock.Now(), 10, collect)
	s.Require().NoError(err)
	s.Zero(n, "published rows are not claimed again")

	s.clock.Advance(31 * time.Minute)
	failing := func(context.Context, queue.Job) error { return errors.New("broker down") }
	n, err = s.outbox.ClaimDue(s.ctx, s.clock.Now(), 10, failing)
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.outbox.ClaimDue(s.ctx, s.clock.Now(), 10, collect)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(orders.JobExpireOrder, seen[1].Name)

	var attempts int
	s.Require().NoError(s.pool.QueryRow(s.ctx, `SELECT publish_attempts FROM job_outbox WHERE name=$1`, orders.JobExpireOrder).Scan(&attempts))
	s.Equal(1, attempts)
}

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db?sslmode=disable": "pgx5://u:p@localhost:5432/db?sslmode=disable",
		"postgresql://localhost/db":                        "pgx5://localhost/db",
		"pgx5://localhost/db":                              "pgx5://localhost/db",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
