package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// InquiryRepo implements orders.SnapshotRepository and orders.InquiryRepository.
type InquiryRepo struct{ DB *pgxpool.Pool }

func (r *InquiryRepo) CreateProductSnapshot(ctx context.Context, s orders.ProductSnapshot) error {
	_, err := conn(ctx, r.DB).Exec(ctx, `
		INSERT INTO product_snapshots(id, product_id, name, category_name, provider_name, provider_code,
			billing_type, price, provider_price, max_price, separator, allow_dot, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		s.ID, s.ProductID, s.Name, s.CategoryName, s.ProviderName, s.ProviderCode,
		s.BillingType, s.Price, s.ProviderPrice, s.MaxPrice, s.Separator, s.AllowDot, s.CreatedAt,
	)
	return err
}

func (r *InquiryRepo) CreatePaymentSnapshot(ctx context.Context, s orders.PaymentSnapshot) error {
	_, err := conn(ctx, r.DB).Exec(ctx, `
		INSERT INTO payment_snapshots(id, payment_method_id, code, name, fee_static, fee_percentage, fee, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8)`,
		s.ID, s.PaymentMethodID, s.Code, s.Name, s.FeeStatic, s.FeePercentage.String(), s.Fee, s.CreatedAt,
	)
	return err
}

func (r *InquiryRepo) GetProductSnapshot(ctx context.Context, id string) (orders.ProductSnapshot, error) {
	var s orders.ProductSnapshot
	err := conn(ctx, r.DB).QueryRow(ctx, `
		SELECT id, product_id, name, category_name, provider_name, provider_code, billing_type,
			price, provider_price, max_price, separator, allow_dot, created_at
		FROM product_snapshots WHERE id=$1`, id,
	).Scan(&s.ID, &s.ProductID, &s.Name, &s.CategoryName, &s.ProviderName, &s.ProviderCode, &s.BillingType,
		&s.Price, &s.ProviderPrice, &s.MaxPrice, &s.Separator, &s.AllowDot, &s.CreatedAt)
	if isNoRows(err) {
		return s, orders.ErrSnapshotNotFound
	}
	return s, err
}

func (r *InquiryRepo) GetPaymentSnapshot(ctx context.Context, id string) (orders.PaymentSnapshot, error) {
	var (
		s   orders.PaymentSnapshot
		pct string
	)
	err := conn(ctx, r.DB).QueryRow(ctx, `
		SELECT id, payment_method_id, code, name, fee_static, fee_percentage::text, fee, created_at
		FROM payment_snapshots WHERE id=$1`, id,
	).Scan(&s.ID, &s.PaymentMethodID, &s.Code, &s.Name, &s.FeeStatic, &pct, &s.Fee, &s.CreatedAt)
	if isNoRows(err) {
		return s, orders.ErrSnapshotNotFound
	}
	if err != nil {
		return s, err
	}
	if s.FeePercentage, err = decimal.NewFromString(pct); err != nil {
		return s, fmt.Errorf("payment snapshot %s fee: %w", s.ID, err)
	}
	return s, nil
}

func (r *InquiryRepo) CreateInquiry(ctx context.Context, inq orders.Inquiry) error {
	offerIDs := inq.OfferIDs
	if offerIDs == nil {
		offerIDs = []int64{}
	}
	_, err := conn(ctx, r.DB).Exec(ctx, `
		INSERT INTO inquiries(id, user_id, product_id, payment_method_id, product_snapshot_id, payment_snapshot_id,
			offer_ids, customer_input, price, cost_price, fee, offer_discount, voucher_discount, discount_price,
			total_price, profit, status, token, created_at, expired_at)
		VALUES ($1,NULLIF($2,''),$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		inq.ID, inq.UserID, inq.ProductID, inq.PaymentMethodID, inq.ProductSnapshotID, inq.PaymentSnapshotID,
		offerIDs, inq.CustomerInput, inq.Price, inq.CostPrice, inq.Fee, inq.OfferDiscount, inq.VoucherDiscount, inq.DiscountPrice,
		inq.TotalPrice, inq.Profit, string(inq.Status), inq.Token, inq.CreatedAt, inq.ExpiredAt,
	)
	return err
}

func (r *InquiryRepo) GetInquiry(ctx context.Context, id string) (orders.Inquiry, error) {
	var (
		inq    orders.Inquiry
		status string
	)
	err := conn(ctx, r.DB).QueryRow(ctx, `
		SELECT id, COALESCE(user_id, ''), product_id, payment_method_id, product_snapshot_id, payment_snapshot_id,
			offer_ids, customer_input, price, cost_price, fee, offer_discount, voucher_discount, discount_price,
			total_price, profit, status, token, created_at, expired_at
		FROM inquiries WHERE id=$1`, id,
	).Scan(&inq.ID, &inq.UserID, &inq.ProductID, &inq.PaymentMethodID, &inq.ProductSnapshotID, &inq.PaymentSnapshotID,
		&inq.OfferIDs, &inq.CustomerInput, &inq.Price, &inq.CostPrice, &inq.Fee, &inq.OfferDiscount, &inq.VoucherDiscount, &inq.DiscountPrice,
		&inq.TotalPrice, &inq.Profit, &status, &inq.Token, &inq.CreatedAt, &inq.ExpiredAt)
	if isNoRows(err) {
		return inq, orders.ErrInquiryNotFound
	}
	inq.Status = orders.InquiryStatus(status)
	return inq, err
}

func (r *InquiryRepo) ConsumeInquiry(ctx context.Context, id string) (bool, error) {
	return r.move(ctx, id, orders.InquiryConsumed)
}

func (r *InquiryRepo) ExpireInquiry(ctx context.Context, id string) (bool, error) {
	return r.move(ctx, id, orders.InquiryExpired)
}

func (r *InquiryRepo) move(ctx context.Context, id string, to orders.InquiryStatus) (bool, error) {
	ct, err := conn(ctx, r.DB).Exec(ctx, `
		UPDATE inquiries SET status=$2 WHERE id=$1 AND status=$3`,
		id, string(to), string(orders.InquiryAwaitConfirmation))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
