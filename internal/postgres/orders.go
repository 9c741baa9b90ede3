package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// OrderRepo implements orders.OrderRepository.
type OrderRepo struct{ DB *pgxpool.Pool }

const orderColumns = `id, order_id, inquiry_id, COALESCE(user_id, ''), product_id, payment_method_id,
	product_snapshot_id, payment_snapshot_id, offer_ids, customer_input,
	price, cost_price, fee, discount_price, total_price, profit,
	payment_status, order_status, refund_status, manual_refund,
	serial_number, provider_ref, COALESCE(provider_response::text, ''),
	ip, user_agent, payment_expired_at, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o                     orders.Order
		payment, order, refnd string
		raw                   string
	)
	err := row.Scan(
		&o.ID, &o.OrderID, &o.InquiryID, &o.UserID, &o.ProductID, &o.PaymentMethodID,
		&o.ProductSnapshotID, &o.PaymentSnapshotID, &o.OfferIDs, &o.CustomerInput,
		&o.Price, &o.CostPrice, &o.Fee, &o.DiscountPrice, &o.TotalPrice, &o.Profit,
		&payment, &order, &refnd, &o.ManualRefund,
		&o.SerialNumber, &o.ProviderRef, &raw,
		&o.IP, &o.UserAgent, &o.PaymentExpiredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentStatus = orders.PaymentStatus(payment)
	o.OrderStatus = orders.OrderStatus(order)
	o.RefundStatus = orders.RefundStatus(refnd)
	if raw != "" {
		o.ProviderResponse = json.RawMessage(raw)
	}
	return o, nil
}

// jsonb turns an empty raw message into NULL.
func jsonb(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *OrderRepo) CreateOrder(ctx context.Context, o *orders.Order) error {
	offerIDs := o.OfferIDs
	if offerIDs == nil {
		offerIDs = []int64{}
	}
	err := conn(ctx, r.DB).QueryRow(ctx, `
		INSERT INTO orders(order_id, inquiry_id, user_id, product_id, payment_method_id,
			product_snapshot_id, payment_snapshot_id, offer_ids, customer_input,
			price, cost_price, fee, discount_price, total_price, profit,
			payment_status, order_status, refund_status, manual_refund,
			serial_number, provider_ref, provider_response,
			ip, user_agent, payment_expired_at, created_at, updated_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22::jsonb,$23,$24,$25,$26,$27)
		RETURNING id`,
		o.OrderID, o.InquiryID, o.UserID, o.ProductID, o.PaymentMethodID,
		o.ProductSnapshotID, o.PaymentSnapshotID, offerIDs, o.CustomerInput,
		o.Price, o.CostPrice, o.Fee, o.DiscountPrice, o.TotalPrice, o.Profit,
		string(o.PaymentStatus), string(o.OrderStatus), string(o.RefundStatus), o.ManualRefund,
		o.SerialNumber, o.ProviderRef, jsonb(o.ProviderResponse),
		o.IP, o.UserAgent, o.PaymentExpiredAt, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if isUniqueViolation(err) {
		return orders.Wrap(orders.ErrDuplicateOrderID, err)
	}
	return err
}

func (r *OrderRepo) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := scanOrder(conn(ctx, r.DB).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID))
	if isNoRows(err) {
		return o, orders.ErrOrderNotFound
	}
	return o, err
}

func (r *OrderRepo) FindPaidOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := scanOrder(conn(ctx, r.DB).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id=$1 AND payment_status='SUCCESS'`, orderID))
	if isNoRows(err) {
		return o, orders.ErrOrderNotFound
	}
	return o, err
}

// exec runs a conditional update and reports whether a row changed.
func (r *OrderRepo) exec(ctx context.Context, sql string, args ...any) (bool, error) {
	ct, err := conn(ctx, r.DB).Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *OrderRepo) ConfirmPayment(ctx context.Context, orderID string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET payment_status='SUCCESS', order_status='PENDING', updated_at=$2
		WHERE order_id=$1 AND payment_status='PENDING'`, orderID, at)
}

func (r *OrderRepo) FailPayment(ctx context.Context, orderID string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET payment_status='FAILED', updated_at=$2
		WHERE order_id=$1 AND payment_status='PENDING'`, orderID, at)
}

func (r *OrderRepo) ExpirePayment(ctx context.Context, orderID string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET payment_status='EXPIRED', updated_at=$2
		WHERE order_id=$1 AND payment_status='PENDING'`, orderID, at)
}

func (r *OrderRepo) MarkFulfillmentPending(ctx context.Context, orderID string, raw json.RawMessage, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET provider_response=$2::jsonb, updated_at=$3
		WHERE order_id=$1 AND payment_status='SUCCESS' AND order_status='PENDING'`, orderID, jsonb(raw), at)
}

func (r *OrderRepo) CompleteFulfillment(ctx context.Context, orderID string, out orders.FulfillmentOutcome, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET order_status='COMPLETED', cost_price=$2, profit=$3, serial_number=$4,
			provider_ref=$5, provider_response=$6::jsonb, updated_at=$7
		WHERE order_id=$1 AND payment_status='SUCCESS' AND order_status='PENDING'`,
		orderID, out.CostPrice, out.Profit, out.SerialNumber, out.ProviderRef, jsonb(out.Raw), at)
}

func (r *OrderRepo) FailFulfillment(ctx context.Context, orderID string, raw json.RawMessage, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET order_status='FAILED', provider_response=$2::jsonb, updated_at=$3
		WHERE order_id=$1 AND payment_status='SUCCESS' AND order_status='PENDING'`, orderID, jsonb(raw), at)
}

// TransitionRefund checks the from/to edge in Go and lets the WHERE clause
// hold the order-level preconditions.
func (r *OrderRepo) TransitionRefund(ctx context.Context, orderID string, from, to orders.RefundStatus, manual bool, at time.Time) (bool, error) {
	edge := orders.Order{PaymentStatus: orders.PaymentSuccess, OrderStatus: orders.OrderFailed, RefundStatus: from}
	if !orders.CanTransitionRefund(edge, to) {
		return false, nil
	}
	return r.exec(ctx, `
		UPDATE orders SET refund_status=$3, manual_refund = manual_refund OR $4, updated_at=$5
		WHERE order_id=$1 AND refund_status=$2
		  AND ($2 <> 'NONE' OR (payment_status='SUCCESS' AND order_status='FAILED'))`,
		orderID, string(from), string(to), manual, at)
}
