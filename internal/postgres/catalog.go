package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// CatalogRepo implements orders.ProductRepository, orders.OfferRepository
// and payment.MethodRepository.
type CatalogRepo struct{ DB *pgxpool.Pool }

const productColumns = `id, category_id, COALESCE(subcategory_id, 0), name, provider_name, provider_code,
	billing_type, price, provider_price, max_price, separator, allow_dot, stock, is_available,
	created_at, updated_at`

func (r *CatalogRepo) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	var p orders.Product
	err := conn(ctx, r.DB).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id).Scan(
		&p.ID, &p.CategoryID, &p.SubcategoryID, &p.Name, &p.ProviderName, &p.ProviderCode,
		&p.BillingType, &p.Price, &p.ProviderPrice, &p.MaxPrice, &p.Separator, &p.AllowDot, &p.Stock, &p.IsAvailable,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if isNoRows(err) {
		return p, orders.ErrProductNotFound
	}
	return p, err
}

func (r *CatalogRepo) GetCategory(ctx context.Context, id int64) (orders.Category, error) {
	var c orders.Category
	err := conn(ctx, r.DB).QueryRow(ctx,
		`SELECT id, name, is_available, is_special_feature FROM categories WHERE id=$1`, id,
	).Scan(&c.ID, &c.Name, &c.IsAvailable, &c.IsSpecialFeature)
	if isNoRows(err) {
		return c, orders.ErrCategoryNotFound
	}
	return c, err
}

func (r *CatalogRepo) GetSubcategory(ctx context.Context, id int64) (orders.Subcategory, error) {
	var c orders.Subcategory
	err := conn(ctx, r.DB).QueryRow(ctx,
		`SELECT id, category_id, name, is_available FROM subcategories WHERE id=$1`, id,
	).Scan(&c.ID, &c.CategoryID, &c.Name, &c.IsAvailable)
	if isNoRows(err) {
		return c, orders.ErrCategoryNotFound
	}
	return c, err
}

func (r *CatalogRepo) ListInputFields(ctx context.Context, categoryID int64) ([]orders.InputField, error) {
	rows, err := conn(ctx, r.DB).Query(ctx, `
		SELECT id, category_id, name, label, is_required, position
		FROM input_fields WHERE category_id=$1 ORDER BY position, id`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.InputField
	for rows.Next() {
		var f orders.InputField
		if err := rows.Scan(&f.ID, &f.CategoryID, &f.Name, &f.Label, &f.IsRequired, &f.Position); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DecrementStock relies on the row lock the UPDATE takes, so two concurrent
// buyers of the last unit cannot both succeed.
func (r *CatalogRepo) DecrementStock(ctx context.Context, productID int64) error {
	ct, err := conn(ctx, r.DB).Exec(ctx, `
		UPDATE products SET stock = stock - 1, updated_at = now()
		WHERE id=$1 AND stock > 0`, productID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetProduct(ctx, productID); err != nil {
		return err
	}
	return orders.ErrOutOfStock
}

func (r *CatalogRepo) RestoreStock(ctx context.Context, productID int64) error {
	ct, err := conn(ctx, r.DB).Exec(ctx, `UPDATE products SET stock = stock + 1, updated_at = now() WHERE id=$1`, productID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrProductNotFound
	}
	return nil
}

const offerColumns = `id, code, name, type, discount_static, discount_percentage::text, discount_maximum,
	start_date, end_date, is_unlimited_date, quota, usage_count, is_unlimited_quota, is_available, deleted_at,
	is_all_products, is_all_users, is_all_payment_methods, product_ids, category_ids, user_ids, payment_method_ids,
	is_combinable`

func scanOffer(row pgx.Row) (orders.Offer, error) {
	var (
		o          orders.Offer
		typ, pct   string
		start, end *time.Time
	)
	err := row.Scan(
		&o.ID, &o.Code, &o.Name, &typ, &o.DiscountStatic, &pct, &o.DiscountMaximum,
		&start, &end, &o.IsUnlimitedDate, &o.Quota, &o.UsageCount, &o.IsUnlimitedQuota, &o.IsAvailable, &o.DeletedAt,
		&o.IsAllProducts, &o.IsAllUsers, &o.IsAllPaymentMethods, &o.ProductIDs, &o.CategoryIDs, &o.UserIDs, &o.PaymentMethodIDs,
		&o.IsCombinable,
	)
	if err != nil {
		return o, err
	}
	o.Type = orders.OfferType(typ)
	if start != nil {
		o.StartDate = *start
	}
	if end != nil {
		o.EndDate = *end
	}
	if o.DiscountPercentage, err = decimal.NewFromString(pct); err != nil {
		return o, fmt.Errorf("offer %d percentage: %w", o.ID, err)
	}
	return o, nil
}

func (r *CatalogRepo) ListCandidateOffers(ctx context.Context, productID, categoryID int64) ([]orders.Offer, error) {
	rows, err := conn(ctx, r.DB).Query(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE type <> 'VOUCHER' AND deleted_at IS NULL
		  AND (is_all_products OR $1 = ANY(product_ids) OR $2 = ANY(category_ids))
		ORDER BY id`, productID, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) GetVoucher(ctx context.Context, id int64) (orders.Offer, error) {
	o, err := scanOffer(conn(ctx, r.DB).QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=$1`, id))
	if isNoRows(err) {
		return o, orders.ErrVoucherNotFound
	}
	return o, err
}

func (r *CatalogRepo) IncrementUsage(ctx context.Context, offerID int64) error {
	ct, err := conn(ctx, r.DB).Exec(ctx, `
		UPDATE offers SET usage_count = usage_count + 1
		WHERE id=$1 AND (is_unlimited_quota OR usage_count < quota)`, offerID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrOfferExhausted
	}
	return nil
}

func (r *CatalogRepo) DecrementUsage(ctx context.Context, offerID int64) error {
	_, err := conn(ctx, r.DB).Exec(ctx, `
		UPDATE offers SET usage_count = usage_count - 1
		WHERE id=$1 AND usage_count > 0`, offerID)
	return err
}

func (r *CatalogRepo) GetPaymentMethod(ctx context.Context, id int64) (orders.PaymentMethod, error) {
	var (
		m   orders.PaymentMethod
		pct string
	)
	err := conn(ctx, r.DB).QueryRow(ctx, `
		SELECT id, code, name, min_amount, max_amount, fee_static, fee_percentage::text, is_available, needs_phone
		FROM payment_methods WHERE id=$1`, id,
	).Scan(&m.ID, &m.Code, &m.Name, &m.MinAmount, &m.MaxAmount, &m.FeeStatic, &pct, &m.IsAvailable, &m.NeedsPhone)
	if isNoRows(err) {
		return m, orders.ErrPaymentMethodNotFound
	}
	if err != nil {
		return m, err
	}
	if m.FeePercentage, err = decimal.NewFromString(pct); err != nil {
		return m, fmt.Errorf("payment method %d fee: %w", m.ID, err)
	}
	return m, nil
}
