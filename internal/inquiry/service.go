// Package inquiry prices a top-up request, freezes it in snapshots and
// issues the token that checkout later verifies.
package inquiry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/discount"
	"github.com/ariefcatur/go-prepaid-orders/internal/metrics"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/payment"
	"github.com/ariefcatur/go-prepaid-orders/internal/token"
)

// TTL is how long an inquiry and its token stay valid.
const TTL = 5 * time.Minute

var tracer = otel.Tracer("prepaid/inquiry")

type PaymentValidator interface {
	ValidatePaymentMethod(ctx context.Context, in payment.Input) (payment.Quote, error)
}

type Deps struct {
	Tx        orders.TxManager
	Products  orders.ProductRepository
	Offers    orders.OfferRepository
	Snapshots orders.SnapshotRepository
	Inquiries orders.InquiryRepository
	Payments  PaymentValidator
}

type Service struct {
	Deps
	secret  []byte
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewService(d Deps, secret []byte, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{Deps: d, secret: secret, clock: clk, log: log, metrics: m}
}

// CreateInquiry validates and prices req for userID (empty for guests).
// timestamp is the client timestamp bound into the token.
func (s *Service) CreateInquiry(ctx context.Context, req orders.InquiryRequest, userID string, timestamp int64) (orders.Inquiry, error) {
	ctx, span := tracer.Start(ctx, "Inquiry.Create")
	defer span.End()
	span.SetAttributes(attribute.Int64("product_id", req.ProductID), attribute.Int64("payment_method_id", req.PaymentMethodID))

	inq, err := s.create(ctx, req, userID, timestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, orders.CodeOf(err))
		return orders.Inquiry{}, err
	}
	s.metrics.InquiriesCreated.Inc()
	s.log.Info("inquiry created",
		zap.String("inquiry_id", inq.ID),
		zap.Int64("product_id", inq.ProductID),
		zap.Int64("total_price", inq.TotalPrice),
		zap.Bool("guest", userID == ""),
	)
	return inq, nil
}

func (s *Service) create(ctx context.Context, req orders.InquiryRequest, userID string, timestamp int64) (orders.Inquiry, error) {
	product, category, err := s.sellable(ctx, req.ProductID)
	if err != nil {
		return orders.Inquiry{}, err
	}

	fields, err := s.Products.ListInputFields(ctx, category.ID)
	if err != nil {
		return orders.Inquiry{}, fmt.Errorf("list input fields: %w", err)
	}
	customerInput, err := MergeInput(fields, req.InputFields, product.Separator)
	if err != nil {
		return orders.Inquiry{}, err
	}

	offers, err := s.Offers.ListCandidateOffers(ctx, product.ID, category.ID)
	if err != nil {
		return orders.Inquiry{}, fmt.Errorf("list offers: %w", err)
	}
	var voucher *orders.Offer
	if req.VoucherID != nil {
		v, err := s.Offers.GetVoucher(ctx, *req.VoucherID)
		if err != nil {
			return orders.Inquiry{}, err
		}
		voucher = &v
	}

	now := s.clock.Now()
	price, err := discount.Calculate(discount.Input{
		Price:   product.Price,
		Offers:  offers,
		Voucher: voucher,
		Usage: discount.Usage{
			ProductID:       product.ID,
			CategoryID:      category.ID,
			UserID:          userID,
			PaymentMethodID: req.PaymentMethodID,
		},
		Now: now,
	})
	if err != nil {
		return orders.Inquiry{}, err
	}

	quote, err := s.Payments.ValidatePaymentMethod(ctx, payment.Input{
		PaymentMethodID: req.PaymentMethodID,
		TotalPrice:      price.TotalPrice,
		Voucher:         price.Voucher,
		UserID:          userID,
		PaymentPhone:    req.PaymentPhone,
	})
	if err != nil {
		return orders.Inquiry{}, err
	}

	tok, err := token.Sign(s.secret, req, timestamp, userID)
	if err != nil {
		return orders.Inquiry{}, err
	}

	productSnap := orders.ProductSnapshot{
		ID:            uuid.NewString(),
		ProductID:     product.ID,
		Name:          product.Name,
		CategoryName:  category.Name,
		ProviderName:  product.ProviderName,
		ProviderCode:  product.ProviderCode,
		BillingType:   product.BillingType,
		Price:         product.Price,
		ProviderPrice: product.ProviderPrice,
		MaxPrice:      product.MaxPrice,
		Separator:     product.Separator,
		AllowDot:      product.AllowDot,
		CreatedAt:     now,
	}
	paymentSnap := orders.PaymentSnapshot{
		ID:              uuid.NewString(),
		PaymentMethodID: quote.Method.ID,
		Code:            quote.Method.Code,
		Name:            quote.Method.Name,
		FeeStatic:       quote.Method.FeeStatic,
		FeePercentage:   quote.Method.FeePercentage,
		Fee:             quote.Fee,
		CreatedAt:       now,
	}
	inq := orders.Inquiry{
		ID:                uuid.NewString(),
		UserID:            userID,
		ProductID:         product.ID,
		PaymentMethodID:   quote.Method.ID,
		ProductSnapshotID: productSnap.ID,
		PaymentSnapshotID: paymentSnap.ID,
		OfferIDs:          price.AppliedOfferIDs(),
		CustomerInput:     customerInput,
		Price:             product.Price,
		CostPrice:         product.ProviderPrice,
		Fee:               quote.Fee,
		OfferDiscount:     price.OfferDiscount,
		VoucherDiscount:   price.VoucherDiscount,
		DiscountPrice:     price.TotalDiscount,
		TotalPrice:        price.TotalPrice + quote.Fee,
		Profit:            product.Price - product.ProviderPrice - price.TotalDiscount,
		Status:            orders.InquiryAwaitConfirmation,
		Token:             tok,
		CreatedAt:         now,
		ExpiredAt:         now.Add(TTL),
	}

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Snapshots.CreateProductSnapshot(ctx, productSnap); err != nil {
			return fmt.Errorf("create product snapshot: %w", err)
		}
		if err := s.Snapshots.CreatePaymentSnapshot(ctx, paymentSnap); err != nil {
			return fmt.Errorf("create payment snapshot: %w", err)
		}
		if err := s.Inquiries.CreateInquiry(ctx, inq); err != nil {
			return fmt.Errorf("create inquiry: %w", err)
		}
		return nil
	})
	if err != nil {
		return orders.Inquiry{}, err
	}
	return inq, nil
}

// sellable loads the product and checks it, its category and subcategory
// can be bought through an inquiry.
func (s *Service) sellable(ctx context.Context, productID int64) (orders.Product, orders.Category, error) {
	product, err := s.Products.GetProduct(ctx, productID)
	if err != nil {
		return orders.Product{}, orders.Category{}, err
	}
	if !product.IsAvailable {
		return orders.Product{}, orders.Category{}, orders.ErrProductUnavailable
	}
	category, err := s.Products.GetCategory(ctx, product.CategoryID)
	if err != nil {
		return orders.Product{}, orders.Category{}, err
	}
	if !category.IsAvailable {
		return orders.Product{}, orders.Category{}, orders.ErrProductUnavailable
	}
	if category.IsSpecialFeature {
		return orders.Product{}, orders.Category{}, orders.ErrSpecialCategory
	}
	if product.SubcategoryID != 0 {
		sub, err := s.Products.GetSubcategory(ctx, product.SubcategoryID)
		if err != nil {
			return orders.Product{}, orders.Category{}, err
		}
		if !sub.IsAvailable {
			return orders.Product{}, orders.Category{}, orders.ErrProductUnavailable
		}
	}
	return product, category, nil
}

// MergeInput joins the customer values in field definition order with sep.
// A required field that is missing or blank fails with its name.
func MergeInput(fields []orders.InputField, values []orders.FieldValue, sep string) (string, error) {
	byName := make(map[string]string, len(values))
	for _, v := range values {
		byName[v.Name] = strings.TrimSpace(v.Value)
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := byName[f.Name]
		if v == "" {
			if f.IsRequired {
				return "", orders.MissingField(f.Name)
			}
			continue
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, sep), nil
}
