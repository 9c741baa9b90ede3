// Package checkout turns a confirmed inquiry into an order awaiting payment
// and applies the payment outcome reported by the gateway.
package checkout

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/logging"
	"github.com/ariefcatur/go-prepaid-orders/internal/metrics"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
	"github.com/ariefcatur/go-prepaid-orders/internal/token"
)

const defaultPaymentWindow = 30 * time.Minute

var tracer = otel.Tracer("prepaid/checkout")

type Deps struct {
	Tx        orders.TxManager
	Products  orders.ProductRepository
	Offers    orders.OfferRepository
	Inquiries orders.InquiryRepository
	Orders    orders.OrderRepository
	Jobs      queue.Publisher
	// Cache is optional.
	Cache orders.StatusCache
}

type Service struct {
	Deps
	secret        []byte
	clock         clock.Clock
	log           *zap.Logger
	metrics       *metrics.Metrics
	paymentWindow time.Duration
}

type Option func(*Service)

// WithPaymentWindow sets how long an order waits for payment before expiring.
func WithPaymentWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.paymentWindow = d
		}
	}
}

func NewService(d Deps, secret []byte, clk clock.Clock, log *zap.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		Deps:          d,
		secret:        secret,
		clock:         clk,
		log:           log,
		metrics:       m,
		paymentWindow: defaultPaymentWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Input struct {
	InquiryID string
	Request   orders.InquiryRequest
	Timestamp int64
	Token     string
	UserID    string
	IP        string
	UserAgent string
}

func (s *Service) Checkout(ctx context.Context, in Input) (orders.Order, error) {
	ctx, span := tracer.Start(ctx, "Checkout.Checkout")
	defer span.End()
	span.SetAttributes(attribute.String("inquiry_id", in.InquiryID))

	log := logging.WithTrace(ctx, s.log)
	o, err := s.checkout(ctx, in)
	s.metrics.CheckoutsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, orders.CodeOf(err))
		log.Info("checkout rejected",
			zap.String("inquiry_id", in.InquiryID),
			zap.String("code", orders.CodeOf(err)),
			zap.Error(err),
		)
		return orders.Order{}, err
	}
	span.SetAttributes(attribute.String("order_id", o.OrderID))
	log.Info("order created",
		zap.String("order_id", o.OrderID),
		zap.String("inquiry_id", in.InquiryID),
		zap.Int64("total_price", o.TotalPrice),
		zap.Time("payment_expired_at", o.PaymentExpiredAt),
	)
	return o, nil
}

func (s *Service) checkout(ctx context.Context, in Input) (orders.Order, error) {
	if err := token.Verify(s.secret, in.Request, in.Timestamp, in.UserID, in.Token); err != nil {
		return orders.Order{}, err
	}

	inq, err := s.Inquiries.GetInquiry(ctx, in.InquiryID)
	if err != nil {
		return orders.Order{}, err
	}
	if inq.UserID != in.UserID ||
		inq.ProductID != in.Request.ProductID ||
		subtle.ConstantTimeCompare([]byte(inq.Token), []byte(in.Token)) != 1 {
		return orders.Order{}, orders.ErrInvalidToken
	}

	now := s.clock.Now()
	switch {
	case inq.Status == orders.InquiryConsumed:
		return orders.Order{}, orders.ErrInquiryConsumed
	case inq.Status == orders.InquiryExpired:
		return orders.Order{}, orders.ErrInquiryExpired
	case now.After(inq.ExpiredAt):
		if _, err := s.Inquiries.ExpireInquiry(ctx, inq.ID); err != nil {
			s.log.Warn("mark inquiry expired", zap.String("inquiry_id", inq.ID), zap.Error(err))
		}
		return orders.Order{}, orders.ErrInquiryExpired
	}

	product, err := s.Products.GetProduct(ctx, inq.ProductID)
	if err != nil {
		return orders.Order{}, err
	}
	if !product.IsAvailable {
		return orders.Order{}, orders.ErrProductUnavailable
	}

	o := orders.Order{
		OrderID:           orders.NewOrderID(in.UserID, now),
		InquiryID:         inq.ID,
		UserID:            inq.UserID,
		ProductID:         inq.ProductID,
		PaymentMethodID:   inq.PaymentMethodID,
		ProductSnapshotID: inq.ProductSnapshotID,
		PaymentSnapshotID: inq.PaymentSnapshotID,
		OfferIDs:          inq.OfferIDs,
		CustomerInput:     inq.CustomerInput,
		Price:             inq.Price,
		CostPrice:         inq.CostPrice,
		Fee:               inq.Fee,
		DiscountPrice:     inq.DiscountPrice,
		TotalPrice:        inq.TotalPrice,
		Profit:            inq.Profit,
		PaymentStatus:     orders.PaymentPending,
		OrderStatus:       orders.OrderNone,
		RefundStatus:      orders.RefundNone,
		IP:                in.IP,
		UserAgent:         in.UserAgent,
		PaymentExpiredAt:  now.Add(s.paymentWindow),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		consumed, err := s.Inquiries.ConsumeInquiry(ctx, inq.ID)
		if err != nil {
			return fmt.Errorf("consume inquiry: %w", err)
		}
		if !consumed {
			return orders.ErrInquiryConsumed
		}
		if err := s.Products.DecrementStock(ctx, o.ProductID); err != nil {
			return err
		}
		for _, id := range o.OfferIDs {
			if err := s.Offers.IncrementUsage(ctx, id); err != nil {
				return err
			}
		}
		if err := s.Orders.CreateOrder(ctx, &o); err != nil {
			return err
		}
		return s.Jobs.Enqueue(ctx, orders.JobExpireOrder, o.OrderID,
			orders.ExpireOrderPayload{OrderID: o.OrderID}, s.paymentWindow)
	})
	if err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

// HandlePaymentEvent applies a verified gateway outcome.
func (s *Service) HandlePaymentEvent(ctx context.Context, ev orders.PaymentEvent) (orders.Order, error) {
	var err error
	switch ev.Status {
	case orders.PaymentSuccess:
		err = s.ConfirmPayment(ctx, ev.OrderID)
	case orders.PaymentFailed:
		err = s.RejectPayment(ctx, ev.OrderID)
	default:
		err = orders.ErrBadPaymentStatus
	}
	s.metrics.PaymentEvents.WithLabelValues(string(ev.Status), resultLabel(err)).Inc()
	if err != nil {
		return orders.Order{}, err
	}
	return s.Orders.GetOrder(ctx, ev.OrderID)
}

// ConfirmPayment marks the order paid and queues it for fulfillment.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "Checkout.ConfirmPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.Orders.ConfirmPayment(ctx, orderID, s.clock.Now())
		if err != nil {
			return fmt.Errorf("confirm payment: %w", err)
		}
		if !ok {
			return s.notPayable(ctx, orderID)
		}
		return s.Jobs.Enqueue(ctx, orders.JobProcessOrder, orderID,
			orders.ProcessOrderPayload{OrderID: orderID}, 0)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.invalidate(ctx, orderID)
	s.log.Info("payment confirmed", zap.String("order_id", orderID))
	return nil
}

// RejectPayment marks the order's payment failed and gives back the unit
// and the offer quota taken at checkout.
func (s *Service) RejectPayment(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "Checkout.RejectPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.Orders.FailPayment(ctx, orderID, s.clock.Now())
		if err != nil {
			return fmt.Errorf("fail payment: %w", err)
		}
		if !ok {
			return s.notPayable(ctx, orderID)
		}
		o, err := s.Orders.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.Products.RestoreStock(ctx, o.ProductID); err != nil {
			return err
		}
		for _, id := range o.OfferIDs {
			if err := s.Offers.DecrementUsage(ctx, id); err != nil {
				return fmt.Errorf("release offer %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.invalidate(ctx, orderID)
	s.log.Info("payment rejected", zap.String("order_id", orderID))
	return nil
}

// notPayable tells a missing order apart from one that already left PENDING.
func (s *Service) notPayable(ctx context.Context, orderID string) error {
	if _, err := s.Orders.GetOrder(ctx, orderID); err != nil {
		return err
	}
	return orders.ErrOrderNotPayable
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, orderID); err != nil {
		s.log.Warn("invalidate order status cache", zap.String("order_id", orderID), zap.Error(err))
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return orders.CodeOf(err)
}
