package expiry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/metrics"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

var tracer = otel.Tracer("prepaid/expiry")

type Deps struct {
	Tx       orders.TxManager
	Orders   orders.OrderRepository
	Products orders.ProductRepository
	// Cache is optional.
	Cache orders.StatusCache
}

// Sweeper expires orders whose payment window closed without payment.
type Sweeper struct {
	Deps
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewSweeper(d Deps, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{Deps: d, clock: clk, log: log, metrics: m}
}

// HandleJob is the queue handler for expired-order.
func (s *Sweeper) HandleJob(ctx context.Context, job queue.Job) error {
	p, err := queue.Decode[orders.ExpireOrderPayload](job)
	if err != nil {
		return orders.Wrap(orders.ErrBadJobPayload, err)
	}
	_, err = s.ExpireOrder(ctx, p.OrderID)
	return err
}

// ExpireOrder moves a still-unpaid order to EXPIRED and returns its unit to
// stock. Paid, failed or already expired orders are left alone; offer usage
// and balances are never touched. It reports whether the order expired.
func (s *Sweeper) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Expiry.ExpireOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	expired := false
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.Orders.ExpirePayment(ctx, orderID, s.clock.Now())
		if err != nil {
			return fmt.Errorf("expire payment: %w", err)
		}
		if !ok {
			return nil
		}
		o, err := s.Orders.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.Products.RestoreStock(ctx, o.ProductID); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
		expired = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if !expired {
		s.log.Debug("order not awaiting payment, expiry skipped", zap.String("order_id", orderID))
		return false, nil
	}

	s.metrics.OrdersExpired.Inc()
	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, orderID); err != nil {
			s.log.Warn("invalidate order status cache", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	s.log.Info("order expired", zap.String("order_id", orderID))
	return true, nil
}
