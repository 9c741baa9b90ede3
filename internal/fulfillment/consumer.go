// Package fulfillment dispatches paid orders to their provider and settles
// the outcome, compensating the buyer when the provider fails.
package fulfillment

import (
	"context"
	"errors"
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
	"github.com/ariefcatur/go-prepaid-orders/internal/provider"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

var tracer = otel.Tracer("prepaid/fulfillment")

// Outcome says what ProcessOrder did with the order.
type Outcome string

const (
	OutcomeSkipped        Outcome = "SKIPPED"
	OutcomeLocked         Outcome = "LOCKED"
	OutcomeUnsupported    Outcome = "UNSUPPORTED_PROVIDER"
	OutcomePending        Outcome = "PENDING"
	OutcomeReconcile      Outcome = "RECONCILE"
	OutcomeCompleted      Outcome = "COMPLETED"
	OutcomeFailed         Outcome = "FAILED"
	OutcomeAlreadyHandled Outcome = "ALREADY_HANDLED"
)

// Locker grants a short exclusive hold on a key. ok is false when someone
// else holds it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

type Providers interface {
	Get(name string) (provider.Provider, bool)
}

type Deps struct {
	Tx        orders.TxManager
	Orders    orders.OrderRepository
	Snapshots orders.SnapshotRepository
	Products  orders.ProductRepository
	Offers    orders.OfferRepository
	Balances  orders.BalanceRepository
	Jobs      queue.Publisher
	Providers Providers
	Locker    Locker
	// Cache is optional.
	Cache orders.StatusCache
}

type Consumer struct {
	Deps
	clock            clock.Clock
	log              *zap.Logger
	metrics          *metrics.Metrics
	lockTTL          time.Duration
	recheckAfter     time.Duration
	maxPendingChecks int
}

type Option func(*Consumer)

func WithLockTTL(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.lockTTL = d
		}
	}
}

// WithPendingRecheck sets the delay between provider status checks and how
// many PENDING answers are tolerated before the order goes to an operator.
func WithPendingRecheck(every time.Duration, max int) Option {
	return func(c *Consumer) {
		if every > 0 {
			c.recheckAfter = every
		}
		if max > 0 {
			c.maxPendingChecks = max
		}
	}
}

func NewConsumer(d Deps, clk clock.Clock, log *zap.Logger, m *metrics.Metrics, opts ...Option) *Consumer {
	c := &Consumer{
		Deps:             d,
		clock:            clk,
		log:              log,
		metrics:          m,
		lockTTL:          2 * time.Minute,
		recheckAfter:     time.Minute,
		maxPendingChecks: 10,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LockKey is the per-order lock taken while the provider is called.
func LockKey(orderID string) string { return "lock:fulfillment:" + orderID }

// HandleJob is the queue handler for process-order.
func (c *Consumer) HandleJob(ctx context.Context, job queue.Job) error {
	p, err := queue.Decode[orders.ProcessOrderPayload](job)
	if err != nil {
		return orders.Wrap(orders.ErrBadJobPayload, err)
	}
	_, err = c.ProcessOrder(ctx, p)
	return err
}

// ProcessOrder is idempotent on the order id and safe under redelivery.
func (c *Consumer) ProcessOrder(ctx context.Context, p orders.ProcessOrderPayload) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Fulfillment.ProcessOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", p.OrderID), attribute.Int("pending_checks", p.PendingChecks))

	log := logging.WithTrace(ctx, c.log).With(zap.String("order_id", p.OrderID))

	if _, dispatchable, err := c.load(ctx, p.OrderID); err != nil || !dispatchable {
		return OutcomeSkipped, err
	}

	release, ok, err := c.Locker.Acquire(ctx, LockKey(p.OrderID), c.lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		log.Info("order is being dispatched by another worker")
		return OutcomeLocked, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release order lock", zap.Error(err))
		}
	}()

	// Another worker may have settled the order before we got the lock.
	o, dispatchable, err := c.load(ctx, p.OrderID)
	if err != nil || !dispatchable {
		return OutcomeSkipped, err
	}

	snap, err := c.Snapshots.GetProductSnapshot(ctx, o.ProductSnapshotID)
	if err != nil {
		return "", fmt.Errorf("load product snapshot: %w", err)
	}
	log = log.With(zap.String("provider", snap.ProviderName))

	prov, ok := c.Providers.Get(snap.ProviderName)
	if !ok {
		log.Warn("unsupported provider, order left for an operator")
		c.count(snap.ProviderName, OutcomeUnsupported)
		return OutcomeUnsupported, nil
	}

	start := time.Now()
	res, err := prov.Topup(ctx, provider.TopupRequest{
		ProviderCode:  snap.ProviderCode,
		CustomerInput: o.CustomerInput,
		AllowDot:      snap.AllowDot,
		MaxPrice:      snap.MaxPrice,
		OrderID:       o.OrderID,
	})
	c.metrics.ProviderLatency.WithLabelValues(snap.ProviderName).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		log.Warn("provider call failed, will retry", zap.Error(err))
		if orders.KindOf(err) != orders.KindProvider {
			err = orders.Wrap(orders.ErrProviderUnavailable, err)
		}
		return "", err
	}

	var outcome Outcome
	switch res.Status {
	case provider.StatusCompleted:
		outcome, err = c.complete(ctx, o, snap, res)
	case provider.StatusFailed:
		outcome, err = c.compensate(ctx, o, res)
	default:
		outcome, err = c.pending(ctx, o, p.PendingChecks, res)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, orders.CodeOf(err))
		return "", err
	}
	c.count(snap.ProviderName, outcome)
	c.invalidate(ctx, o.OrderID)
	log.Info("fulfillment settled", zap.String("outcome", string(outcome)), zap.String("provider_status", string(res.Status)))
	return outcome, nil
}

// load returns the paid order and whether it still waits for fulfillment.
func (c *Consumer) load(ctx context.Context, orderID string) (orders.Order, bool, error) {
	o, err := c.Orders.FindPaidOrder(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, fmt.Errorf("load order: %w", err)
	}
	return o, o.OrderStatus == orders.OrderPending, nil
}

func (c *Consumer) complete(ctx context.Context, o orders.Order, snap orders.ProductSnapshot, res provider.TopupResult) (Outcome, error) {
	cost := res.ProviderPrice
	if cost == 0 {
		cost = snap.ProviderPrice
	}
	ok, err := c.Orders.CompleteFulfillment(ctx, o.OrderID, orders.FulfillmentOutcome{
		CostPrice:    cost,
		Profit:       o.Price - cost - o.DiscountPrice,
		SerialNumber: res.SerialNumber,
		ProviderRef:  res.Reference,
		Raw:          res.Raw,
	}, c.clock.Now())
	if err != nil {
		return "", fmt.Errorf("complete fulfillment: %w", err)
	}
	if !ok {
		return OutcomeAlreadyHandled, nil
	}
	return OutcomeCompleted, nil
}

// pending stores the provider reply and schedules the next status check,
// or flags the order once the checks run out.
func (c *Consumer) pending(ctx context.Context, o orders.Order, checks int, res provider.TopupResult) (Outcome, error) {
	next := checks + 1
	outcome := OutcomePending
	err := c.Tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := c.Orders.MarkFulfillmentPending(ctx, o.OrderID, res.Raw, c.clock.Now())
		if err != nil {
			return fmt.Errorf("store pending reply: %w", err)
		}
		if !ok {
			outcome = OutcomeAlreadyHandled
			return nil
		}
		if next > c.maxPendingChecks {
			outcome = OutcomeReconcile
			return nil
		}
		return c.Jobs.Enqueue(ctx, orders.JobProcessOrder, o.OrderID,
			orders.ProcessOrderPayload{OrderID: o.OrderID, PendingChecks: next}, c.recheckAfter)
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeReconcile {
		c.metrics.ReconcileFlagged.Inc()
		c.log.Error("provider still pending after last check, reconcile manually",
			zap.String("order_id", o.OrderID),
			zap.Int("pending_checks", checks),
		)
	}
	return outcome, nil
}

// compensate fails the order and undoes checkout in one transaction:
// refund (credit or manual flag), stock and offer usage.
func (c *Consumer) compensate(ctx context.Context, o orders.Order, res provider.TopupResult) (Outcome, error) {
	now := c.clock.Now()
	handled := false
	err := c.Tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := c.Orders.FailFulfillment(ctx, o.OrderID, res.Raw, now)
		if err != nil {
			return fmt.Errorf("fail order: %w", err)
		}
		if !ok {
			handled = true
			return nil
		}

		if o.IsGuest() {
			ok, err = c.Orders.TransitionRefund(ctx, o.OrderID, orders.RefundNone, orders.RefundProcessing, true, now)
		} else {
			ok, err = c.Orders.TransitionRefund(ctx, o.OrderID, orders.RefundNone, orders.RefundCompleted, false, now)
		}
		if err != nil {
			return fmt.Errorf("transition refund: %w", err)
		}
		if !ok {
			return fmt.Errorf("refund for %s is no longer NONE", o.OrderID)
		}
		if !o.IsGuest() {
			if _, err := c.Balances.Credit(ctx, o.UserID, o.RefundAmount(), orders.RefTypeOrder, o.OrderID, now); err != nil {
				return fmt.Errorf("credit refund: %w", err)
			}
		}

		if err := c.Products.RestoreStock(ctx, o.ProductID); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
		for _, id := range o.OfferIDs {
			if err := c.Offers.DecrementUsage(ctx, id); err != nil {
				return fmt.Errorf("release offer %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		c.metrics.CompensationFails.Inc()
		c.log.Error("compensation aborted, reconcile manually",
			zap.String("order_id", o.OrderID),
			zap.String("user_id", o.UserID),
			zap.Int64("refund_amount", o.RefundAmount()),
			zap.Error(err),
		)
		return "", orders.Wrap(orders.ErrCompensation, err)
	}
	if handled {
		return OutcomeAlreadyHandled, nil
	}
	if o.IsGuest() {
		c.metrics.ManualRefunds.Inc()
		c.log.Warn("guest order failed, manual refund required", zap.String("order_id", o.OrderID), zap.Int64("refund_amount", o.RefundAmount()))
	} else {
		c.metrics.RefundsCredited.Inc()
	}
	return OutcomeFailed, nil
}

func (c *Consumer) count(providerName string, outcome Outcome) {
	c.metrics.FulfillmentTotal.WithLabelValues(providerName, string(outcome)).Inc()
}

func (c *Consumer) invalidate(ctx context.Context, orderID string) {
	if c.Cache == nil {
		return
	}
	if err := c.Cache.Invalidate(ctx, orderID); err != nil {
		c.log.Warn("invalidate order status cache", zap.String("order_id", orderID), zap.Error(err))
	}
}
