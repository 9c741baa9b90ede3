package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
)

// RelayStore hands out due outbox jobs. publish is called for each claimed
// job inside the store's transaction; a nil return marks the job published.
type RelayStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, publish func(ctx context.Context, job Job) error) (int, error)
}

// Sink is the transport the relay writes to.
type Sink interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Relay moves due jobs from the outbox to their topics.
type Relay struct {
	store     RelayStore
	sink      Sink
	clock     clock.Clock
	log       *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

func NewRelay(store RelayStore, sink Sink, clk clock.Clock, log *zap.Logger, batchSize int, interval time.Duration) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Relay{
		store:     store,
		sink:      sink,
		clock:     clk,
		log:       log,
		batchSize: batchSize,
		interval:  interval,
		tracer:    otel.Tracer("queue/relay"),
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch", r.batchSize))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopping")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error("outbox relay batch failed", zap.Error(err))
			}
		}
	}
}

// RunOnce publishes one batch of due jobs and reports how many went out.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Relay.RunOnce")
	defer span.End()

	n, err := r.store.ClaimDue(ctx, r.clock.Now(), r.batchSize, r.publish)
	span.SetAttributes(attribute.Int("published", n))
	if err != nil {
		span.RecordError(err)
		return n, err
	}
	if n > 0 {
		r.log.Debug("outbox jobs published", zap.Int("count", n))
	}
	return n, nil
}

func (r *Relay) publish(ctx context.Context, job Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := r.sink.Publish(ctx, TopicFor(job.Name), PartitionKey(job.CorrelationID), value); err != nil {
		r.log.Warn("publish job failed", zap.String("job", job.Name), zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	return nil
}
