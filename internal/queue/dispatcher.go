package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/metrics"
	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// Handler must return nil only when the job is done and may be acknowledged.
type Handler func(ctx context.Context, job Job) error

// Requeuer schedules another attempt of job after delay.
type Requeuer interface {
	Requeue(ctx context.Context, job Job, delay time.Duration) error
}

// DeadLetter parks a job that will not be retried any more.
type DeadLetter interface {
	DeadLetter(ctx context.Context, job Job, reason error) error
}

type Dispatcher struct {
	handlers    map[string]Handler
	requeue     Requeuer
	dead        DeadLetter
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	log         *zap.Logger
	metrics     *metrics.Metrics
}

type DispatcherOption func(*Dispatcher)

func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithBackoff(base, max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if base > 0 {
			d.backoff = base
		}
		if max > 0 {
			d.maxBackoff = max
		}
	}
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(requeue Requeuer, dead DeadLetter, log *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers:    make(map[string]Handler),
		requeue:     requeue,
		dead:        dead,
		maxAttempts: 5,
		backoff:     2 * time.Second,
		maxBackoff:  5 * time.Minute,
		log:         log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Names lists the registered job names.
func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		out = append(out, n)
	}
	return out
}

// Dispatch runs the handler for job. Handler failures are absorbed by
// requeueing or dead-lettering; the returned error means the job could not
// be handed off and must not be acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	h, ok := d.handlers[job.Name]
	if !ok {
		return d.deadLetter(ctx, job, fmt.Errorf("no handler for job %q", job.Name))
	}

	start := time.Now()
	err := h(ctx, job)
	d.observe(job.Name, err, time.Since(start))
	if err == nil {
		return nil
	}

	log := d.log.With(
		zap.String("job", job.Name),
		zap.String("job_id", job.ID),
		zap.String("order_id", job.CorrelationID),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	)

	if orders.IsPermanent(err) {
		log.Warn("job failed permanently")
		return d.deadLetter(ctx, job, err)
	}
	if job.Attempt+1 >= d.maxAttempts {
		log.Error("job retries exhausted")
		return d.deadLetter(ctx, job, err)
	}

	delay := d.backoffFor(job.Attempt)
	log.Warn("job failed, retrying", zap.Duration("delay", delay))
	next := job
	next.Attempt++
	if rerr := d.requeue.Requeue(ctx, next, delay); rerr != nil {
		return errors.Join(err, fmt.Errorf("requeue: %w", rerr))
	}
	return nil
}

// HandleMessage adapts Dispatch to the Kafka consumer.
func (d *Dispatcher) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var job Job
	if err := json.Unmarshal(m.Value, &job); err != nil {
		d.log.Error("undecodable job message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return d.deadLetter(ctx, Job{Name: "undecodable", Payload: json.RawMessage(quote(m.Value))}, err)
	}
	return d.Dispatch(ctx, job)
}

func (d *Dispatcher) deadLetter(ctx context.Context, job Job, reason error) error {
	if d.metrics != nil {
		d.metrics.JobsDeadLettered.WithLabelValues(job.Name).Inc()
	}
	if err := d.dead.DeadLetter(ctx, job, reason); err != nil {
		return fmt.Errorf("dead-letter %s: %w", job.ID, err)
	}
	return nil
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	delay := d.backoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	return delay
}

func (d *Dispatcher) observe(name string, err error, took time.Duration) {
	if d.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = orders.KindOf(err).String()
	}
	d.metrics.JobsProcessed.WithLabelValues(name, result).Inc()
	d.metrics.JobDuration.WithLabelValues(name).Observe(took.Seconds())
}

func quote(b []byte) []byte {
	out, _ := json.Marshal(string(b))
	return out
}
