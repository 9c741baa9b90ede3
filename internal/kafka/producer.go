package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes synchronously so the outbox relay only marks a job
// published once every in-sync replica has it.
type Producer struct {
	w       Writer
	service string
	log     *zap.Logger
}

func NewProducer(brokers []string, service string, log *zap.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, service, log)
}

func NewProducerWithWriter(w Writer, service string, log *zap.Logger) *Producer {
	return &Producer{w: w, service: service, log: log}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: HeaderProducer, Value: []byte(p.service)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

// DeadLetter parks job on the dead-letter topic together with the reason.
func (p *Producer) DeadLetter(ctx context.Context, job queue.Job, reason error) error {
	value, err := EncodeDeadLetter(job, reason, p.service, time.Now())
	if err != nil {
		return err
	}
	p.log.Warn("job dead-lettered",
		zap.String("job", job.Name),
		zap.String("job_id", job.ID),
		zap.String("order_id", job.CorrelationID),
		zap.Int("attempt", job.Attempt),
		zap.NamedError("reason", reason),
	)
	return p.Publish(ctx, queue.TopicDeadLetter, queue.PartitionKey(job.CorrelationID), value)
}

func (p *Producer) Close() error { return p.w.Close() }
