package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 10 * time.Second
)

// Handler must return nil only when the message may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r            Reader
	workers      int
	retryBackoff time.Duration
	log          *zap.Logger
}

// NewConsumer joins group on all of topics.
func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return NewConsumerWithReader(r, workers, log)
}

func NewConsumerWithReader(r Reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, retryBackoff: defaultRetryBackoff, log: log}
}

type partitionKey struct {
	topic     string
	partition int
}

// Start fetches until ctx is done. Every partition is owned by one worker,
// so its messages are handled and committed in offset order. A failing
// message is retried in place and holds back the rest of its partition.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	done := make(chan struct{})
	for i := range queues {
		queues[i] = make(chan kafka.Message, 4)
		go func(in <-chan kafka.Message) {
			defer func() { done <- struct{}{} }()
			for m := range in {
				if !c.handle(ctx, h, m) {
					return
				}
			}
		}(queues[i])
	}

	stop := func(err error) error {
		for _, q := range queues {
			close(q)
		}
		for range queues {
			<-done
		}
		return err
	}

	owner := make(map[partitionKey]int)
	next := 0
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stop(nil)
			}
			return stop(err)
		}
		k := partitionKey{topic: m.Topic, partition: m.Partition}
		w, ok := owner[k]
		if !ok {
			w = next % c.workers
			owner[k] = w
			next++
		}
		select {
		case queues[w] <- m:
		case <-ctx.Done():
			return stop(nil)
		}
	}
}

// handle runs h until it succeeds and then commits m. It reports false
// when ctx ended first; m stays uncommitted and is redelivered.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	backoff := c.retryBackoff
	for {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.log.Error("handler failed, retrying",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
	return true
}
