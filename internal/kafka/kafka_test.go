package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, "prepaid-worker", zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), "prepaid.jobs.process-order", []byte("PP1"), []byte(`{}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "prepaid.jobs.process-order", w.msgs[0].Topic)
	assert.Equal(t, []byte("PP1"), w.msgs[0].Key)
	assert.Equal(t, HeaderProducer, w.msgs[0].Headers[0].Key)

	w.err = errors.New("leader not available")
	err := p.Publish(context.Background(), "t", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestProducer_DeadLetter(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, "prepaid-worker", zap.NewNop())

	job, err := queue.NewJob(orders.JobProcessOrder, "PP1", orders.ProcessOrderPayload{OrderID: "PP1"}, time.Now(), 0)
	require.NoError(t, err)
	require.NoError(t, p.DeadLetter(context.Background(), job, orders.ErrBadJobPayload))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, queue.TopicDeadLetter, w.msgs[0].Topic)
	rec, err := DecodeDeadLetter(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, job.ID, rec.Job.ID)
	assert.Equal(t, "prepaid-worker", rec.Producer)
	assert.Contains(t, rec.Reason, "job payload cannot be decoded")
}

type memReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *memReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *memReader) commits(partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.committed {
		if m.Partition == partition {
			out = append(out, m.Offset)
		}
	}
	return out
}

func newTestConsumer(r Reader, workers int) *Consumer {
	c := NewConsumerWithReader(r, workers, zap.NewNop())
	c.retryBackoff = time.Millisecond
	return c
}

func TestConsumer_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := &memReader{pending: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newTestConsumer(r, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []int64
	attempts := 0
	err := c.Start(ctx, func(_ context.Context, m kafka.Message) error {
		if m.Offset == 2 {
			attempts++
			if attempts < 3 {
				return errors.New("requeue failed")
			}
		}
		handled = append(handled, m.Offset)
		if m.Offset == 3 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int64{1, 2, 3}, handled)
	assert.Equal(t, []int64{1, 2, 3}, r.commits(0))
	assert.True(t, r.closed)
}

func TestConsumer_NeverCommitsPastUnhandledOffset(t *testing.T) {
	r := &memReader{pending: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newTestConsumer(r, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []int64
	attempts := 0
	err := c.Start(ctx, func(_ context.Context, m kafka.Message) error {
		seen = append(seen, m.Offset)
		if m.Offset == 2 {
			if attempts++; attempts == 3 {
				cancel()
			}
			return errors.New("dead letter unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, r.commits(0))
	assert.NotContains(t, seen, int64(3))
}

func TestConsumer_PartitionsProgressIndependently(t *testing.T) {
	r := &memReader{pending: []kafka.Message{
		{Partition: 0, Offset: 1},
		{Partition: 0, Offset: 2},
		{Partition: 1, Offset: 1},
	}}
	c := newTestConsumer(r, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	var mu sync.Mutex
	var order []int64
	result := make(chan error, 1)
	go func() {
		result <- c.Start(ctx, func(ctx context.Context, m kafka.Message) error {
			if m.Partition == 0 && m.Offset == 1 {
				select {
				case <-release:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if m.Partition == 0 {
				mu.Lock()
				order = append(order, m.Offset)
				mu.Unlock()
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits(1)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, r.commits(0), "offset 2 must wait for offset 1 on the same partition")

	close(release)
	require.Eventually(t, func() bool { return len(r.commits(0)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2}, r.commits(0))

	cancel()
	require.NoError(t, <-result)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2}, order)
}
