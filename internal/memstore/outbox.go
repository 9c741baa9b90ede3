package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

func (s *Store) Enqueue(ctx context.Context, name, correlationID string, payload any, delay time.Duration) error {
	job, err := queue.NewJob(name, correlationID, payload, s.clock.Now(), delay)
	if err != nil {
		return err
	}
	defer s.lock(ctx)()
	s.st.outbox = append(s.st.outbox, outboxRow{job: job})
	return nil
}

func (s *Store) Requeue(ctx context.Context, job queue.Job, delay time.Duration) error {
	job.AvailableAt = s.clock.Now().Add(delay)
	defer s.lock(ctx)()
	s.st.outbox = append(s.st.outbox, outboxRow{job: job})
	return nil
}

// ClaimDue publishes due jobs outside the store lock so publish may call
// back into the store.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, publish func(ctx context.Context, job queue.Job) error) (int, error) {
	due := s.claim(now, limit)
	sent := 0
	for _, idx := range due {
		s.mu.Lock()
		job := s.st.outbox[idx].job
		s.mu.Unlock()

		err := publish(ctx, job)

		s.mu.Lock()
		if err != nil {
			s.st.outbox[idx].attempts++
			s.st.outbox[idx].lastError = err.Error()
		} else {
			s.st.outbox[idx].published = true
			sent++
		}
		s.mu.Unlock()
	}
	return sent, nil
}

func (s *Store) claim(now time.Time, limit int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []int
	for i, row := range s.st.outbox {
		if !row.published && !row.job.AvailableAt.After(now) {
			due = append(due, i)
		}
	}
	sort.SliceStable(due, func(a, b int) bool {
		return s.st.outbox[due[a]].job.AvailableAt.Before(s.st.outbox[due[b]].job.AvailableAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}

// Jobs lists every job ever enqueued, published or not.
func (s *Store) Jobs() []queue.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]queue.Job, 0, len(s.st.outbox))
	for _, row := range s.st.outbox {
		out = append(out, row.job)
	}
	return out
}

// PendingJobs lists enqueued jobs not yet published, due or not.
func (s *Store) PendingJobs() []queue.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []queue.Job
	for _, row := range s.st.outbox {
		if !row.published {
			out = append(out, row.job)
		}
	}
	return out
}
