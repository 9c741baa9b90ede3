package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-prepaid-orders/internal/clock"
	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

// JobOutbox stores jobs next to the business rows that produced them.
// It implements queue.Publisher, queue.Requeuer and queue.RelayStore.
type JobOutbox struct {
	DB       *pgxpool.Pool
	Clock    clock.Clock
	Producer string
}

func (o *JobOutbox) Enqueue(ctx context.Context, name, correlationID string, payload any, delay time.Duration) error {
	job, err := queue.NewJob(name, correlationID, payload, o.Clock.Now(), delay)
	if err != nil {
		return err
	}
	job.Producer = o.Producer
	return o.insert(ctx, job)
}

func (o *JobOutbox) Requeue(ctx context.Context, job queue.Job, delay time.Duration) error {
	job.AvailableAt = o.Clock.Now().Add(delay)
	return o.insert(ctx, job)
}

func (o *JobOutbox) insert(ctx context.Context, job queue.Job) error {
	env, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = conn(ctx, o.DB).Exec(ctx, `
		INSERT INTO job_outbox(job_id, name, correlation_id, envelope, available_at)
		VALUES ($1,$2,$3,$4::jsonb,$5)`,
		job.ID, job.Name, job.CorrelationID, string(env), job.AvailableAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.Name, err)
	}
	return nil
}

// ClaimDue locks up to limit due rows, skipping rows another relay holds,
// and publishes them inside the same transaction.
func (o *JobOutbox) ClaimDue(ctx context.Context, now time.Time, limit int, publish func(ctx context.Context, job queue.Job) error) (int, error) {
	sent := 0
	err := withTx(ctx, o.DB, func(ctx context.Context) error {
		q := conn(ctx, o.DB)
		rows, err := q.Query(ctx, `
			SELECT id, envelope::text
			FROM job_outbox
			WHERE published_at IS NULL AND available_at <= $1
			ORDER BY available_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, now, limit)
		if err != nil {
			return fmt.Errorf("claim due jobs: %w", err)
		}

		type claimed struct {
			rowID int64
			job   queue.Job
		}
		var batch []claimed
		for rows.Next() {
			var (
				c   claimed
				env string
			)
			if err := rows.Scan(&c.rowID, &env); err != nil {
				rows.Close()
				return err
			}
			if err := json.Unmarshal([]byte(env), &c.job); err != nil {
				rows.Close()
				return fmt.Errorf("decode outbox row %d: %w", c.rowID, err)
			}
			batch = append(batch, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range batch {
			if perr := publish(ctx, c.job); perr != nil {
				if _, err := q.Exec(ctx, `
					UPDATE job_outbox SET publish_attempts = publish_attempts + 1, last_error=$2
					WHERE id=$1`, c.rowID, perr.Error()); err != nil {
					return err
				}
				continue
			}
			if _, err := q.Exec(ctx, `UPDATE job_outbox SET published_at=$2 WHERE id=$1`, c.rowID, now); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}
