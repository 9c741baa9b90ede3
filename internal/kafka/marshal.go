package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-prepaid-orders/internal/queue"
)

const HeaderProducer = "x-producer"

// DeadLetterRecord is the value written to the dead-letter topic.
type DeadLetterRecord struct {
	Job      queue.Job `json:"job"`
	Reason   string    `json:"reason"`
	Producer string    `json:"producer,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

func EncodeDeadLetter(job queue.Job, reason error, producer string, at time.Time) ([]byte, error) {
	rec := DeadLetterRecord{Job: job, Producer: producer, FailedAt: at.UTC()}
	if reason != nil {
		rec.Reason = reason.Error()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode dead letter %s: %w", job.ID, err)
	}
	return b, nil
}

func DecodeDeadLetter(b []byte) (DeadLetterRecord, error) {
	var rec DeadLetterRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("decode dead letter: %w", err)
	}
	return rec, nil
}
