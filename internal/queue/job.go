package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the envelope carried on the job topics. CorrelationID is the order
// id and doubles as the partition key.
type Job struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Version       int             `json:"version"`
	Attempt       int             `json:"attempt"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	AvailableAt   time.Time       `json:"available_at"`
	Producer      string          `json:"producer,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher enqueues a job, optionally delayed. Implementations backed by a
// database write inside the transaction carried by ctx.
type Publisher interface {
	Enqueue(ctx context.Context, name, correlationID string, payload any, delay time.Duration) error
}

// NewJob builds the envelope for a first attempt.
func NewJob(name, correlationID string, payload any, now time.Time, delay time.Duration) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	if delay < 0 {
		delay = 0
	}
	return Job{
		ID:            uuid.NewString(),
		Name:          name,
		Version:       1,
		EnqueuedAt:    now,
		AvailableAt:   now.Add(delay),
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Decode unmarshals the job payload into T.
func Decode[T any](j Job) (T, error) {
	var t T
	if err := json.Unmarshal(j.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", j.Name, err)
	}
	return t, nil
}
