package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is the producer half, which is all most callers need.
type Publisher interface {
	Publish(ctx context.Context, msgType string, payload interface{}) error
}

// Job handles one message type. A returned error schedules a retry.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

type Config struct {
	Workers    int
	RetryLimit int
	// RetryDelay is the first backoff; each further attempt doubles it up
	// to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// JobTimeout bounds a single Handle call. Zero means no bound.
	JobTimeout time.Duration
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
	LastError string          `json:"last_error,omitempty"`
}

// Decode unmarshals a job payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode %T payload: %w", v, err)
	}
	return v, nil
}

// retryDelay is base * 2^(attempt-1), capped.
func retryDelay(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
