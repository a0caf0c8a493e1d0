package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrSkip marks a message that was deliberately not handled. It is committed
// without retries and never goes to the DLQ.
var ErrSkip = errors.New("kafka: message skipped")

var ErrStale = fmt.Errorf("%w: stale", ErrSkip)

// Hooks observe message handling. Nil funcs are skipped.
type Hooks struct {
	// Before runs ahead of the first attempt; an error drops the message
	// without calling the handler.
	Before func(ctx context.Context, m kafka.Message) error
	After  func(ctx context.Context, m kafka.Message, err error)
	// OnDrop runs once for every message that was not handled successfully.
	OnDrop func(ctx context.Context, m kafka.Message, err error)
}

func (h Hooks) before(ctx context.Context, m kafka.Message) error {
	if h.Before == nil {
		return nil
	}
	return h.Before(ctx, m)
}

func (h Hooks) after(ctx context.Context, m kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, m, err)
	}
}

func (h Hooks) drop(ctx context.Context, m kafka.Message, err error) {
	if h.OnDrop != nil {
		h.OnDrop(ctx, m, err)
	}
}

// StaleAfter rejects messages older than maxAge so a consumer catching up
// on a backlog does not replay old quotes. maxAge <= 0 disables it.
func StaleAfter(maxAge time.Duration, now func() time.Time) func(context.Context, kafka.Message) error {
	return func(_ context.Context, m kafka.Message) error {
		if maxAge <= 0 || m.Time.IsZero() {
			return nil
		}
		if age := now().Sub(m.Time); age > maxAge {
			return fmt.Errorf("%w: %s/%d@%d is %s old", ErrStale, m.Topic, m.Partition, m.Offset, age.Truncate(time.Second))
		}
		return nil
	}
}
