package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brokers = []string{"localhost:9092"}

func TestConstructorsNeedBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{}, nil)
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestProducerRejectsUnknownCompression(t *testing.T) {
	_, err := NewProducer(ProducerConfig{Brokers: brokers, Compression: "brotli"}, nil)
	assert.Error(t, err)

	p, err := NewProducer(ProducerConfig{Brokers: brokers, Compression: "none"}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestConsumerDefaults(t *testing.T) {
	c, err := NewConsumer(ConsumerConfig{Brokers: brokers, Workers: 4}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "regimedesk", c.cfg.GroupID)
	assert.Equal(t, 3, c.cfg.RetryMax)
	assert.Equal(t, 2*time.Second, c.cfg.BackoffMax)
	require.Len(t, c.lanes, 4)
	assert.Equal(t, 64, cap(c.lanes[0]))
	assert.Nil(t, c.dlq)
}

func TestConsumerStartNeedsHandler(t *testing.T) {
	c, err := NewConsumer(ConsumerConfig{Brokers: brokers}, nil, nil)
	require.NoError(t, err)
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))
}

func TestLaneForIsStable(t *testing.T) {
	assert.Equal(t, 0, laneFor("quotes", 7, 1))
	for p := 0; p < 32; p++ {
		lane := laneFor("quotes", p, 5)
		assert.GreaterOrEqual(t, lane, 0)
		assert.Less(t, lane, 5)
		assert.Equal(t, lane, laneFor("quotes", p, 5))
	}
	assert.NotEqual(t, laneFor("quotes", 0, 5), laneFor("quotes", 1, 5))
}

func TestBackoffStaysInRange(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(50*time.Millisecond, 2*time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue(map[string]string{"level": "critical"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"critical"}`, string(b))

	b, err = encodeValue("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	_, err = encodeValue(func() {})
	assert.Error(t, err)
}

func TestStaleAfterRejectsOldMessages(t *testing.T) {
	now := time.Date(2025, 3, 7, 20, 45, 0, 0, time.UTC)
	before := StaleAfter(time.Minute, func() time.Time { return now })
	ctx := context.Background()

	err := before(ctx, kafka.Message{Topic: "quotes", Time: now.Add(-2 * time.Minute)})
	assert.ErrorIs(t, err, ErrStale)
	assert.ErrorIs(t, err, ErrSkip)

	assert.NoError(t, before(ctx, kafka.Message{Time: now.Add(-time.Second)}))
	assert.NoError(t, before(ctx, kafka.Message{}))
	assert.NoError(t, StaleAfter(0, time.Now)(ctx, kafka.Message{Time: now.Add(-time.Hour)}))
}

type flakyHandler struct {
	calls int
	err   error
}

func (h *flakyHandler) Topic() string { return "quotes" }

func (h *flakyHandler) Handle(context.Context, []byte) error {
	h.calls++
	return h.err
}

func TestHandleRetriesThenDrops(t *testing.T) {
	c, err := NewConsumer(ConsumerConfig{
		Brokers:    brokers,
		RetryMax:   2,
		BackoffMin: time.Millisecond,
		BackoffMax: time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	h := &flakyHandler{err: errors.New("sink down")}
	c.RegisterHandler(h)

	var afters int
	var dropped error
	c.SetHooks(Hooks{
		After:  func(context.Context, kafka.Message, error) { afters++ },
		OnDrop: func(_ context.Context, _ kafka.Message, err error) { dropped = err },
	})

	c.handle(kafka.Message{Topic: "quotes", Value: []byte("{}")})
	assert.Equal(t, 3, h.calls)
	assert.Equal(t, 3, afters)
	assert.EqualError(t, dropped, "sink down")
}

func TestHandleDoesNotRetrySkippedMessage(t *testing.T) {
	c, err := NewConsumer(ConsumerConfig{Brokers: brokers, RetryMax: 5, BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}, nil, nil)
	require.NoError(t, err)
	h := &flakyHandler{err: fmt.Errorf("%w: malformed quote", ErrSkip)}
	c.RegisterHandler(h)

	var afters int
	var dropped error
	c.SetHooks(Hooks{
		After:  func(context.Context, kafka.Message, error) { afters++ },
		OnDrop: func(_ context.Context, _ kafka.Message, err error) { dropped = err },
	})

	c.handle(kafka.Message{Topic: "quotes", Value: []byte("{")})
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, 1, afters)
	assert.ErrorIs(t, dropped, ErrSkip)
}

func TestHandleSkipsWithoutCallingHandler(t *testing.T) {
	c, err := NewConsumer(ConsumerConfig{Brokers: brokers}, nil, nil)
	require.NoError(t, err)
	h := &flakyHandler{}
	c.RegisterHandler(h)

	var dropped error
	c.SetHooks(Hooks{
		Before: func(context.Context, kafka.Message) error { return ErrStale },
		OnDrop: func(_ context.Context, _ kafka.Message, err error) { dropped = err },
	})

	c.handle(kafka.Message{Topic: "quotes"})
	assert.Zero(t, h.calls)
	assert.ErrorIs(t, dropped, ErrSkip)
}

func TestProducerMetricsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newProducerMetrics(reg)
	b := newProducerMetrics(reg)
	a.observe("t", "gzip", 10, time.Millisecond, nil)
	b.observe("t", "gzip", 5, time.Millisecond, errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(a.msgs.WithLabelValues("t", "gzip", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.msgs.WithLabelValues("t", "gzip", "error")))
	assert.Equal(t, 15.0, testutil.ToFloat64(a.bytes.WithLabelValues("t", "gzip")))

	var none *producerMetrics
	assert.NotPanics(t, func() { none.observe("t", "gzip", 1, 0, nil) })
}
