package middleware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeDesk/internal/domain/models"
	"RegimeDesk/pkg/metrics"
)

type sinkFunc func(ctx context.Context, t *models.PriceTick) error

func (f sinkFunc) Process(ctx context.Context, t *models.PriceTick) error { return f(ctx, t) }

type recordingSink struct {
	mu   sync.Mutex
	got  []*models.PriceTick
	down atomic.Bool
}

func (s *recordingSink) Process(_ context.Context, t *models.PriceTick) error {
	if s.down.Load() {
		return errors.New("feed down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, t)
	return nil
}

func (s *recordingSink) prices() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, 0, len(s.got))
	for _, t := range s.got {
		out = append(out, t.Price)
	}
	return out
}

func TestPipelineFiltersAndThrottles(t *testing.T) {
	sink := &recordingSink{}
	p := NewRealtimePipeline(sink, metrics.Noop{}, WithMaxRPS(1), WithSymbols("QQQ"))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 450, Timestamp: 1}))
	require.NoError(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 451, Timestamp: 2}), "throttled ticks are dropped quietly")
	require.NoError(t, p.Process(ctx, &models.PriceTick{Symbol: "SPY", Price: 500, Timestamp: 2}))
	assert.ErrorIs(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: -1, Timestamp: 3}), ErrInvalidTick)
	assert.ErrorIs(t, p.Process(ctx, nil), ErrInvalidTick)

	assert.Equal(t, []float64{450}, sink.prices())
}

func TestPipelineDropsOutOfOrderTicks(t *testing.T) {
	sink := &recordingSink{}
	p := NewRealtimePipeline(sink, metrics.Noop{}, WithMaxRPS(0))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 450, Timestamp: 10}))
	require.NoError(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 449, Timestamp: 9}))
	require.NoError(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 452, Timestamp: 10}))

	assert.Equal(t, []float64{450, 452}, sink.prices())
}

func TestPipelineHoldsNewestTickPerSymbol(t *testing.T) {
	sink := sinkFunc(func(context.Context, *models.PriceTick) error { return errors.New("down") })
	p := NewRealtimePipeline(sink, metrics.Noop{}, WithMaxRPS(0))
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 450, Timestamp: 1}))
	assert.Error(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 451, Timestamp: 2}))
	assert.Error(t, p.Process(ctx, &models.PriceTick{Symbol: "SPY", Price: 500, Timestamp: 2}))

	assert.Equal(t, 2, p.Pending())
	assert.Equal(t, 451.0, p.pending["QQQ"].Price)
}

func TestPipelineRetriesHeldTicks(t *testing.T) {
	sink := &recordingSink{}
	sink.down.Store(true)
	p := NewRealtimePipeline(sink, metrics.Noop{}, WithMaxRPS(0), WithRetryInterval(5*time.Millisecond))
	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	assert.Error(t, p.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 450, Timestamp: 1}))
	assert.Equal(t, 1, p.Pending())

	sink.down.Store(false)
	assert.Eventually(t, func() bool { return len(sink.prices()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{450}, sink.prices())
	assert.Zero(t, p.Pending())
}

func TestPipelineStopIsIdempotent(t *testing.T) {
	p := NewRealtimePipeline(&recordingSink{}, metrics.Noop{})
	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
