package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"RegimeDesk/internal/domain/models"
	domrepo "RegimeDesk/internal/domain/repository"
)

// ErrInvalidTick marks ticks rejected by validation; retrying them is pointless.
var ErrInvalidTick = errors.New("invalid tick")

// TickSink is the downstream the pipeline forwards accepted ticks to.
type TickSink interface {
	Process(ctx context.Context, t *models.PriceTick) error
}

// RealtimePipeline sits between a price stream and the price feed. It
// validates, orders and throttles ticks per symbol. While the sink fails it
// holds the newest tick of each symbol and retries it in the background;
// older prices are worthless once a newer one exists.
type RealtimePipeline struct {
	sink    TickSink
	metrics domrepo.Metrics
	maxRPS  int
	retry   time.Duration
	symbols map[string]bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastTS   map[string]int64
	pending  map[string]*models.PriceTick
	stop     context.CancelFunc
	done     chan struct{}
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS caps accepted ticks per second per symbol. Zero disables the cap.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithRetryInterval sets how often held ticks are retried.
func WithRetryInterval(d time.Duration) PipelineOption {
	return func(p *RealtimePipeline) {
		if d > 0 {
			p.retry = d
		}
	}
}

// WithSymbols drops ticks for any other symbol.
func WithSymbols(symbols ...string) PipelineOption {
	return func(p *RealtimePipeline) {
		for _, s := range symbols {
			p.symbols[s] = true
		}
	}
}

func NewRealtimePipeline(sink TickSink, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   5,
		retry:    250 * time.Millisecond,
		symbols:  make(map[string]bool),
		limiters: make(map[string]*rate.Limiter),
		lastTS:   make(map[string]int64),
		pending:  make(map[string]*models.PriceTick),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the retry loop for held ticks. It is a no-op if running.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	ctx, p.stop = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.retryLoop(ctx, p.done)
}

// Stop ends the retry loop and waits for it. Held ticks are discarded.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.pending = make(map[string]*models.PriceTick)
	p.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

// Process validates, throttles and forwards t. Filtered, out-of-order and
// throttled ticks are dropped without error; a sink failure holds the tick
// and is returned.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.PriceTick) error {
	start := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if len(p.symbols) > 0 && !p.symbols[t.Symbol] {
		return nil
	}
	if !p.admit(t, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}
	if err := p.sink.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.hold(t)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// Pending reports how many symbols have a held tick.
func (p *RealtimePipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func validateTick(t *models.PriceTick) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil", ErrInvalidTick)
	case t.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidTick)
	case t.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp %d", ErrInvalidTick, t.Timestamp)
	case t.Price <= 0 || t.Volume < 0:
		return fmt.Errorf("%w: price %v volume %v", ErrInvalidTick, t.Price, t.Volume)
	}
	return nil
}

// admit rejects ticks older than the last admitted one for the symbol and
// applies the per-symbol rate.
func (p *RealtimePipeline) admit(t *models.PriceTick, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.Timestamp < p.lastTS[t.Symbol] {
		return false
	}
	if p.maxRPS > 0 {
		lim, ok := p.limiters[t.Symbol]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(p.maxRPS), 1)
			p.limiters[t.Symbol] = lim
		}
		if !lim.AllowN(now, 1) {
			return false
		}
	}
	p.lastTS[t.Symbol] = t.Timestamp
	return true
}

func (p *RealtimePipeline) hold(t *models.PriceTick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.pending[t.Symbol]; ok && cur.Timestamp > t.Timestamp {
		return
	}
	p.pending[t.Symbol] = t
}

func (p *RealtimePipeline) retryLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.retry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// flush retries every held tick once. A tick that fails again stays held
// unless a newer one arrived meanwhile.
func (p *RealtimePipeline) flush(ctx context.Context) {
	p.mu.Lock()
	held := p.pending
	p.pending = make(map[string]*models.PriceTick, len(held))
	p.mu.Unlock()

	for _, t := range held {
		if err := p.sink.Process(ctx, t); err != nil {
			p.metrics.RecordError("pipeline_flush")
			p.hold(t)
		}
	}
}
