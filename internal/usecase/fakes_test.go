package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/internal/repository"
	"RegimeDesk/internal/service/lock"
	"RegimeDesk/internal/services/planner"
	"RegimeDesk/internal/services/regime"
	"RegimeDesk/internal/services/risk"
	"RegimeDesk/pkg/cache"
	"RegimeDesk/pkg/config"
	"RegimeDesk/pkg/logger"
	"RegimeDesk/pkg/metrics"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Friday 15:45 New York; the weekly expiration is the following Friday.
var (
	evalAt = time.Date(2025, 3, 7, 20, 45, 0, 0, time.UTC)
	weekly = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
)

type fakeMarket struct {
	mu    sync.Mutex
	snap  models.MarketSnapshot
	err   error
	puts  []models.OptionQuote
	calls []models.OptionQuote
}

func newFakeMarket(price string) *fakeMarket {
	return &fakeMarket{snap: models.MarketSnapshot{
		Symbol: "QQQ", Price: d(price), VIX: d("18"), ImpliedVolATM7d: d("0.2"),
		CapturedAt: evalAt, Source: models.SourceMock,
	}}
}

func (m *fakeMarket) Snapshot(_ context.Context) (models.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.err
}

func (m *fakeMarket) OptionChain(_ context.Context, _ string, _ time.Time, right models.OptionRight) ([]models.OptionQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if right == models.RightPut {
		return m.puts, nil
	}
	return m.calls, nil
}

func quote(right models.OptionRight, strike, mid, delta string, exp time.Time) models.OptionQuote {
	q := d(mid)
	return models.OptionQuote{
		Symbol: "QQQ", Expiration: exp, Strike: d(strike), Right: right,
		Bid: q.Sub(d("0.02")), Ask: q.Add(d("0.02")), Delta: d(delta),
	}
}

func putChain() []models.OptionQuote {
	return []models.OptionQuote{
		quote(models.RightPut, "435", "0.10", "-0.02", weekly),
		quote(models.RightPut, "440", "0.15", "-0.03", weekly),
		quote(models.RightPut, "450", "0.40", "-0.06", weekly),
		quote(models.RightPut, "460", "0.60", "-0.09", weekly),
		quote(models.RightPut, "470", "0.80", "-0.14", weekly),
	}
}

// callChain quotes a deep ITM anchor strike and the 460 recovery strike.
func callChain() []models.OptionQuote {
	return []models.OptionQuote{
		quote(models.RightCall, "410", "46", "0.95", weekly),
		quote(models.RightCall, "460", "1.00", "0.30", weekly),
	}
}

// fakeGateway fills every order at its limit unless fail says otherwise.
type fakeGateway struct {
	mu       sync.Mutex
	orders   []models.OrderRequest
	fail     func(models.OrderRequest) error
	equity   decimal.Decimal
	held     []models.Position
	heldErr  error
	sequence int
}

func newFakeGateway() *fakeGateway { return &fakeGateway{equity: d("100000")} }

func (g *fakeGateway) SubmitOrder(_ context.Context, req models.OrderRequest) (models.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	if g.fail != nil {
		if err := g.fail(req); err != nil {
			return models.OrderResult{}, err
		}
	}
	g.sequence++
	return models.OrderResult{OrderID: fmt.Sprintf("o-%d", g.sequence), Status: models.OrderFilled, FillPrice: req.LimitPrice}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _ string) error { return nil }

func (g *fakeGateway) GetPositions(_ context.Context) ([]models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held, g.heldErr
}

func (g *fakeGateway) AccountSummary(_ context.Context) (models.AccountSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return models.AccountSummary{Equity: g.equity, BuyingPower: g.equity, AsOf: evalAt}, nil
}

func (g *fakeGateway) actions() []models.ActionKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.ActionKind, 0, len(g.orders))
	for _, o := range g.orders {
		out = append(out, o.Action)
	}
	return out
}

var errBroker = errors.New("broker rejected")

type notice struct {
	level   models.NotifyLevel
	message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notice
}

func (n *recordingNotifier) Notify(_ context.Context, level models.NotifyLevel, message string, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notice{level, message})
}

func (n *recordingNotifier) levels() []models.NotifyLevel {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotifyLevel, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.level)
	}
	return out
}

type recordingJournal struct {
	mu     sync.Mutex
	cycles []models.CycleResult
}

func (j *recordingJournal) RecordCycle(_ context.Context, res models.CycleResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cycles = append(j.cycles, res)
	return nil
}

type harness struct {
	engine   *Engine
	store    *repository.MemoryStore
	market   *fakeMarket
	gateway  *fakeGateway
	notifier *recordingNotifier
	journal  *recordingJournal
	clock    time.Time
}

func newHarness(t *testing.T, price string) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Planner.Contracts = 1

	cal, err := planner.NewCalendar(nil)
	require.NoError(t, err)
	ev := risk.NewEvaluator(cfg.Risk)

	h := &harness{
		store:    repository.NewMemoryStore("acct"),
		market:   newFakeMarket(price),
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
		journal:  &recordingJournal{},
		clock:    evalAt,
	}
	ec := EngineConfig{
		AccountID:         "acct",
		Symbol:            "QQQ",
		DefaultMode:       models.ModeApproval,
		AccountLimit:      d("100000"),
		MaxSnapshotAge:    15 * time.Minute,
		RecommendationTTL: 144 * time.Hour,
		GatewayTimeout:    time.Second,
	}
	locker := lock.NewCacheLocker(cache.NewMemoryCache(), time.Minute, 100*time.Millisecond, 5*time.Millisecond, logger.NewNop())
	h.engine = NewEngine(ec, h.market, h.gateway, h.store, locker, h.notifier, h.journal, metrics.Noop{},
		ev, regime.NewClassifier(cfg.Planner.RequiredCleanWeeks), planner.NewPlanner(cfg.Planner, "QQQ", ev, cal), nil, logger.NewNop())
	h.engine.now = func() time.Time { return h.clock }
	return h
}

// seed installs an active regime, open positions and a state directly.
func (h *harness) seed(t *testing.T, rt models.RegimeType, state models.AccountState, positions ...models.Position) models.RegimeRecord {
	t.Helper()
	rec := models.RegimeRecord{ID: "seed-" + string(rt), Type: rt, StartedAt: evalAt.Add(-7 * 24 * time.Hour), IsActive: true}
	if rt == models.RegimeRecoveryMode || rt == models.RegimeRecoveryComplete {
		rec.RecoveryStrike = models.Dec(d("460"))
	}
	state.Initialized = true
	require.NoError(t, h.store.Commit(context.Background(), models.Changeset{
		Transitions: []models.RegimeTransition{{Opened: rec, Reason: "seed"}},
		Positions:   positions,
		State:       &state,
	}))
	return rec
}

func (h *harness) open(t *testing.T) []models.Position {
	t.Helper()
	ps, err := h.store.ListPositions(context.Background(), drepo.PositionFilter{Status: models.PositionOpen})
	require.NoError(t, err)
	return ps
}

func spread(id string, exp time.Time) models.Position {
	return models.Position{
		ID: id, TradeType: models.TradePutCreditSpread, Symbol: "QQQ",
		ShortStrike: models.Dec(d("460")), LongStrike: models.Dec(d("435")), Contracts: 1,
		PremiumReceived: models.Dec(d("50")), MaxRisk: models.Dec(d("2450")),
		Status: models.PositionOpen, OpenedAt: evalAt.Add(-7 * 24 * time.Hour), Expiration: models.TimePtr(exp),
	}
}

func anchor(id string) models.Position {
	return models.Position{
		ID: id, TradeType: models.TradeAnchorCall, Symbol: "QQQ",
		LongStrike: models.Dec(d("410")), Contracts: 1,
		PremiumPaid: models.Dec(d("4600")), MaxRisk: models.Dec(d("4600")),
		Status: models.PositionOpen, OpenedAt: evalAt.Add(-7 * 24 * time.Hour),
		Expiration: models.TimePtr(time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)),
	}
}

func coveredCall(id string) models.Position {
	return models.Position{
		ID: id, TradeType: models.TradeCoveredCall, Symbol: "QQQ",
		ShortStrike: models.Dec(d("460")), Contracts: 1, PremiumReceived: models.Dec(d("100")),
		Status: models.PositionOpen, OpenedAt: evalAt.Add(-24 * time.Hour), Expiration: models.TimePtr(weekly),
	}
}
