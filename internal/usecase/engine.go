package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	domsvc "RegimeDesk/internal/domain/service"
	"RegimeDesk/pkg/config"
	"RegimeDesk/pkg/logger"
)

// EngineConfig is the slice of configuration the engine reads.
type EngineConfig struct {
	AccountID         string
	Symbol            string
	DefaultMode       models.CycleMode
	AccountLimit      decimal.Decimal // zero uses account equity
	MaxSnapshotAge    time.Duration
	RecommendationTTL time.Duration
	GatewayTimeout    time.Duration
	RequireMarketOpen bool
	ReconcileOnCycle  bool
}

func NewEngineConfig(cfg *config.Config) EngineConfig {
	return EngineConfig{
		AccountID:         cfg.Account.ID,
		Symbol:            cfg.Account.Symbol,
		DefaultMode:       models.CycleMode(cfg.Execution.Mode),
		AccountLimit:      decimal.NewFromFloat(cfg.Account.Limit),
		MaxSnapshotAge:    cfg.MarketData.MaxSnapshotAge,
		RecommendationTTL: cfg.Workflow.RecommendationTTL,
		GatewayTimeout:    cfg.Execution.Timeout,
		RequireMarketOpen: cfg.Execution.RequireMarketOpen,
		ReconcileOnCycle:  cfg.Execution.ReconcileOnCycle,
	}
}

// SessionClock tells whether the options market is open.
type SessionClock interface {
	IsRegularSession(t time.Time) bool
}

// Engine runs the weekly cycle and the recommendation life cycle for one
// account. Every mutating entry point holds the account lock.
type Engine struct {
	cfg        EngineConfig
	market     drepo.MarketData
	gateway    drepo.ExecutionGateway
	store      drepo.Store
	locker     drepo.Locker
	notifier   drepo.Notifier
	journal    drepo.Journal
	metrics    drepo.Metrics
	risk       domsvc.RiskEvaluator
	classifier domsvc.RegimeClassifier
	planner    domsvc.ActionPlanner
	session    SessionClock
	exec       *Executor
	log        *logger.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine wires the cycle engine. All collaborators are required; the
// executor is built here from gateway.
func NewEngine(
	cfg EngineConfig,
	market drepo.MarketData,
	gateway drepo.ExecutionGateway,
	store drepo.Store,
	locker drepo.Locker,
	notifier drepo.Notifier,
	journal drepo.Journal,
	metrics drepo.Metrics,
	risk domsvc.RiskEvaluator,
	classifier domsvc.RegimeClassifier,
	planner domsvc.ActionPlanner,
	session SessionClock,
	log *logger.Logger,
) *Engine {
	e := &Engine{
		cfg:        cfg,
		market:     market,
		gateway:    gateway,
		store:      store,
		locker:     locker,
		notifier:   notifier,
		journal:    journal,
		metrics:    metrics,
		risk:       risk,
		classifier: classifier,
		planner:    planner,
		session:    session,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	e.exec = NewExecutor(gateway, cfg.GatewayTimeout, metrics, log, func() string { return e.newID() })
	return e
}

func (e *Engine) lockKey() string { return "regime:lock:" + e.cfg.AccountID }

func (e *Engine) lock(ctx context.Context) (func(), error) {
	release, err := e.locker.Acquire(ctx, e.lockKey())
	if err != nil {
		return nil, err
	}
	return release, nil
}

// snapshot fetches and vets the market snapshot. Every failure is DataUnavailable.
func (e *Engine) snapshot(ctx context.Context, now time.Time) (models.MarketSnapshot, error) {
	const op = "usecase.snapshot"
	start := time.Now()
	snap, err := e.market.Snapshot(ctx)
	e.metrics.RecordLatency("snapshot", time.Since(start).Seconds())
	if err != nil {
		return snap, models.NewError(models.ErrDataUnavailable, op, err)
	}
	if err := snap.Validate(); err != nil {
		return snap, models.NewError(models.ErrDataUnavailable, op, err)
	}
	if age := snap.Age(now); age > e.cfg.MaxSnapshotAge {
		return snap, models.Errorf(models.ErrDataUnavailable, op, "snapshot is %s old, limit %s", age.Round(time.Second), e.cfg.MaxSnapshotAge)
	}
	if snap.Symbol == "" {
		snap.Symbol = e.cfg.Symbol
	}
	e.metrics.RecordLastPrice(snap.Symbol, snap.Price.InexactFloat64())
	return snap, nil
}

// accountLimit returns the capital base for the deployed cap together with
// the gateway's account summary.
func (e *Engine) accountLimit(ctx context.Context) (decimal.Decimal, models.AccountSummary, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	sum, err := e.gateway.AccountSummary(cctx)
	e.metrics.RecordGateway("account", time.Since(start).Seconds(), err)
	if err != nil {
		return decimal.Zero, sum, models.NewError(models.ErrDataUnavailable, "usecase.accountLimit", err)
	}
	limit := e.cfg.AccountLimit
	if !limit.IsPositive() {
		limit = sum.Equity
	}
	return limit, sum, nil
}

func (e *Engine) notify(ctx context.Context, level models.NotifyLevel, msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["account_id"] = e.cfg.AccountID
	e.notifier.Notify(ctx, level, msg, fields)
}

// CurrentRegime returns the active regime record.
func (e *Engine) CurrentRegime(ctx context.Context) (models.RegimeRecord, error) {
	r, err := e.store.ActiveRegime(ctx)
	if err != nil {
		return models.RegimeRecord{}, err
	}
	if r == nil {
		return models.RegimeRecord{}, models.Errorf(models.ErrNotFound, "usecase.CurrentRegime", "no regime recorded yet")
	}
	return *r, nil
}

// RegimeHistory lists regime records, newest first.
func (e *Engine) RegimeHistory(ctx context.Context, limit int) ([]models.RegimeRecord, error) {
	return e.store.RegimeHistory(ctx, limit)
}

// Positions lists positions, optionally filtered by status.
func (e *Engine) Positions(ctx context.Context, status models.PositionStatus) ([]models.Position, error) {
	return e.store.ListPositions(ctx, drepo.PositionFilter{Status: status})
}

// State returns the persisted account state.
func (e *Engine) State(ctx context.Context) (models.AccountState, error) {
	return e.store.LoadState(ctx)
}
