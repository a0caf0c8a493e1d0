package repository

import (
	"context"
	"time"

	"RegimeDesk/internal/domain/models"
)

// MarketData supplies snapshots and option chains. It never prices options itself.
type MarketData interface {
	Snapshot(ctx context.Context) (models.MarketSnapshot, error)
	OptionChain(ctx context.Context, symbol string, expiration time.Time, right models.OptionRight) ([]models.OptionQuote, error)
}

// PriceStream is a streaming last-trade source feeding the live price feed.
type PriceStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.PriceTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// ExecutionGateway routes orders to the broker. Every call may block on I/O.
type ExecutionGateway interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPositions(ctx context.Context) ([]models.Position, error)
	AccountSummary(ctx context.Context) (models.AccountSummary, error)
}

// PositionFilter narrows ListPositions. Zero value lists everything.
type PositionFilter struct {
	Status    models.PositionStatus
	TradeType models.TradeType
}

// Store persists regimes, positions, recommendations and account state.
// Commit applies a changeset atomically and enforces the unique active regime.
type Store interface {
	// ActiveRegime returns nil when the account has no history yet.
	ActiveRegime(ctx context.Context) (*models.RegimeRecord, error)
	RegimeHistory(ctx context.Context, limit int) ([]models.RegimeRecord, error)
	ListPositions(ctx context.Context, f PositionFilter) ([]models.Position, error)
	GetPosition(ctx context.Context, id string) (models.Position, error)
	GetRecommendation(ctx context.Context, id string) (models.Recommendation, error)
	ListRecommendations(ctx context.Context, f models.RecommendationFilter) ([]models.Recommendation, error)
	LoadState(ctx context.Context) (models.AccountState, error)
	Commit(ctx context.Context, cs models.Changeset) error
	Close() error
}

// Notifier delivers operator notifications. Failures are the notifier's own
// business and never reach the caller.
type Notifier interface {
	Notify(ctx context.Context, level models.NotifyLevel, message string, fields map[string]interface{})
}

// Journal keeps an append-only record of cycles for later analysis.
type Journal interface {
	RecordCycle(ctx context.Context, res models.CycleResult) error
}

// Locker serializes writers per account.
type Locker interface {
	// Acquire waits for the lock up to the locker's own deadline.
	Acquire(ctx context.Context, key string) (release func(), err error)
	// TryAcquire never waits; ok is false when someone else holds the lock.
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

type Metrics interface {
	RecordCycle(mode, outcome string, seconds float64)
	RecordRegime(account string, regime models.RegimeType)
	RecordAction(kind, outcome string)
	RecordRisk(account string, v models.RiskVerdict, vix float64)
	RecordRecommendation(status string)
	RecordGateway(op string, seconds float64, err error)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
