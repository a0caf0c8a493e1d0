package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/pkg/logger"
)

// Fill is a gateway-confirmed execution and the position changes it causes.
type Fill struct {
	OrderID   string
	Price     decimal.Decimal
	FilledAt  time.Time
	Positions []models.Position
}

// Executor sends single actions to the execution gateway. It never retries;
// anything short of a confirmed fill is an ExecutionFailure.
type Executor struct {
	gateway drepo.ExecutionGateway
	timeout time.Duration
	metrics drepo.Metrics
	log     *logger.Logger
	newID   func() string
}

func NewExecutor(gateway drepo.ExecutionGateway, timeout time.Duration, metrics drepo.Metrics, log *logger.Logger, newID func() string) *Executor {
	return &Executor{gateway: gateway, timeout: timeout, metrics: metrics, log: log, newID: newID}
}

// BuildOrder turns an action into the order the gateway receives.
func BuildOrder(clientOrderID string, a models.Action) (models.OrderRequest, error) {
	req := models.OrderRequest{ClientOrderID: clientOrderID, Action: a.Kind()}
	switch v := a.(type) {
	case models.OpenPutSpread:
		req.Symbol, req.Contracts, req.LimitPrice, req.Credit = v.Symbol, v.Contracts, v.Credit, true
		req.Legs = []models.OrderLeg{
			{Right: models.RightPut, Strike: v.ShortStrike, Expiration: v.Expiration, Side: models.SideSell},
			{Right: models.RightPut, Strike: v.LongStrike, Expiration: v.Expiration, Side: models.SideBuy},
		}
	case models.ClosePutSpread:
		req.Symbol, req.Contracts, req.LimitPrice, req.PositionID = v.Symbol, v.Contracts, v.Debit, v.PositionID
		req.Legs = []models.OrderLeg{
			{Right: models.RightPut, Strike: v.ShortStrike, Expiration: v.Expiration, Side: models.SideBuy},
			{Right: models.RightPut, Strike: v.LongStrike, Expiration: v.Expiration, Side: models.SideSell},
		}
	case models.SellCoveredCall:
		req.Symbol, req.Contracts, req.LimitPrice, req.Credit = v.Symbol, v.Contracts, v.Credit, true
		req.Legs = []models.OrderLeg{{Right: models.RightCall, Strike: v.Strike, Expiration: v.Expiration, Side: models.SideSell}}
	case models.BuyAnchorCall:
		req.Symbol, req.Contracts, req.LimitPrice = v.Symbol, v.Contracts, v.Debit
		req.Legs = []models.OrderLeg{{Right: models.RightCall, Strike: v.Strike, Expiration: v.Expiration, Side: models.SideBuy}}
	case models.CloseRecovery:
		side := models.SideBuy
		if v.TradeType == models.TradeAnchorCall {
			side = models.SideSell
			req.Credit = true
		}
		req.Symbol, req.Contracts, req.LimitPrice, req.PositionID = v.Symbol, v.Contracts, v.Price, v.PositionID
		req.Legs = []models.OrderLeg{{Right: models.RightCall, Strike: v.Strike, Expiration: v.Expiration, Side: side}}
	case models.NoAction:
		return req, fmt.Errorf("no_action is never routed to the gateway")
	default:
		return req, fmt.Errorf("unknown action %T", a)
	}
	if req.Contracts <= 0 {
		return req, fmt.Errorf("%s: contracts %d must be positive", a.Kind(), req.Contracts)
	}
	return req, nil
}

// Execute submits a under the gateway timeout and, on a confirmed fill,
// returns the positions to create or close. open must hold the target of
// any closing action.
func (x *Executor) Execute(ctx context.Context, a models.Action, open []models.Position, recID string, now time.Time) (Fill, error) {
	const op = "usecase.Execute"
	fail := func(format string, args ...interface{}) error {
		return models.Errorf(models.ErrExecutionFailure, op, format, args...).WithAction(a.Kind())
	}

	target, err := closeTarget(a, open)
	if err != nil {
		return Fill{}, err
	}
	clientID := x.newID()
	req, err := BuildOrder(clientID, a)
	if err != nil {
		return Fill{}, fail("build order: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	start := time.Now()
	res, err := x.gateway.SubmitOrder(cctx, req)
	cancel()
	x.metrics.RecordGateway("submit", time.Since(start).Seconds(), err)
	if err != nil {
		if res.OrderID != "" {
			x.cancelOrder(ctx, res.OrderID)
		}
		return Fill{}, fail("submit %s: %w", models.Describe(a), err)
	}

	switch res.Status {
	case models.OrderFilled:
	case models.OrderWorking:
		x.cancelOrder(ctx, res.OrderID)
		return Fill{}, fail("order %s not filled within %s", res.OrderID, x.timeout)
	default:
		return Fill{}, fail("order %s %s: %s", res.OrderID, res.Status, res.Message)
	}
	if res.FillPrice.IsNegative() {
		return Fill{}, fail("order %s: negative fill price %s", res.OrderID, res.FillPrice)
	}

	filledAt := res.FilledAt
	if filledAt.IsZero() {
		filledAt = now
	}
	fill := Fill{OrderID: res.OrderID, Price: res.FillPrice, FilledAt: filledAt}
	fill.Positions = []models.Position{x.applyFill(a, target, res, recID, filledAt)}

	x.log.Info("order filled",
		logger.String("action", string(a.Kind())),
		logger.String("order_id", res.OrderID),
		logger.Decimal("fill_price", res.FillPrice),
		logger.String("summary", models.Describe(a)))
	return fill, nil
}

func (x *Executor) cancelOrder(ctx context.Context, orderID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.timeout)
	defer cancel()
	start := time.Now()
	err := x.gateway.CancelOrder(cctx, orderID)
	x.metrics.RecordGateway("cancel", time.Since(start).Seconds(), err)
	if err != nil {
		x.log.Error("cancel unconfirmed order", logger.String("order_id", orderID), logger.Error(err))
	}
}

// closeTarget resolves the open position a closing action refers to.
func closeTarget(a models.Action, open []models.Position) (*models.Position, error) {
	var id string
	switch v := a.(type) {
	case models.ClosePutSpread:
		id = v.PositionID
	case models.CloseRecovery:
		id = v.PositionID
	default:
		return nil, nil
	}
	p, ok := findPosition(open, id)
	if !ok || !p.IsOpen() {
		return nil, models.Errorf(models.ErrInvalidState, "usecase.closeTarget", "position %q is not open", id).WithAction(a.Kind())
	}
	return &p, nil
}

func (x *Executor) applyFill(a models.Action, target *models.Position, res models.OrderResult, recID string, at time.Time) models.Position {
	if target != nil {
		p := *target
		p.Close(at, res.FillPrice, models.PositionClosed)
		return p
	}

	p := models.Position{
		ID:               x.newID(),
		Status:           models.PositionOpen,
		OpenedAt:         at,
		RecommendationID: recID,
		OrderID:          res.OrderID,
	}
	cash := func(n int) *decimal.Decimal {
		return models.Dec(res.FillPrice.Mul(models.ContractMultiplier).Mul(decimal.NewFromInt(int64(n))))
	}
	switch v := a.(type) {
	case models.OpenPutSpread:
		p.TradeType = models.TradePutCreditSpread
		p.Symbol, p.Contracts = v.Symbol, v.Contracts
		p.ShortStrike, p.LongStrike = models.Dec(v.ShortStrike), models.Dec(v.LongStrike)
		p.PremiumReceived = cash(v.Contracts)
		width := v.ShortStrike.Sub(v.LongStrike)
		p.MaxRisk = models.Dec(width.Sub(res.FillPrice).Mul(models.ContractMultiplier).Mul(decimal.NewFromInt(int64(v.Contracts))))
		p.Expiration = models.TimePtr(v.Expiration)
	case models.SellCoveredCall:
		p.TradeType = models.TradeCoveredCall
		p.Symbol, p.Contracts = v.Symbol, v.Contracts
		p.ShortStrike = models.Dec(v.Strike)
		p.PremiumReceived = cash(v.Contracts)
		p.Expiration = models.TimePtr(v.Expiration)
	case models.BuyAnchorCall:
		p.TradeType = models.TradeAnchorCall
		p.Symbol, p.Contracts = v.Symbol, v.Contracts
		p.LongStrike = models.Dec(v.Strike)
		p.PremiumPaid = cash(v.Contracts)
		p.MaxRisk = p.PremiumPaid
		p.Expiration = models.TimePtr(v.Expiration)
	}
	return p
}
