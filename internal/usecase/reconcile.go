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

// ReconcilePositions marks open positions that expired and that the gateway
// no longer carries as expired. It returns the positions it changed.
func (e *Engine) ReconcilePositions(ctx context.Context) ([]models.Position, error) {
	release, err := e.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	open, err := e.store.ListPositions(ctx, drepo.PositionFilter{Status: models.PositionOpen})
	if err != nil {
		return nil, err
	}
	changed, err := e.reconcile(ctx, open, e.now())
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return changed, nil
	}
	if err := e.store.Commit(ctx, models.Changeset{Positions: changed}); err != nil {
		return nil, err
	}
	return changed, nil
}

// reconcile computes expirations without writing them.
func (e *Engine) reconcile(ctx context.Context, open []models.Position, now time.Time) ([]models.Position, error) {
	today := models.DateOf(now)
	var due []models.Position
	for _, p := range open {
		if p.IsOpen() && p.Expiration != nil && models.DateOf(*p.Expiration).Before(today) {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout)
	defer cancel()
	start := time.Now()
	held, err := e.gateway.GetPositions(cctx)
	e.metrics.RecordGateway("positions", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, models.NewError(models.ErrDataUnavailable, "usecase.reconcile", err)
	}
	book := make(map[string]bool, len(held)*2)
	for _, h := range held {
		if !h.IsOpen() {
			continue
		}
		book[h.ID] = true
		book[positionKey(h)] = true
	}

	var changed []models.Position
	for _, p := range due {
		if book[p.ID] || book[positionKey(p)] {
			continue
		}
		closedAt := *p.Expiration
		if closedAt.Before(p.OpenedAt) {
			closedAt = now
		}
		p.Close(closedAt, decimal.Zero, models.PositionExpired)
		changed = append(changed, p)
		e.log.Info("position expired",
			logger.String("position_id", p.ID),
			logger.String("trade_type", string(p.TradeType)),
			logger.Decimal("realized_pnl", *p.RealizedPnL))
	}
	return changed, nil
}

// positionKey identifies a holding by its contract terms, for gateways that
// keep their own ids.
func positionKey(p models.Position) string {
	exp := "-"
	if p.Expiration != nil {
		exp = p.Expiration.Format("2006-01-02")
	}
	short, long := "-", "-"
	if p.ShortStrike != nil {
		short = p.ShortStrike.String()
	}
	if p.LongStrike != nil {
		long = p.LongStrike.String()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", p.TradeType, p.Symbol, short, long, exp)
}
