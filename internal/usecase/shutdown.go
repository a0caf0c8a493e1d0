package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/internal/services/planner"
	"RegimeDesk/pkg/logger"
)

const shutdownReason = "emergency shutdown"

// EmergencyShutdown closes every open position, rejects every outstanding
// recommendation and halts the account. It is always permitted; positions
// that fail to close are reported and stay open.
func (e *Engine) EmergencyShutdown(ctx context.Context, reason string) (models.ShutdownResult, error) {
	if reason == "" {
		reason = shutdownReason
	}
	release, err := e.lock(ctx)
	if err != nil {
		return models.ShutdownResult{}, err
	}
	defer release()

	now := e.now()
	res := models.ShutdownResult{HaltedAt: now}

	// Halt first so nothing opens while the book is being unwound.
	state, err := e.store.LoadState(ctx)
	if err != nil {
		return res, err
	}
	state.AccountID = e.cfg.AccountID
	state.Halted = true
	state.HaltedAt = models.TimePtr(now)
	state.HaltReason = reason

	recs, err := e.store.ListRecommendations(ctx, models.RecommendationFilter{})
	if err != nil {
		return res, err
	}
	var changed []models.Recommendation
	for _, r := range recs {
		if expireIfDue(&r, now) {
			changed = append(changed, r)
			continue
		}
		if r.Status == models.RecPending || r.Status == models.RecApproved {
			if err := reject(&r, shutdownReason, now); err != nil {
				e.log.Warn("shutdown could not reject recommendation", logger.String("id", r.ID), logger.Error(err))
				continue
			}
			changed = append(changed, r)
			res.Rejected++
		}
	}
	if err := e.store.Commit(ctx, models.Changeset{Recommendations: changed, State: &state}); err != nil {
		return res, err
	}

	open, err := e.store.ListPositions(ctx, drepo.PositionFilter{Status: models.PositionOpen})
	if err != nil {
		return res, err
	}
	price := decimal.Zero
	if snap, err := e.snapshot(ctx, now); err != nil {
		e.log.Warn("shutdown without snapshot, closing at zero limit", logger.Error(err))
	} else {
		price = snap.Price
	}

	callFailed := false
	for _, a := range closeAll(open, price) {
		if cr, ok := a.(models.CloseRecovery); ok && cr.TradeType == models.TradeAnchorCall && callFailed {
			res.Failed = append(res.Failed, models.ActionOutcome{
				Kind: a.Kind(), Summary: models.Describe(a), Status: models.OutcomeBlocked, Error: "covered call still open",
			})
			continue
		}
		fill, err := e.exec.Execute(ctx, a, open, "", e.now())
		if err == nil {
			err = e.store.Commit(ctx, models.Changeset{Positions: fill.Positions})
		}
		e.metrics.RecordAction(string(a.Kind()), outcomeOf(err))
		if err != nil {
			if cr, ok := a.(models.CloseRecovery); ok && cr.TradeType == models.TradeCoveredCall {
				callFailed = true
			}
			res.Failed = append(res.Failed, models.ActionOutcome{
				Kind: a.Kind(), Summary: models.Describe(a), Status: models.OutcomeFailed, Error: err.Error(),
			})
			continue
		}
		open = replacePositions(open, fill.Positions)
		res.PositionsClosed++
	}

	e.notify(ctx, models.NotifyCritical, fmt.Sprintf("emergency shutdown: %s; %d closed, %d failed, %d recommendations rejected",
		reason, res.PositionsClosed, len(res.Failed), res.Rejected), nil)
	e.log.Warn("emergency shutdown",
		logger.String("reason", reason),
		logger.Int("positions_closed", res.PositionsClosed),
		logger.Int("failed", len(res.Failed)),
		logger.Int("rejected", res.Rejected))
	return res, nil
}

// Resume clears an emergency halt. Risk halts are recomputed every cycle and
// are not affected.
func (e *Engine) Resume(ctx context.Context) (models.AccountState, error) {
	release, err := e.lock(ctx)
	if err != nil {
		return models.AccountState{}, err
	}
	defer release()

	state, err := e.store.LoadState(ctx)
	if err != nil {
		return state, err
	}
	if !state.Halted {
		return state, models.Errorf(models.ErrInvalidState, "usecase.Resume", "account %s is not halted", e.cfg.AccountID)
	}
	state.Halted = false
	state.HaltedAt = nil
	state.HaltReason = ""
	if err := e.store.Commit(ctx, models.Changeset{State: &state}); err != nil {
		return state, err
	}
	e.notify(ctx, models.NotifyWarning, "trading resumed", nil)
	e.log.Info("halt cleared", logger.String("account_id", e.cfg.AccountID))
	return state, nil
}

// closeAll builds one closing action per open position, priced at intrinsic
// value. Short legs go first so no call is ever left uncovered.
func closeAll(open []models.Position, price decimal.Decimal) []models.Action {
	var shorts, longs []models.Action
	for _, p := range open {
		if !p.IsOpen() {
			continue
		}
		exp := models.DateOf(p.OpenedAt)
		if p.Expiration != nil {
			exp = *p.Expiration
		}
		switch p.TradeType {
		case models.TradePutCreditSpread:
			if p.ShortStrike == nil || p.LongStrike == nil {
				continue
			}
			shorts = append(shorts, models.ClosePutSpread{
				PositionID: p.ID, Symbol: p.Symbol, Expiration: exp,
				ShortStrike: *p.ShortStrike, LongStrike: *p.LongStrike, Contracts: p.Contracts,
				Debit: planner.SpreadIntrinsic(*p.ShortStrike, *p.LongStrike, price),
			})
		case models.TradeCoveredCall:
			if p.ShortStrike == nil {
				continue
			}
			shorts = append(shorts, models.CloseRecovery{
				PositionID: p.ID, TradeType: p.TradeType, Symbol: p.Symbol, Expiration: exp,
				Strike: *p.ShortStrike, Contracts: p.Contracts,
				Price: planner.CallIntrinsic(*p.ShortStrike, price),
			})
		case models.TradeAnchorCall:
			if p.LongStrike == nil {
				continue
			}
			longs = append(longs, models.CloseRecovery{
				PositionID: p.ID, TradeType: p.TradeType, Symbol: p.Symbol, Expiration: exp,
				Strike: *p.LongStrike, Contracts: p.Contracts,
				Price: planner.CallIntrinsic(*p.LongStrike, price),
			})
		}
	}
	return append(shorts, longs...)
}
