package usecase

import (
	"context"
	"errors"
	"time"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/pkg/logger"
)

// Recommendation life cycle:
//
//	pending -> approved -> executed
//	pending|approved -> rejected
//	pending|approved -> expired (once now >= expires_at)

// expireIfDue moves a live recommendation past its deadline to expired.
func expireIfDue(r *models.Recommendation, now time.Time) bool {
	if r.Status.Terminal() || !r.IsPastExpiry(now) {
		return false
	}
	r.Status = models.RecExpired
	return true
}

func approve(r *models.Recommendation, now time.Time) error {
	if r.Status != models.RecPending {
		return models.Errorf(models.ErrInvalidState, "workflow.approve", "recommendation %s is %s, not pending", r.ID, r.Status).WithAction(r.Action)
	}
	r.Status = models.RecApproved
	r.ApprovedAt = models.TimePtr(now)
	return nil
}

func reject(r *models.Recommendation, reason string, now time.Time) error {
	if r.Status != models.RecPending && r.Status != models.RecApproved {
		return models.Errorf(models.ErrInvalidState, "workflow.reject", "recommendation %s is %s", r.ID, r.Status).WithAction(r.Action)
	}
	r.Status = models.RecRejected
	r.RejectedAt = models.TimePtr(now)
	r.RejectionReason = reason
	return nil
}

func markExecuted(r *models.Recommendation, orderID string, fill *Fill, now time.Time) {
	r.Status = models.RecExecuted
	r.ExecutedAt = models.TimePtr(now)
	r.OrderID = orderID
	if fill != nil {
		r.ExecutionPrice = models.Dec(fill.Price)
	}
}

// submit wraps proposed actions into pending recommendations, one per action,
// numbered in plan order.
func (e *Engine) submit(cycleID string, regime models.RegimeType, snap models.MarketSnapshot, actions []models.ProposedAction, now time.Time) []models.Recommendation {
	recs := make([]models.Recommendation, 0, len(actions))
	for i, pa := range actions {
		recs = append(recs, models.NewRecommendation(e.newID(), cycleID, i, regime, snap, pa, now, e.cfg.RecommendationTTL))
	}
	return recs
}

// GetRecommendation reads one recommendation, reporting it expired when its deadline passed.
func (e *Engine) GetRecommendation(ctx context.Context, id string) (models.Recommendation, error) {
	r, err := e.store.GetRecommendation(ctx, id)
	if err != nil {
		return r, err
	}
	if expireIfDue(&r, e.now()) {
		e.persistExpired(ctx, []models.Recommendation{r})
	}
	return r, nil
}

// ListRecommendations lists recommendations in creation order.
func (e *Engine) ListRecommendations(ctx context.Context, pendingOnly bool, limit int) ([]models.Recommendation, error) {
	recs, err := e.store.ListRecommendations(ctx, models.RecommendationFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	now := e.now()
	var expired []models.Recommendation
	out := make([]models.Recommendation, 0, len(recs))
	for _, r := range recs {
		if expireIfDue(&r, now) {
			expired = append(expired, r)
		}
		if pendingOnly && r.Status != models.RecPending {
			continue
		}
		out = append(out, r)
	}
	e.persistExpired(ctx, expired)
	return out, nil
}

// persistExpired writes lazily detected expiries when the account lock is
// free. Otherwise the holder or the next sweep records them.
func (e *Engine) persistExpired(ctx context.Context, recs []models.Recommendation) {
	if len(recs) == 0 {
		return
	}
	release, ok, err := e.locker.TryAcquire(ctx, e.lockKey())
	if err != nil || !ok {
		return
	}
	defer release()
	if err := e.commitExpired(ctx, recs); err != nil {
		e.log.Warn("persist expired recommendations", logger.Error(err))
	}
}

// commitExpired re-reads each recommendation under the lock so a concurrent
// transition is never overwritten.
func (e *Engine) commitExpired(ctx context.Context, recs []models.Recommendation) error {
	now := e.now()
	var cs models.Changeset
	for _, r := range recs {
		cur, err := e.store.GetRecommendation(ctx, r.ID)
		if err != nil {
			return err
		}
		if expireIfDue(&cur, now) {
			cs.Recommendations = append(cs.Recommendations, cur)
		}
	}
	if cs.Empty() {
		return nil
	}
	if err := e.store.Commit(ctx, cs); err != nil {
		return err
	}
	for range cs.Recommendations {
		e.metrics.RecordRecommendation(string(models.RecExpired))
	}
	return nil
}

// ExpireStale eagerly expires every live recommendation past its deadline.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	release, err := e.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	expired, err := e.staleRecommendations(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := e.store.Commit(ctx, models.Changeset{Recommendations: expired}); err != nil {
		return 0, err
	}
	for range expired {
		e.metrics.RecordRecommendation(string(models.RecExpired))
	}
	e.log.Info("expired stale recommendations", logger.Int("count", len(expired)))
	return len(expired), nil
}

func (e *Engine) staleRecommendations(ctx context.Context, now time.Time) ([]models.Recommendation, error) {
	recs, err := e.store.ListRecommendations(ctx, models.RecommendationFilter{})
	if err != nil {
		return nil, err
	}
	var expired []models.Recommendation
	for _, r := range recs {
		if expireIfDue(&r, now) {
			expired = append(expired, r)
		}
	}
	return expired, nil
}

// loadLive reads a recommendation under the lock, persisting an expiry if due.
// An expired recommendation is reported as InvalidState.
func (e *Engine) loadLive(ctx context.Context, id, op string) (models.Recommendation, error) {
	r, err := e.store.GetRecommendation(ctx, id)
	if err != nil {
		return r, err
	}
	if expireIfDue(&r, e.now()) {
		if err := e.store.Commit(ctx, models.Changeset{Recommendations: []models.Recommendation{r}}); err != nil {
			return r, err
		}
		e.metrics.RecordRecommendation(string(models.RecExpired))
		return r, models.Errorf(models.ErrInvalidState, op, "recommendation %s expired at %s", r.ID, r.ExpiresAt.Format(time.RFC3339)).WithAction(r.Action)
	}
	return r, nil
}

// ApproveRecommendation moves a pending recommendation to approved.
func (e *Engine) ApproveRecommendation(ctx context.Context, id string) (models.Recommendation, error) {
	release, err := e.lock(ctx)
	if err != nil {
		return models.Recommendation{}, err
	}
	defer release()

	r, err := e.loadLive(ctx, id, "usecase.Approve")
	if err != nil {
		return r, err
	}
	if err := approve(&r, e.now()); err != nil {
		return r, err
	}
	if err := e.store.Commit(ctx, models.Changeset{Recommendations: []models.Recommendation{r}}); err != nil {
		return r, err
	}
	e.metrics.RecordRecommendation(string(r.Status))
	e.log.Info("recommendation approved", logger.String("id", r.ID), logger.String("action", string(r.Action)))
	return r, nil
}

// RejectRecommendation rejects a pending or approved recommendation.
func (e *Engine) RejectRecommendation(ctx context.Context, id, reason string) (models.Recommendation, error) {
	release, err := e.lock(ctx)
	if err != nil {
		return models.Recommendation{}, err
	}
	defer release()

	r, err := e.loadLive(ctx, id, "usecase.Reject")
	if err != nil {
		return r, err
	}
	if err := reject(&r, reason, e.now()); err != nil {
		return r, err
	}
	if err := e.store.Commit(ctx, models.Changeset{Recommendations: []models.Recommendation{r}}); err != nil {
		return r, err
	}
	e.metrics.RecordRecommendation(string(r.Status))
	e.log.Info("recommendation rejected", logger.String("id", r.ID), logger.String("reason", reason))
	return r, nil
}

// ExecuteRecommendation sends an approved recommendation to the gateway. On
// failure the recommendation stays approved and the error is returned as is.
func (e *Engine) ExecuteRecommendation(ctx context.Context, id string) (models.Recommendation, error) {
	const op = "usecase.Execute"
	release, err := e.lock(ctx)
	if err != nil {
		return models.Recommendation{}, err
	}
	defer release()

	r, err := e.loadLive(ctx, id, op)
	if err != nil {
		return r, err
	}
	if r.Status != models.RecApproved {
		return r, models.Errorf(models.ErrInvalidState, op, "recommendation %s is %s, not approved", r.ID, r.Status).WithAction(r.Action)
	}
	a, err := r.ToAction()
	if err != nil {
		return r, models.NewError(models.ErrInvariantViolation, op, err)
	}

	now := e.now()
	if a.Kind() == models.ActionNoAction {
		markExecuted(&r, "", nil, now)
		if err := e.store.Commit(ctx, models.Changeset{Recommendations: []models.Recommendation{r}}); err != nil {
			return r, err
		}
		e.metrics.RecordRecommendation(string(r.Status))
		return r, nil
	}

	open, err := e.store.ListPositions(ctx, drepo.PositionFilter{Status: models.PositionOpen})
	if err != nil {
		return r, err
	}
	if err := e.preflight(ctx, a, open, now); err != nil {
		var de *models.DomainError
		if errors.As(err, &de) {
			de.WithRegime(r.RegimeType)
		}
		return r, err
	}

	fill, err := e.exec.Execute(ctx, a, open, r.ID, now)
	e.metrics.RecordAction(string(a.Kind()), outcomeOf(err))
	if err != nil {
		var de *models.DomainError
		if errors.As(err, &de) {
			de.WithRegime(r.RegimeType)
		}
		e.log.Error("execute recommendation", logger.String("id", r.ID), logger.Error(err))
		e.notify(ctx, models.NotifyError, "execution failed: "+models.Describe(a), map[string]interface{}{
			"recommendation_id": r.ID, "regime": string(r.RegimeType), "error": err.Error(),
		})
		return r, err
	}

	markExecuted(&r, fill.OrderID, &fill, fill.FilledAt)
	cs := models.Changeset{Recommendations: []models.Recommendation{r}, Positions: fill.Positions}
	if err := e.store.Commit(ctx, cs); err != nil {
		e.log.Error("filled order not recorded", logger.String("order_id", fill.OrderID), logger.Error(err))
		e.notify(ctx, models.NotifyCritical, "filled order not recorded: "+fill.OrderID, map[string]interface{}{"error": err.Error()})
		return r, err
	}
	e.metrics.RecordRecommendation(string(r.Status))
	e.notify(ctx, models.NotifyInfo, "executed: "+models.Describe(a), map[string]interface{}{
		"recommendation_id": r.ID, "order_id": fill.OrderID, "fill_price": fill.Price.String(),
	})

	if _, err := e.followUp(ctx, models.ModeApproval, nil, r.CycleID); err != nil {
		e.log.Error("follow-up transition", logger.String("recommendation_id", r.ID), logger.Error(err))
		e.notify(ctx, models.NotifyWarning, "follow-up transition failed", map[string]interface{}{"error": err.Error()})
	}
	return r, nil
}

// preflight re-runs the guards that were checked at planning time.
func (e *Engine) preflight(ctx context.Context, a models.Action, open []models.Position, now time.Time) error {
	const op = "usecase.preflight"
	if e.cfg.RequireMarketOpen && e.session != nil && !e.session.IsRegularSession(now) {
		return models.Errorf(models.ErrInvalidState, op, "options market closed at %s", now.Format(time.RFC3339)).WithAction(a.Kind())
	}
	if _, err := closeTarget(a, open); err != nil {
		return err
	}
	if !a.Opening() {
		return nil
	}
	if err := e.risk.CheckCoverage(a, open, nil); err != nil {
		return err
	}
	state, err := e.store.LoadState(ctx)
	if err != nil {
		return err
	}
	if state.Halted {
		return models.Errorf(models.ErrInvalidState, op, "account halted: %s", state.HaltReason).WithAction(a.Kind())
	}
	limit, _, err := e.accountLimit(ctx)
	if err != nil {
		return err
	}
	return e.risk.CheckDeployed(Deployed(open, now), a.CapitalRequired(), limit)
}

func outcomeOf(err error) string {
	if err != nil {
		return string(models.OutcomeFailed)
	}
	return string(models.OutcomeExecuted)
}
