package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	domsvc "RegimeDesk/internal/domain/service"
	"RegimeDesk/pkg/logger"
)

// cycleContext carries what one cycle has read and decided so far.
type cycleContext struct {
	now       time.Time
	snap      models.MarketSnapshot
	regime    models.RegimeRecord
	state     models.AccountState
	open      []models.Position
	verdict   models.RiskVerdict
	limit     decimal.Decimal
	deployed  decimal.Decimal
	summary   models.AccountSummary
	riskState domsvc.RiskState
}

// RunCycle performs one weekly evaluation. In approval mode the planned
// actions become pending recommendations; in direct mode they are executed
// in order. DataUnavailable and InvariantViolation abort before anything is
// written.
func (e *Engine) RunCycle(ctx context.Context, mode models.CycleMode) (models.CycleResult, error) {
	if mode == "" {
		mode = e.cfg.DefaultMode
	}
	if !mode.Valid() {
		return models.CycleResult{}, models.Errorf(models.ErrInvalidState, "usecase.RunCycle", "unknown mode %q", mode)
	}

	start := time.Now()
	release, err := e.lock(ctx)
	if err != nil {
		return models.CycleResult{}, err
	}
	defer release()

	res, err := e.runCycle(ctx, mode)
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = kindLabel(err)
		e.metrics.RecordError(outcome)
		e.log.Error("cycle aborted",
			logger.String("cycle_id", res.CycleID),
			logger.String("mode", string(mode)),
			logger.Error(err))
		e.notify(ctx, levelFor(err), "cycle aborted: "+err.Error(), map[string]interface{}{"cycle_id": res.CycleID})
	} else if res.Failed() > 0 {
		outcome = "partial"
	}
	e.metrics.RecordCycle(string(mode), outcome, elapsed.Seconds())
	return res, err
}

func (e *Engine) runCycle(ctx context.Context, mode models.CycleMode) (models.CycleResult, error) {
	const op = "usecase.RunCycle"
	now := e.now()
	res := models.CycleResult{
		CycleID:   e.newID(),
		AccountID: e.cfg.AccountID,
		Mode:      mode,
		Timestamp: now,
		Actions:   []models.ActionOutcome{},
	}

	snap, err := e.snapshot(ctx, now)
	if err != nil {
		return res, err
	}
	res.Snapshot = snap

	active, err := e.store.ActiveRegime(ctx)
	if err != nil {
		return res, err
	}
	state, err := e.store.LoadState(ctx)
	if err != nil {
		return res, err
	}
	state.AccountID = e.cfg.AccountID
	open, err := e.store.ListPositions(ctx, drepo.PositionFilter{Status: models.PositionOpen})
	if err != nil {
		return res, err
	}
	expired, err := e.staleRecommendations(ctx, now)
	if err != nil {
		return res, err
	}

	var reconciled []models.Position
	if e.cfg.ReconcileOnCycle {
		reconciled, err = e.reconcile(ctx, open, now)
		if err != nil {
			e.log.Warn("reconcile skipped", logger.Error(err))
			res.Notes = append(res.Notes, "reconcile skipped: "+err.Error())
		}
		open = replacePositions(open, reconciled)
	}

	if state.Halted {
		res.Notes = append(res.Notes, "account halted: "+state.HaltReason)
		if active != nil {
			res.Regime = *active
		}
		state.LastCycleAt = models.TimePtr(now)
		cs := models.Changeset{Recommendations: expired, Positions: reconciled, State: &state}
		if err := e.store.Commit(ctx, cs); err != nil {
			return res, err
		}
		e.finish(ctx, &res)
		return res, nil
	}

	cc := &cycleContext{now: now, snap: snap, state: state, open: open}
	if err := e.assess(ctx, cc); err != nil {
		return res, err
	}
	res.Verdict = cc.verdict
	e.metrics.RecordRisk(e.cfg.AccountID, cc.verdict, snap.VIX.InexactFloat64())

	in := domsvc.ClassifyInput{
		Current:              active,
		Price:                snap.Price,
		ActiveShortPutStrike: ActiveShortStrike(open, now),
		CleanWeeks:           state.CleanWeeks,
		ReferenceStrike:      state.ReferenceStrike,
		Weekly:               true,
	}
	if active != nil {
		in.WeeksInCurrentRegime = active.WeeksActive(now)
		in.RecoveryStrike = active.RecoveryStrike
		if err := e.automaticInputs(ctx, active, open, &in); err != nil {
			return res, err
		}
	}
	dec := e.classifier.Classify(in)
	tr := e.classifier.Transition(active, dec, snap, now)
	switch {
	case tr != nil:
		cc.regime = tr.Opened
		res.Transitions = append(res.Transitions, *tr)
	case active != nil:
		cc.regime = *active
	default:
		return res, models.Errorf(models.ErrInvariantViolation, op, "classifier kept a regime that does not exist")
	}
	applyDecision(&cc.state, dec, cc.riskState, now)

	plan, err := e.plan(ctx, cc)
	if err != nil {
		if !errors.Is(err, models.ErrMissingPrerequisite) {
			return res, err
		}
		res.Notes = append(res.Notes, err.Error())
		e.notify(ctx, models.NotifyWarning, "cycle planned nothing: "+err.Error(), map[string]interface{}{"regime": string(cc.regime.Type)})
	}
	res.Notes = append(res.Notes, plan.Notes...)
	res.Regime = cc.regime

	cs := models.Changeset{Recommendations: expired, Positions: reconciled, State: &cc.state}
	if tr != nil {
		cs.Transitions = []models.RegimeTransition{*tr}
	}
	if mode == models.ModeApproval {
		recs := e.submit(res.CycleID, cc.regime.Type, snap, plan.Actions, now)
		cs.Recommendations = append(cs.Recommendations, recs...)
		res.Recommendations = recs
		for _, r := range recs {
			res.Actions = append(res.Actions, models.ActionOutcome{
				Kind: r.Action, Summary: describeRec(r), Status: models.OutcomeSubmitted, RecommendationID: r.ID,
			})
		}
	}
	if err := e.store.Commit(ctx, cs); err != nil {
		return res, err
	}
	if tr != nil {
		e.announceTransition(ctx, *tr)
	}
	for range res.Recommendations {
		e.metrics.RecordRecommendation(string(models.RecPending))
	}

	if mode == models.ModeDirect {
		e.executePlan(ctx, cc, plan.Actions, &res)
	}
	// a regime whose positions are already gone leaves in the same cycle,
	// whichever mode planned it
	fr, err := e.followUp(ctx, mode, &snap, res.CycleID)
	if err != nil {
		res.Notes = append(res.Notes, "follow-up: "+err.Error())
		e.log.Error("follow-up transition", logger.String("cycle_id", res.CycleID), logger.Error(err))
	}
	if fr != nil {
		res.Transitions = append(res.Transitions, fr.transitions...)
		res.Actions = append(res.Actions, fr.actions...)
		res.Recommendations = append(res.Recommendations, fr.recommendations...)
		res.Notes = append(res.Notes, fr.notes...)
		if fr.regime != nil {
			res.Regime = *fr.regime
		}
	}

	e.finish(ctx, &res)
	return res, nil
}

// assess loads the account summary and runs the risk evaluator.
func (e *Engine) assess(ctx context.Context, cc *cycleContext) error {
	limit, sum, err := e.accountLimit(ctx)
	if err != nil {
		return err
	}
	cc.limit, cc.summary = limit, sum
	cc.deployed = Deployed(cc.open, cc.now)
	cc.verdict, cc.riskState = e.risk.Evaluate(domsvc.RiskInput{
		Equity:             sum.Equity,
		HighWaterMark:      cc.state.HighWaterMark,
		DeployedCapital:    cc.deployed,
		AccountLimit:       limit,
		VIX:                cc.snap.VIX,
		VixBreachStartedAt: cc.state.VixBreachStartedAt,
		DrawdownBreachAt:   cc.state.DrawdownBreachAt,
		Now:                cc.now,
	})
	cc.state.HighWaterMark = cc.riskState.HighWaterMark
	cc.state.DrawdownBreachAt = cc.riskState.DrawdownBreachAt
	cc.state.VixBreachStartedAt = cc.riskState.VixBreachStartedAt
	return nil
}

// automaticInputs fills in the confirmed-close flags for the two regimes
// that leave automatically once their positions are gone.
func (e *Engine) automaticInputs(ctx context.Context, active *models.RegimeRecord, open []models.Position, in *domsvc.ClassifyInput) error {
	switch active.Type {
	case models.RegimeDefenseTrigger:
		if len(openOf(open, models.TradePutCreditSpread)) > 0 {
			return nil
		}
		closed, err := e.store.ListPositions(ctx, drepo.PositionFilter{TradeType: models.TradePutCreditSpread})
		if err != nil {
			return err
		}
		last := lastClosed(closed)
		if last != nil && last.ShortStrike != nil && !last.ClosedAt.Before(active.StartedAt) {
			in.JustClosedLosingSpread = true
			in.ClosedShortStrike = models.Dec(*last.ShortStrike)
		}
	case models.RegimeRecoveryComplete:
		in.JustClosedRecovery = len(openOf(open, models.TradeCoveredCall, models.TradeAnchorCall)) == 0
	}
	return nil
}

func applyDecision(st *models.AccountState, dec domsvc.Decision, rs domsvc.RiskState, now time.Time) {
	st.CleanWeeks = dec.CleanWeeks
	st.ReferenceStrike = dec.ReferenceStrike
	st.HighWaterMark = rs.HighWaterMark
	st.DrawdownBreachAt = rs.DrawdownBreachAt
	st.VixBreachStartedAt = rs.VixBreachStartedAt
	st.LastCycleAt = models.TimePtr(now)
	st.Initialized = true
}

// plan fetches the chains the planner asks for, plans, and checks the whole
// plan for naked shorts.
func (e *Engine) plan(ctx context.Context, cc *cycleContext) (domsvc.Plan, error) {
	in := domsvc.PlanInput{
		Regime:          &cc.regime,
		Snapshot:        &cc.snap,
		Verdict:         cc.verdict,
		Positions:       cc.open,
		CleanWeeks:      cc.state.CleanWeeks,
		Halted:          cc.state.Halted,
		DeployedCapital: cc.deployed,
		AccountLimit:    cc.limit,
	}
	for _, req := range e.planner.Chains(cc.regime.Type, cc.snap, cc.open) {
		start := time.Now()
		chain, err := e.market.OptionChain(ctx, cc.snap.Symbol, req.Expiration, req.Right)
		e.metrics.RecordLatency("option_chain", time.Since(start).Seconds())
		if err != nil {
			e.log.Warn("option chain unavailable",
				logger.String("role", string(req.Role)),
				logger.String("expiration", req.Expiration.Format("2006-01-02")),
				logger.Error(err))
			continue
		}
		switch req.Role {
		case domsvc.ChainWeeklyPut:
			in.PutChain = chain
		case domsvc.ChainWeeklyCall:
			in.CallChain = chain
		case domsvc.ChainAnchorCall:
			in.AnchorChain = chain
		}
	}

	plan, err := e.planner.Plan(in)
	if err != nil {
		return plan, err
	}
	var planned []models.Action
	for _, pa := range plan.Actions {
		if err := e.risk.CheckCoverage(pa.Action, cc.open, planned); err != nil {
			var de *models.DomainError
			if errors.As(err, &de) {
				de.WithRegime(cc.regime.Type)
			}
			return domsvc.Plan{}, err
		}
		planned = append(planned, pa.Action)
	}
	return plan, nil
}

// executePlan runs actions in plan order. After the first failure no
// opening action is attempted; closes still go out.
func (e *Engine) executePlan(ctx context.Context, cc *cycleContext, actions []models.ProposedAction, res *models.CycleResult) {
	closed := e.cfg.RequireMarketOpen && e.session != nil && !e.session.IsRegularSession(e.now())
	blocked := ""
	for _, pa := range actions {
		a := pa.Action
		out := models.ActionOutcome{Kind: a.Kind(), Summary: models.Describe(a)}
		switch {
		case a.Kind() == models.ActionNoAction:
			out.Status = models.OutcomeSkipped
		case closed:
			out.Status = models.OutcomeBlocked
			out.Error = "options market closed"
		case blocked != "" && a.Opening():
			out.Status = models.OutcomeBlocked
			out.Error = blocked
		default:
			fill, err := e.exec.Execute(ctx, a, cc.open, "", e.now())
			if err == nil {
				err = e.store.Commit(ctx, models.Changeset{Positions: fill.Positions})
				if err != nil {
					e.log.Error("filled order not recorded", logger.String("order_id", fill.OrderID), logger.Error(err))
					e.notify(ctx, models.NotifyCritical, "filled order not recorded: "+fill.OrderID, map[string]interface{}{"error": err.Error()})
				}
			}
			if err != nil {
				var de *models.DomainError
				if errors.As(err, &de) {
					de.WithRegime(cc.regime.Type)
				}
				out.Status = models.OutcomeFailed
				out.Error = err.Error()
				blocked = fmt.Sprintf("blocked by earlier failure: %s", models.Describe(a))
				e.notify(ctx, models.NotifyError, "execution failed: "+models.Describe(a), map[string]interface{}{
					"cycle_id": res.CycleID, "regime": string(cc.regime.Type), "error": err.Error(),
				})
			} else {
				out.Status = models.OutcomeExecuted
				out.OrderID = fill.OrderID
				out.FillPrice = models.Dec(fill.Price)
				cc.open = replacePositions(cc.open, fill.Positions)
			}
		}
		e.metrics.RecordAction(string(out.Kind), string(out.Status))
		res.Actions = append(res.Actions, out)
	}
}

// followResult is what automatic transitions added after executions.
type followResult struct {
	regime          *models.RegimeRecord
	transitions     []models.RegimeTransition
	actions         []models.ActionOutcome
	recommendations []models.Recommendation
	notes           []string
}

// followUp applies the automatic transitions that confirmed fills unlock:
// defense_trigger -> recovery_mode once the losing spread is closed, and
// recovery_complete -> normal_bull once the recovery positions are closed.
// Entering recovery plans the first recovery actions straight away; they are
// executed in direct mode and filed as recommendations in approval mode.
func (e *Engine) followUp(ctx context.Context, mode models.CycleMode, snap *models.MarketSnapshot, cycleID string) (*followResult, error) {
	active, err := e.store.ActiveRegime(ctx)
	if err != nil || active == nil {
		return nil, err
	}
	if active.Type != models.RegimeDefenseTrigger && active.Type != models.RegimeRecoveryComplete {
		return nil, nil
	}
	open, err := e.store.ListPositions(ctx, drepo.PositionFilter{Status: models.PositionOpen})
	if err != nil {
		return nil, err
	}
	state, err := e.store.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	in := domsvc.ClassifyInput{
		Current:              active,
		CleanWeeks:           state.CleanWeeks,
		ReferenceStrike:      state.ReferenceStrike,
		WeeksInCurrentRegime: active.WeeksActive(now),
		RecoveryStrike:       active.RecoveryStrike,
	}
	if err := e.automaticInputs(ctx, active, open, &in); err != nil {
		return nil, err
	}
	if !in.JustClosedLosingSpread && !in.JustClosedRecovery {
		return nil, nil
	}

	if snap == nil {
		s, err := e.snapshot(ctx, now)
		if err != nil {
			return nil, err
		}
		snap = &s
	}
	in.Price = snap.Price
	dec := e.classifier.Classify(in)
	tr := e.classifier.Transition(active, dec, *snap, now)
	if tr == nil {
		return nil, nil
	}
	state.CleanWeeks = dec.CleanWeeks
	state.ReferenceStrike = dec.ReferenceStrike
	if err := e.store.Commit(ctx, models.Changeset{Transitions: []models.RegimeTransition{*tr}, State: &state}); err != nil {
		return nil, err
	}
	e.announceTransition(ctx, *tr)
	fr := &followResult{regime: &tr.Opened, transitions: []models.RegimeTransition{*tr}}
	if tr.Opened.Type != models.RegimeRecoveryMode {
		return fr, nil
	}

	cc := &cycleContext{now: now, snap: *snap, regime: tr.Opened, state: state, open: open}
	if err := e.assess(ctx, cc); err != nil {
		return fr, err
	}
	plan, err := e.plan(ctx, cc)
	if err != nil {
		return fr, err
	}
	fr.notes = append(fr.notes, plan.Notes...)
	riskState := models.Changeset{State: &cc.state}
	if mode == models.ModeApproval {
		fr.recommendations = e.submit(cycleID, cc.regime.Type, cc.snap, plan.Actions, now)
		riskState.Recommendations = fr.recommendations
		for _, r := range fr.recommendations {
			fr.actions = append(fr.actions, models.ActionOutcome{
				Kind: r.Action, Summary: describeRec(r), Status: models.OutcomeSubmitted, RecommendationID: r.ID,
			})
			e.metrics.RecordRecommendation(string(models.RecPending))
		}
	}
	if err := e.store.Commit(ctx, riskState); err != nil {
		return fr, err
	}
	if mode == models.ModeDirect {
		var res models.CycleResult
		res.CycleID = cycleID
		e.executePlan(ctx, cc, plan.Actions, &res)
		fr.actions = append(fr.actions, res.Actions...)
	}
	if len(fr.recommendations) > 0 {
		e.notify(ctx, models.NotifyInfo, fmt.Sprintf("%d recovery recommendations awaiting approval", len(fr.recommendations)),
			map[string]interface{}{"cycle_id": cycleID})
	}
	return fr, nil
}

func (e *Engine) announceTransition(ctx context.Context, tr models.RegimeTransition) {
	from := "none"
	if tr.Closed != nil {
		from = string(tr.Closed.Type)
	}
	e.metrics.RecordRegime(e.cfg.AccountID, tr.Opened.Type)
	e.log.Info("regime transition",
		logger.String("from", from),
		logger.String("to", string(tr.Opened.Type)),
		logger.String("reason", tr.Reason))
	level := models.NotifyInfo
	if tr.Opened.Type == models.RegimeDefenseTrigger {
		level = models.NotifyWarning
	}
	e.notify(ctx, level, fmt.Sprintf("regime %s -> %s: %s", from, tr.Opened.Type, tr.Reason), map[string]interface{}{
		"regime_id": tr.Opened.ID,
	})
}

// finish notifies and journals a completed cycle. Neither may fail the cycle.
func (e *Engine) finish(ctx context.Context, res *models.CycleResult) {
	if res.Regime.Type != "" {
		e.metrics.RecordRegime(e.cfg.AccountID, res.Regime.Type)
	}
	level := models.NotifyInfo
	if res.Failed() > 0 {
		level = models.NotifyError
	}
	e.notify(ctx, level, fmt.Sprintf("cycle %s: regime %s, %d actions (%s)", res.CycleID, res.Regime.Type, len(res.Actions), res.Mode),
		map[string]interface{}{"cycle_id": res.CycleID, "failed": res.Failed(), "notes": res.Notes})
	if e.journal != nil {
		if err := e.journal.RecordCycle(ctx, *res); err != nil {
			e.log.Warn("journal cycle", logger.String("cycle_id", res.CycleID), logger.Error(err))
		}
	}
	e.log.Info("cycle complete",
		logger.String("cycle_id", res.CycleID),
		logger.String("mode", string(res.Mode)),
		logger.String("regime", string(res.Regime.Type)),
		logger.Int("actions", len(res.Actions)),
		logger.Int("failed", res.Failed()))
}

func describeRec(r models.Recommendation) string {
	a, err := r.ToAction()
	if err != nil {
		return string(r.Action)
	}
	return models.Describe(a)
}

func kindLabel(err error) string {
	switch models.KindOf(err) {
	case models.ErrDataUnavailable:
		return "data_unavailable"
	case models.ErrMissingPrerequisite:
		return "missing_prerequisite"
	case models.ErrInvalidState:
		return "invalid_state"
	case models.ErrExecutionFailure:
		return "execution_failure"
	case models.ErrInvariantViolation:
		return "invariant_violation"
	case models.ErrNotFound:
		return "not_found"
	}
	return "internal"
}

func levelFor(err error) models.NotifyLevel {
	if errors.Is(err, models.ErrInvariantViolation) {
		return models.NotifyCritical
	}
	if errors.Is(err, models.ErrInvalidState) {
		return models.NotifyWarning
	}
	return models.NotifyError
}
