package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	domsvc "RegimeDesk/internal/domain/service"
	"RegimeDesk/pkg/config"
)

// Planner maps the active regime onto an ordered list of proposed actions.
// Closing actions always come before opening ones.
type Planner struct {
	cfg    config.PlannerConfig
	symbol string
	risk   domsvc.RiskEvaluator
	cal    *Calendar
}

// NewPlanner builds a planner for symbol. risk gates new capital and cal
// picks expirations.
func NewPlanner(cfg config.PlannerConfig, symbol string, risk domsvc.RiskEvaluator, cal *Calendar) *Planner {
	return &Planner{cfg: cfg, symbol: symbol, risk: risk, cal: cal}
}

var _ domsvc.ActionPlanner = (*Planner)(nil)

func (p *Planner) Chains(regime models.RegimeType, snap models.MarketSnapshot, positions []models.Position) []domsvc.ChainRequest {
	weekly := p.cal.WeeklyExpiration(snap.CapturedAt)
	switch regime {
	case models.RegimeNormalBull:
		return []domsvc.ChainRequest{{Role: domsvc.ChainWeeklyPut, Expiration: weekly, Right: models.RightPut}}
	case models.RegimeRecoveryMode:
		reqs := []domsvc.ChainRequest{{Role: domsvc.ChainWeeklyCall, Expiration: weekly, Right: models.RightCall}}
		if len(openOf(positions, models.TradeAnchorCall)) == 0 {
			reqs = append(reqs, domsvc.ChainRequest{
				Role:       domsvc.ChainAnchorCall,
				Expiration: p.cal.AnchorExpiration(snap.CapturedAt, p.cfg.AnchorMinDays),
				Right:      models.RightCall,
			})
		}
		return reqs
	}
	return nil
}

func (p *Planner) Plan(in domsvc.PlanInput) (domsvc.Plan, error) {
	const op = "planner.Plan"
	if in.Snapshot == nil {
		return domsvc.Plan{}, models.Errorf(models.ErrMissingPrerequisite, op, "no market snapshot")
	}
	if in.Regime == nil {
		return domsvc.Plan{}, models.Errorf(models.ErrMissingPrerequisite, op, "no active regime")
	}
	tc := textContext{snap: *in.Snapshot, regime: in.Regime.Type, verdict: in.Verdict, limit: in.AccountLimit}

	var (
		plan domsvc.Plan
		err  error
	)
	switch in.Regime.Type {
	case models.RegimeNormalBull:
		plan, err = p.planNormalBull(in, tc)
	case models.RegimeDefenseTrigger:
		plan, err = p.planDefense(in, tc)
	case models.RegimeRecoveryMode:
		plan, err = p.planRecovery(in, tc)
	case models.RegimeRecoveryComplete:
		plan = p.planRecoveryComplete(in, tc)
	default:
		return domsvc.Plan{}, models.Errorf(models.ErrInvariantViolation, op, "unknown regime %q", in.Regime.Type)
	}
	if err != nil {
		var de *models.DomainError
		if errors.As(err, &de) {
			de.WithRegime(in.Regime.Type)
		}
		return domsvc.Plan{Notes: plan.Notes}, err
	}
	sort.SliceStable(plan.Actions, func(i, j int) bool {
		return !plan.Actions[i].Action.Opening() && plan.Actions[j].Action.Opening()
	})
	return plan, nil
}

func (p *Planner) planNormalBull(in domsvc.PlanInput, tc textContext) (domsvc.Plan, error) {
	var plan domsvc.Plan
	if in.CleanWeeks < p.cfg.RequiredCleanWeeks {
		reason := fmt.Sprintf("holding: %d/%d clean weeks", in.CleanWeeks, p.cfg.RequiredCleanWeeks)
		plan.Actions = append(plan.Actions, tc.propose(models.NoAction{Reason: reason}))
		return plan, nil
	}
	if blocked, note := openingBlocked(in); blocked {
		plan.Notes = append(plan.Notes, note)
		return plan, nil
	}

	exp := p.cal.WeeklyExpiration(in.Snapshot.CapturedAt)
	for _, pos := range openOf(in.Positions, models.TradePutCreditSpread) {
		if pos.Expiration != nil && models.DateOf(*pos.Expiration).Equal(exp) {
			plan.Notes = append(plan.Notes, fmt.Sprintf("put spread %s already open for %s", pos.ID, exp.Format("2006-01-02")))
			return plan, nil
		}
	}
	if len(in.PutChain) == 0 {
		return plan, models.Errorf(models.ErrMissingPrerequisite, "planner.normalBull",
			"no put chain for %s %s", p.symbol, exp.Format("2006-01-02")).WithAction(models.ActionOpenPutSpread)
	}

	width := decimal.NewFromFloat(p.cfg.SpreadWidth)
	short, long, ok := p.selectPutSpread(in.PutChain, width)
	if !ok {
		plan.Notes = append(plan.Notes, fmt.Sprintf("no put strike with mid in [%.2f, %.2f] and |delta| <= %.2f",
			p.cfg.CreditMin, p.cfg.CreditMax, p.cfg.MaxDelta))
		return plan, nil
	}
	credit := short.Mid().Sub(long.Mid())
	perContract := width.Sub(credit).Mul(models.ContractMultiplier)
	n := Contracts(p.cfg, in.Verdict.ScaleFactor, perContract, in.AccountLimit)
	if n == 0 {
		plan.Notes = append(plan.Notes, fmt.Sprintf("position size 0 after scale x%s", in.Verdict.ScaleFactor))
		return plan, nil
	}
	nd := decimal.NewFromInt(int64(n))
	a := models.OpenPutSpread{
		Symbol:      p.symbol,
		Expiration:  exp,
		ShortStrike: short.Strike,
		LongStrike:  long.Strike,
		Contracts:   n,
		Credit:      credit,
		ShortDelta:  short.Delta,
		MaxRisk:     perContract.Mul(nd),
		MaxProfit:   credit.Mul(models.ContractMultiplier).Mul(nd),
	}
	if err := p.risk.CheckDeployed(in.DeployedCapital, a.CapitalRequired(), in.AccountLimit); err != nil {
		plan.Notes = append(plan.Notes, err.Error())
		return plan, nil
	}
	plan.Actions = append(plan.Actions, tc.propose(a))
	return plan, nil
}

// selectPutSpread picks the lowest short strike inside the premium band whose
// long leg is quoted in the same chain.
func (p *Planner) selectPutSpread(chain []models.OptionQuote, width decimal.Decimal) (short, long models.OptionQuote, ok bool) {
	byStrike := make(map[string]models.OptionQuote, len(chain))
	puts := make([]models.OptionQuote, 0, len(chain))
	for _, q := range chain {
		if q.Right != models.RightPut {
			continue
		}
		byStrike[q.Strike.String()] = q
		puts = append(puts, q)
	}
	sort.Slice(puts, func(i, j int) bool { return puts[i].Strike.LessThan(puts[j].Strike) })

	lo := decimal.NewFromFloat(p.cfg.CreditMin)
	hi := decimal.NewFromFloat(p.cfg.CreditMax)
	maxDelta := decimal.NewFromFloat(p.cfg.MaxDelta)
	for _, q := range puts {
		mid := q.Mid()
		if mid.LessThan(lo) || mid.GreaterThan(hi) || q.Delta.Abs().GreaterThan(maxDelta) {
			continue
		}
		l, found := byStrike[q.Strike.Sub(width).String()]
		if !found || !q.Mid().GreaterThan(l.Mid()) {
			continue
		}
		return q, l, true
	}
	return models.OptionQuote{}, models.OptionQuote{}, false
}

func (p *Planner) planDefense(in domsvc.PlanInput, tc textContext) (domsvc.Plan, error) {
	var plan domsvc.Plan
	spreads := openOf(in.Positions, models.TradePutCreditSpread)
	if len(spreads) == 0 {
		return plan, models.Errorf(models.ErrMissingPrerequisite, "planner.defense",
			"no open put spread to close").WithAction(models.ActionClosePutSpread)
	}
	// the breached spread is the one with the highest short strike
	target := spreads[0]
	for _, s := range spreads[1:] {
		if s.ShortStrike != nil && target.ShortStrike != nil && s.ShortStrike.GreaterThan(*target.ShortStrike) {
			target = s
		}
	}
	a := models.ClosePutSpread{
		PositionID:  target.ID,
		Symbol:      target.Symbol,
		ShortStrike: val(target.ShortStrike),
		LongStrike:  val(target.LongStrike),
		Contracts:   target.Contracts,
		Debit:       SpreadIntrinsic(val(target.ShortStrike), val(target.LongStrike), in.Snapshot.Price),
	}
	if target.Expiration != nil {
		a.Expiration = *target.Expiration
	}
	plan.Actions = append(plan.Actions, tc.propose(a))
	return plan, nil
}

func (p *Planner) planRecovery(in domsvc.PlanInput, tc textContext) (domsvc.Plan, error) {
	var plan domsvc.Plan
	rs := in.Regime.RecoveryStrike
	if rs == nil {
		return plan, models.Errorf(models.ErrMissingPrerequisite, "planner.recovery", "active recovery regime has no recovery strike")
	}
	if len(in.CallChain) == 0 {
		return plan, models.Errorf(models.ErrMissingPrerequisite, "planner.recovery",
			"no call chain for %s weekly expiration", p.symbol).WithAction(models.ActionSellCoveredCall)
	}
	price := in.Snapshot.Price

	for _, c := range openOf(in.Positions, models.TradeCoveredCall) {
		plan.Actions = append(plan.Actions, tc.propose(closeRecovery(c, price)))
	}
	if blocked, note := openingBlocked(in); blocked {
		plan.Notes = append(plan.Notes, note)
		return plan, nil
	}

	anchors := openOf(in.Positions, models.TradeAnchorCall)
	callContracts := 0
	for _, a := range anchors {
		callContracts += a.Contracts
	}
	if len(anchors) == 0 {
		anchor, note := p.anchorCall(in)
		if note != "" {
			plan.Notes = append(plan.Notes, note)
			return plan, nil
		}
		plan.Actions = append(plan.Actions, tc.propose(anchor))
		callContracts = anchor.Contracts
	}

	weekly := p.cal.WeeklyExpiration(in.Snapshot.CapturedAt)
	call := models.SellCoveredCall{
		Symbol:     p.symbol,
		Expiration: weekly,
		Strike:     *rs,
		Contracts:  callContracts,
		Credit:     decimal.Zero,
		Delta:      decimal.Zero,
	}
	if q, ok := quoteAt(in.CallChain, *rs, models.RightCall); ok {
		call.Credit = q.Mid()
		call.Delta = q.Delta
	} else {
		plan.Notes = append(plan.Notes, fmt.Sprintf("no call quote at recovery strike %s, credit unknown", rs))
	}
	plan.Actions = append(plan.Actions, tc.propose(call))
	return plan, nil
}

// anchorCall builds the first-entry anchor. A non-empty note means the
// anchor, and therefore the covered call, cannot be opened.
func (p *Planner) anchorCall(in domsvc.PlanInput) (models.BuyAnchorCall, string) {
	price := in.Snapshot.Price
	floor := price.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(p.cfg.AnchorITMPct)))
	exp := p.cal.AnchorExpiration(in.Snapshot.CapturedAt, p.cfg.AnchorMinDays)

	strike := floor.Floor()
	debit := price.Sub(strike)
	calls := make([]models.OptionQuote, 0, len(in.AnchorChain))
	for _, q := range in.AnchorChain {
		if q.Right == models.RightCall && !q.Strike.LessThan(floor) && !q.Strike.GreaterThan(price) {
			calls = append(calls, q)
		}
	}
	if len(calls) > 0 {
		sort.Slice(calls, func(i, j int) bool { return calls[i].Strike.LessThan(calls[j].Strike) })
		strike = calls[0].Strike
		debit = calls[0].Mid()
	}

	n := Contracts(p.cfg, in.Verdict.ScaleFactor, debit.Mul(models.ContractMultiplier), in.AccountLimit)
	if n == 0 {
		return models.BuyAnchorCall{}, fmt.Sprintf("anchor size 0 after scale x%s", in.Verdict.ScaleFactor)
	}
	a := models.BuyAnchorCall{Symbol: p.symbol, Expiration: exp, Strike: strike, Contracts: n, Debit: debit}
	if err := p.risk.CheckDeployed(in.DeployedCapital, a.CapitalRequired(), in.AccountLimit); err != nil {
		return models.BuyAnchorCall{}, err.Error()
	}
	return a, ""
}

func (p *Planner) planRecoveryComplete(in domsvc.PlanInput, tc textContext) domsvc.Plan {
	var plan domsvc.Plan
	price := in.Snapshot.Price
	for _, c := range openOf(in.Positions, models.TradeCoveredCall) {
		plan.Actions = append(plan.Actions, tc.propose(closeRecovery(c, price)))
	}
	for _, a := range openOf(in.Positions, models.TradeAnchorCall) {
		plan.Actions = append(plan.Actions, tc.propose(closeRecovery(a, price)))
	}
	if len(plan.Actions) == 0 {
		plan.Notes = append(plan.Notes, "no recovery positions left to close")
	}
	return plan
}

func openingBlocked(in domsvc.PlanInput) (bool, string) {
	switch {
	case in.Halted:
		return true, "account halted by emergency shutdown, no new positions"
	case in.Verdict.Halted:
		return true, "risk halt, no new positions"
	}
	return false, ""
}

func closeRecovery(pos models.Position, price decimal.Decimal) models.CloseRecovery {
	strike := val(pos.ShortStrike)
	if pos.TradeType == models.TradeAnchorCall {
		strike = val(pos.LongStrike)
	}
	a := models.CloseRecovery{
		PositionID: pos.ID,
		TradeType:  pos.TradeType,
		Symbol:     pos.Symbol,
		Strike:     strike,
		Contracts:  pos.Contracts,
		Price:      CallIntrinsic(strike, price),
	}
	if pos.Expiration != nil {
		a.Expiration = *pos.Expiration
	}
	return a
}

// SpreadIntrinsic is the expiration value of a put spread at price.
func SpreadIntrinsic(short, long, price decimal.Decimal) decimal.Decimal {
	v := short.Sub(price)
	width := short.Sub(long)
	if v.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(v, width)
}

// CallIntrinsic is the expiration value of a call at price.
func CallIntrinsic(strike, price decimal.Decimal) decimal.Decimal {
	return decimal.Max(price.Sub(strike), decimal.Zero)
}

func openOf(positions []models.Position, t models.TradeType) []models.Position {
	var out []models.Position
	for _, p := range positions {
		if p.IsOpen() && p.TradeType == t {
			out = append(out, p)
		}
	}
	return out
}

func quoteAt(chain []models.OptionQuote, strike decimal.Decimal, right models.OptionRight) (models.OptionQuote, bool) {
	for _, q := range chain {
		if q.Right == right && q.Strike.Equal(strike) {
			return q, true
		}
	}
	return models.OptionQuote{}, false
}

func val(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
