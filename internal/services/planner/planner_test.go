package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeDesk/internal/domain/models"
	domsvc "RegimeDesk/internal/domain/service"
	"RegimeDesk/internal/services/risk"
	"RegimeDesk/pkg/config"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Friday 15:45 New York
var evalAt = time.Date(2025, 3, 7, 20, 45, 0, 0, time.UTC)

var weekly = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func newPlanner(t *testing.T, mutate func(*config.PlannerConfig)) *Planner {
	t.Helper()
	cfg := config.Default()
	pc := cfg.Planner
	pc.Contracts = 2
	if mutate != nil {
		mutate(&pc)
	}
	cal, err := NewCalendar(nil)
	require.NoError(t, err)
	return NewPlanner(pc, "QQQ", risk.NewEvaluator(cfg.Risk), cal)
}

func put(strike, mid, delta string) models.OptionQuote {
	m := d(mid)
	return models.OptionQuote{
		Symbol: "QQQ", Expiration: weekly, Strike: d(strike), Right: models.RightPut,
		Bid: m.Sub(d("0.02")), Ask: m.Add(d("0.02")), Delta: d(delta),
	}
}

func call(strike, mid, delta string, exp time.Time) models.OptionQuote {
	m := d(mid)
	return models.OptionQuote{
		Symbol: "QQQ", Expiration: exp, Strike: d(strike), Right: models.RightCall,
		Bid: m.Sub(d("0.05")), Ask: m.Add(d("0.05")), Delta: d(delta),
	}
}

func putChain() []models.OptionQuote {
	return []models.OptionQuote{
		put("430", "0.05", "-0.01"),
		put("435", "0.10", "-0.02"),
		put("440", "0.15", "-0.03"),
		put("445", "0.30", "-0.05"),
		put("450", "0.40", "-0.06"),
		put("455", "0.50", "-0.08"),
		put("460", "0.60", "-0.09"),
		put("465", "0.68", "-0.11"),
		put("470", "0.80", "-0.14"),
	}
}

func snapshot(price string) *models.MarketSnapshot {
	return &models.MarketSnapshot{
		Symbol: "QQQ", Price: d(price), VIX: d("18"), ImpliedVolATM7d: d("0.2"),
		CapturedAt: evalAt, Source: models.SourceMock,
	}
}

func allow() models.RiskVerdict {
	return models.RiskVerdict{Allow: true, ScaleFactor: decimal.NewFromInt(1)}
}

func bullInput() domsvc.PlanInput {
	return domsvc.PlanInput{
		Regime:          &models.RegimeRecord{ID: "r", Type: models.RegimeNormalBull, IsActive: true},
		Snapshot:        snapshot("500"),
		Verdict:         allow(),
		CleanWeeks:      3,
		DeployedCapital: decimal.Zero,
		AccountLimit:    d("100000"),
		PutChain:        putChain(),
	}
}

func TestPlan_ScenarioE_OpenPutSpread(t *testing.T) {
	p := newPlanner(t, nil)
	plan, err := p.Plan(bullInput())
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)

	a, ok := plan.Actions[0].Action.(models.OpenPutSpread)
	require.True(t, ok, "got %T", plan.Actions[0].Action)
	assert.True(t, a.ShortStrike.Equal(d("460")), "lowest strike in band, got %s", a.ShortStrike)
	assert.True(t, a.LongStrike.Equal(a.ShortStrike.Sub(d("25"))))
	assert.Equal(t, 2, a.Contracts)
	assert.Equal(t, weekly, a.Expiration)
	assert.True(t, a.Credit.Equal(d("0.5")))
	assert.True(t, a.MaxRisk.Equal(d("4900")), "got %s", a.MaxRisk)
	assert.True(t, a.MaxProfit.Equal(d("100")))
	assert.Contains(t, plan.Actions[0].Reasoning, "Market Analysis")
	assert.Contains(t, plan.Actions[0].RiskAssessment, "Breakeven")
}

func TestPlan_NormalBullHoldingBelowThreeCleanWeeks(t *testing.T) {
	p := newPlanner(t, nil)
	for _, n := range []int{0, 1, 2} {
		in := bullInput()
		in.CleanWeeks = n
		plan, err := p.Plan(in)
		require.NoError(t, err)
		require.Len(t, plan.Actions, 1)
		na, ok := plan.Actions[0].Action.(models.NoAction)
		require.True(t, ok)
		assert.Contains(t, na.Reason, "clean weeks")
	}
}

func TestPlan_NormalBullSuppressed(t *testing.T) {
	p := newPlanner(t, nil)

	tests := []struct {
		name   string
		mutate func(*domsvc.PlanInput)
		note   string
	}{
		{"risk halt", func(in *domsvc.PlanInput) { in.Verdict.Halted = true; in.Verdict.Allow = false }, "risk halt"},
		{"emergency halt", func(in *domsvc.PlanInput) { in.Halted = true }, "emergency"},
		{"cap 0.24 to over 0.25", func(in *domsvc.PlanInput) { in.DeployedCapital = d("24000") }, "cap"},
		{"zero scale", func(in *domsvc.PlanInput) { in.Verdict.ScaleFactor = d("0") }, "size 0"},
		{"nothing in band", func(in *domsvc.PlanInput) { in.PutChain = in.PutChain[:3] }, "no put strike"},
		{"already open this week", func(in *domsvc.PlanInput) {
			in.Positions = []models.Position{{
				ID: "p1", TradeType: models.TradePutCreditSpread, Status: models.PositionOpen,
				Contracts: 1, Expiration: models.TimePtr(weekly),
			}}
		}, "already open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := bullInput()
			tt.mutate(&in)
			plan, err := p.Plan(in)
			require.NoError(t, err)
			assert.Empty(t, plan.Actions)
			require.NotEmpty(t, plan.Notes)
			assert.Contains(t, plan.Notes[0], tt.note)
		})
	}
}

func TestPlan_ScaleDownHalvesContracts(t *testing.T) {
	p := newPlanner(t, func(c *config.PlannerConfig) { c.Contracts = 3 })
	in := bullInput()
	in.Verdict.ScaleFactor = d("0.5")
	plan, err := p.Plan(in)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, 1, plan.Actions[0].Action.(models.OpenPutSpread).Contracts)
}

func TestPlan_DeltaFilterAndLongLeg(t *testing.T) {
	p := newPlanner(t, nil)
	in := bullInput()
	in.PutChain = putChain()
	in.PutChain[6].Delta = d("-0.15") // 460 too hot
	plan, err := p.Plan(in)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	a := plan.Actions[0].Action.(models.OpenPutSpread)
	assert.True(t, a.ShortStrike.Equal(d("465")))
	assert.True(t, a.LongStrike.Equal(d("440")))

	// without a quoted long leg the strike is skipped
	in.PutChain = append([]models.OptionQuote{}, putChain()[2:]...)
	plan, err = p.Plan(in)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.True(t, plan.Actions[0].Action.(models.OpenPutSpread).ShortStrike.Equal(d("465")))
}

func TestPlan_AccountSizing(t *testing.T) {
	p := newPlanner(t, func(c *config.PlannerConfig) { c.Contracts = 0; c.MaxPositionPct = 0.05 })
	plan, err := p.Plan(bullInput())
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	// 5000 / 2450 per contract
	assert.Equal(t, 2, plan.Actions[0].Action.(models.OpenPutSpread).Contracts)
}

func TestPlan_MissingPrerequisite(t *testing.T) {
	p := newPlanner(t, nil)

	in := bullInput()
	in.Snapshot = nil
	plan, err := p.Plan(in)
	assert.True(t, errors.Is(err, models.ErrMissingPrerequisite))
	assert.Empty(t, plan.Actions)

	in = bullInput()
	in.Regime = nil
	_, err = p.Plan(in)
	assert.True(t, errors.Is(err, models.ErrMissingPrerequisite))

	in = bullInput()
	in.PutChain = nil
	plan, err = p.Plan(in)
	assert.True(t, errors.Is(err, models.ErrMissingPrerequisite))
	assert.Empty(t, plan.Actions)
	var de *models.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, models.RegimeNormalBull, de.Regime)
}

func spread(id, short, long string) models.Position {
	return models.Position{
		ID: id, TradeType: models.TradePutCreditSpread, Symbol: "QQQ",
		ShortStrike: models.Dec(d(short)), LongStrike: models.Dec(d(long)),
		Contracts: 2, Status: models.PositionOpen, Expiration: models.TimePtr(evalAt),
	}
}

func TestPlan_DefenseClosesSpreadEvenWhenHalted(t *testing.T) {
	p := newPlanner(t, nil)
	in := bullInput()
	in.Regime.Type = models.RegimeDefenseTrigger
	in.Snapshot = snapshot("548.12")
	in.Verdict = models.RiskVerdict{Halted: true, ScaleFactor: d("0.5")}
	in.Halted = true
	in.Positions = []models.Position{spread("s1", "555", "530")}

	plan, err := p.Plan(in)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	c, ok := plan.Actions[0].Action.(models.ClosePutSpread)
	require.True(t, ok)
	assert.Equal(t, "s1", c.PositionID)
	assert.True(t, c.Debit.Equal(d("6.88")), "intrinsic, got %s", c.Debit)

	in.Positions = nil
	_, err = p.Plan(in)
	assert.True(t, errors.Is(err, models.ErrMissingPrerequisite))
}

func recoveryInput() domsvc.PlanInput {
	anchorExp := time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC)
	in := bullInput()
	in.Regime = &models.RegimeRecord{ID: "r", Type: models.RegimeRecoveryMode, IsActive: true, RecoveryStrike: models.Dec(d("520"))}
	in.PutChain = nil
	in.CallChain = []models.OptionQuote{call("515", "1.10", "0.25", weekly), call("520", "0.85", "0.20", weekly)}
	in.AnchorChain = []models.OptionQuote{
		call("440", "62", "0.9", anchorExp),
		call("450", "55", "0.85", anchorExp),
		call("460", "47", "0.8", anchorExp),
	}
	return in
}

func TestPlan_RecoveryFirstEntry(t *testing.T) {
	p := newPlanner(t, nil)
	plan, err := p.Plan(recoveryInput())
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)

	anchor, ok := plan.Actions[0].Action.(models.BuyAnchorCall)
	require.True(t, ok, "anchor first, got %T", plan.Actions[0].Action)
	assert.True(t, anchor.Strike.Equal(d("450")))
	assert.True(t, anchor.Debit.Equal(d("55")))
	assert.Equal(t, time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC), anchor.Expiration)

	cc, ok := plan.Actions[1].Action.(models.SellCoveredCall)
	require.True(t, ok)
	assert.True(t, cc.Strike.Equal(d("520")))
	assert.Equal(t, anchor.Contracts, cc.Contracts)
	assert.True(t, cc.Credit.Equal(d("0.85")))
	assert.Equal(t, weekly, cc.Expiration)

	var planned []models.Action
	for _, pa := range plan.Actions {
		assert.NoError(t, risk.CheckCoverage(pa.Action, nil, planned))
		planned = append(planned, pa.Action)
	}
}

func TestPlan_RecoverySubsequentWeek(t *testing.T) {
	p := newPlanner(t, nil)
	in := recoveryInput()
	in.Positions = []models.Position{
		{ID: "a1", TradeType: models.TradeAnchorCall, Symbol: "QQQ", LongStrike: models.Dec(d("450")), Contracts: 2,
			Status: models.PositionOpen, Expiration: models.TimePtr(time.Date(2025, 5, 16, 0, 0, 0, 0, time.UTC))},
		{ID: "c1", TradeType: models.TradeCoveredCall, Symbol: "QQQ", ShortStrike: models.Dec(d("520")), Contracts: 2,
			Status: models.PositionOpen, Expiration: models.TimePtr(evalAt)},
	}

	plan, err := p.Plan(in)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)
	cl, ok := plan.Actions[0].Action.(models.CloseRecovery)
	require.True(t, ok)
	assert.Equal(t, "c1", cl.PositionID)
	cc, ok := plan.Actions[1].Action.(models.SellCoveredCall)
	require.True(t, ok)
	assert.Equal(t, 2, cc.Contracts)
	assert.True(t, cc.Strike.Equal(d("520")), "strike is never re-priced")

	// halted: the close still goes out, the new call does not
	in.Verdict.Halted = true
	plan, err = p.Plan(in)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, models.ActionCloseRecovery, plan.Actions[0].Action.Kind())
}

func TestPlan_RecoveryComplete(t *testing.T) {
	p := newPlanner(t, nil)
	in := bullInput()
	in.Regime.Type = models.RegimeRecoveryComplete
	in.Positions = []models.Position{
		{ID: "a1", TradeType: models.TradeAnchorCall, Symbol: "QQQ", LongStrike: models.Dec(d("450")), Contracts: 2, Status: models.PositionOpen},
		{ID: "c1", TradeType: models.TradeCoveredCall, Symbol: "QQQ", ShortStrike: models.Dec(d("520")), Contracts: 2, Status: models.PositionOpen},
	}
	plan, err := p.Plan(in)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, "c1", plan.Actions[0].Action.(models.CloseRecovery).PositionID, "short call first")
	assert.Equal(t, "a1", plan.Actions[1].Action.(models.CloseRecovery).PositionID)
	assert.True(t, plan.Actions[1].Action.(models.CloseRecovery).Price.Equal(d("50")))
}

func TestPlan_ClosesPrecedeOpens(t *testing.T) {
	p := newPlanner(t, nil)
	for _, in := range []domsvc.PlanInput{bullInput(), recoveryInput()} {
		plan, err := p.Plan(in)
		require.NoError(t, err)
		seenOpen := false
		for _, pa := range plan.Actions {
			if pa.Action.Opening() {
				seenOpen = true
				continue
			}
			assert.False(t, seenOpen && pa.Action.Kind() != models.ActionNoAction, "close after open")
		}
	}
}

func TestContracts(t *testing.T) {
	cfg := config.Default().Planner
	cfg.Contracts = 5
	assert.Equal(t, 5, Contracts(cfg, d("1"), d("2000"), d("100000")))
	assert.Equal(t, 2, Contracts(cfg, d("0.5"), d("2000"), d("100000")))

	cfg.Contracts = 0
	assert.Equal(t, 10, Contracts(cfg, d("1"), d("100"), d("100000")), "clamped to max")
	assert.Equal(t, 1, Contracts(cfg, d("1"), d("90000"), d("100000")), "at least one")
	assert.Equal(t, 0, Contracts(cfg, d("1"), d("0"), d("100000")))

	cfg.Contracts = 1
	assert.Equal(t, 1, Contracts(cfg, d("0.5"), d("2000"), d("100000")), "scale-down keeps one contract")
	cfg.Contracts = 3
	assert.Equal(t, 1, Contracts(cfg, d("0.5"), d("2000"), d("100000")))
	assert.Equal(t, 0, Contracts(cfg, d("0"), d("2000"), d("100000")), "zero scale opens nothing")
}
