package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeDesk/internal/domain/models"
	domsvc "RegimeDesk/internal/domain/service"
	"RegimeDesk/pkg/config"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2025, 3, 7, 20, 0, 0, 0, time.UTC)

func baseInput() domsvc.RiskInput {
	return domsvc.RiskInput{
		Equity:          d("100000"),
		HighWaterMark:   d("100000"),
		DeployedCapital: d("0"),
		AccountLimit:    d("100000"),
		VIX:             d("18"),
		Now:             t0,
	}
}

func TestEvaluate_DrawdownBoundary(t *testing.T) {
	cfg := config.Default().Risk

	in := baseInput()
	in.Equity = d("85000") // exactly 15.0%
	v, st := Evaluate(cfg, in)
	assert.True(t, v.ScaleFactor.Equal(d("1")), "15.0%% must not scale, got %s", v.ScaleFactor)
	assert.Nil(t, st.DrawdownBreachAt)
	assert.True(t, v.Allow)

	in.Equity = d("84990") // 15.01%
	v, st = Evaluate(cfg, in)
	assert.True(t, v.ScaleFactor.Equal(d("0.5")))
	require.NotNil(t, st.DrawdownBreachAt)
	assert.Equal(t, t0, *st.DrawdownBreachAt)
	assert.True(t, v.Allow, "scale-down is not a halt")
}

func TestEvaluate_ScenarioC_FourWeekWindow(t *testing.T) {
	cfg := config.Default().Risk

	in := baseInput()
	in.Equity = d("84000")
	v, st := Evaluate(cfg, in)
	require.True(t, v.ScaleFactor.Equal(d("0.5")))
	assert.True(t, v.Drawdown.Equal(d("0.16")))
	require.Len(t, v.Reasons, 1)
	assert.Contains(t, v.Reasons[0], "drawdown")

	// recovered below the threshold but still inside the window
	for _, weeks := range []int{1, 2, 3} {
		in = baseInput()
		in.Equity = d("95000")
		in.HighWaterMark = st.HighWaterMark
		in.DrawdownBreachAt = st.DrawdownBreachAt
		in.Now = t0.Add(time.Duration(weeks) * 7 * 24 * time.Hour)
		v, _ = Evaluate(cfg, in)
		assert.True(t, v.ScaleFactor.Equal(d("0.5")), "week %d", weeks)
	}

	// exactly four weeks later the window has closed
	in.Now = t0.Add(4 * 7 * 24 * time.Hour)
	v, next := Evaluate(cfg, in)
	assert.True(t, v.ScaleFactor.Equal(d("1")))
	assert.Nil(t, next.DrawdownBreachAt)
}

func TestEvaluate_WindowRestartsWhenStillBreached(t *testing.T) {
	cfg := config.Default().Risk
	in := baseInput()
	in.Equity = d("80000")
	in.DrawdownBreachAt = models.TimePtr(t0.Add(-5 * 7 * 24 * time.Hour))

	v, st := Evaluate(cfg, in)
	assert.True(t, v.ScaleFactor.Equal(d("0.5")))
	require.NotNil(t, st.DrawdownBreachAt)
	assert.Equal(t, t0, *st.DrawdownBreachAt)
}

func TestEvaluate_HighWaterMark(t *testing.T) {
	cfg := config.Default().Risk

	in := baseInput()
	in.HighWaterMark = decimal.Zero
	in.Equity = d("50000")
	v, st := Evaluate(cfg, in)
	assert.True(t, st.HighWaterMark.Equal(d("50000")), "seeded from equity")
	assert.True(t, v.Drawdown.IsZero())

	in = baseInput()
	in.Equity = d("120000")
	_, st = Evaluate(cfg, in)
	assert.True(t, st.HighWaterMark.Equal(d("120000")))
}

func TestEvaluate_ScenarioD_VixHalt(t *testing.T) {
	cfg := config.Default().Risk

	step := func(vix string, at time.Time, started *time.Time) (models.RiskVerdict, domsvc.RiskState) {
		in := baseInput()
		in.VIX = d(vix)
		in.Now = at
		in.VixBreachStartedAt = started
		return Evaluate(cfg, in)
	}

	v, st := step("46", t0, nil)
	assert.False(t, v.Halted)
	require.NotNil(t, st.VixBreachStartedAt)
	assert.Equal(t, t0, *st.VixBreachStartedAt)

	v, st = step("46", t0.Add(47*time.Hour), st.VixBreachStartedAt)
	assert.False(t, v.Halted)

	v, st = step("46", t0.Add(48*time.Hour), st.VixBreachStartedAt)
	assert.True(t, v.Halted)
	assert.False(t, v.Allow)

	v, st = step("46", t0.Add(49*time.Hour), st.VixBreachStartedAt)
	assert.True(t, v.Halted)

	v, st = step("44.99", t0.Add(50*time.Hour), st.VixBreachStartedAt)
	assert.False(t, v.Halted)
	assert.True(t, v.Allow)
	assert.Nil(t, st.VixBreachStartedAt)
}

func TestEvaluate_ReasonsOrdered(t *testing.T) {
	cfg := config.Default().Risk
	in := baseInput()
	in.Equity = d("70000")
	in.VIX = d("50")
	in.VixBreachStartedAt = models.TimePtr(t0.Add(-72 * time.Hour))

	v, _ := Evaluate(cfg, in)
	require.Len(t, v.Reasons, 2)
	assert.Contains(t, v.Reasons[0], "drawdown")
	assert.Contains(t, v.Reasons[1], "vix")
	assert.True(t, v.Halted)
}

func TestEvaluate_ThresholdsFromConfig(t *testing.T) {
	cfg := config.Default().Risk
	cfg.DrawdownThreshold = 0.05
	cfg.VixHaltLevel = 30
	cfg.VixHaltDuration = 0

	in := baseInput()
	in.Equity = d("94000")
	in.VIX = d("30")
	v, _ := Evaluate(cfg, in)
	assert.True(t, v.ScaleFactor.Equal(d("0.5")))
	assert.True(t, v.Halted)
}

func TestCheckDeployed_HardCap(t *testing.T) {
	cfg := config.Default().Risk
	limit := d("100000")

	err := CheckDeployed(cfg, d("24000"), d("2000"), limit)
	require.Error(t, err)
	assert.True(t, IsCapExceeded(err))
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	assert.NoError(t, CheckDeployed(cfg, d("24000"), d("1000"), limit), "exactly at the cap is allowed")
	assert.Error(t, CheckDeployed(cfg, d("0"), d("1"), decimal.Zero))
}
