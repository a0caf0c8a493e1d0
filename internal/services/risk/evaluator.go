package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	domsvc "RegimeDesk/internal/domain/service"
	"RegimeDesk/pkg/config"
)

// Evaluator applies the drawdown, VIX and deployment rules of a RiskConfig.
type Evaluator struct {
	cfg config.RiskConfig
}

// NewEvaluator wraps the package-level checks around a fixed risk config.
func NewEvaluator(cfg config.RiskConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

var _ domsvc.RiskEvaluator = (*Evaluator)(nil)

func (e *Evaluator) Evaluate(in domsvc.RiskInput) (models.RiskVerdict, domsvc.RiskState) {
	return Evaluate(e.cfg, in)
}

func (e *Evaluator) CheckDeployed(deployed, add, limit decimal.Decimal) error {
	return CheckDeployed(e.cfg, deployed, add, limit)
}

func (e *Evaluator) CheckCoverage(a models.Action, open []models.Position, planned []models.Action) error {
	return CheckCoverage(a, open, planned)
}

// Evaluate computes the verdict for one cycle together with the breach
// bookkeeping the caller has to carry into the next one.
func Evaluate(cfg config.RiskConfig, in domsvc.RiskInput) (models.RiskVerdict, domsvc.RiskState) {
	v := models.RiskVerdict{
		Allow:       true,
		ScaleFactor: decimal.NewFromInt(1),
		Reasons:     []string{},
	}
	st := domsvc.RiskState{
		HighWaterMark:      in.HighWaterMark,
		DrawdownBreachAt:   in.DrawdownBreachAt,
		VixBreachStartedAt: in.VixBreachStartedAt,
	}

	hwm := in.HighWaterMark
	if !hwm.IsPositive() {
		hwm = in.Equity
	}
	if hwm.IsPositive() {
		v.Drawdown = hwm.Sub(in.Equity).Div(hwm)
		if v.Drawdown.IsNegative() {
			v.Drawdown = decimal.Zero
		}
	}
	if in.Equity.GreaterThan(hwm) {
		hwm = in.Equity
	}
	st.HighWaterMark = hwm

	threshold := decimal.NewFromFloat(cfg.DrawdownThreshold)
	breached := v.Drawdown.GreaterThan(threshold)
	window := cfg.ScaleDownWindow
	start := in.DrawdownBreachAt
	if start != nil && in.Now.Sub(*start) >= window {
		// cooldown over; a fresh breach opens a new window below
		start = nil
	}
	if start == nil && breached {
		start = models.TimePtr(in.Now)
	}
	st.DrawdownBreachAt = start
	if start != nil {
		v.ScaleFactor = decimal.NewFromFloat(cfg.ScaleDownFactor)
		v.Reasons = append(v.Reasons, fmt.Sprintf(
			"drawdown %s%% breached %s%% on %s, sizing x%s until %s",
			pct(v.Drawdown), pct(threshold), start.Format(time.RFC3339), v.ScaleFactor,
			start.Add(window).Format("2006-01-02")))
	}

	level := decimal.NewFromFloat(cfg.VixHaltLevel)
	if in.VIX.GreaterThanOrEqual(level) {
		vs := in.VixBreachStartedAt
		if vs == nil {
			vs = models.TimePtr(in.Now)
		}
		st.VixBreachStartedAt = vs
		held := in.Now.Sub(*vs)
		if held >= cfg.VixHaltDuration {
			v.Halted = true
			v.Reasons = append(v.Reasons, fmt.Sprintf(
				"vix %s >= %s for %s, new positions halted", in.VIX, level, held.Round(time.Minute)))
		} else {
			v.Reasons = append(v.Reasons, fmt.Sprintf(
				"vix %s >= %s since %s, halt after %s", in.VIX, level, vs.Format(time.RFC3339), cfg.VixHaltDuration))
		}
	} else {
		st.VixBreachStartedAt = nil
	}

	if in.AccountLimit.IsPositive() {
		v.DeployedPct = in.DeployedCapital.Div(in.AccountLimit)
	}
	v.Allow = !v.Halted
	return v, st
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2)
}
