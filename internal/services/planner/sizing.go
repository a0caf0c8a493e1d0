package planner

import (
	"github.com/shopspring/decimal"

	"RegimeDesk/pkg/config"
)

// Contracts sizes a new position as floor(min(base, scale*base)), never
// below one contract while scale is positive. A zero configured base is
// derived from the account limit and the per-contract risk.
func Contracts(cfg config.PlannerConfig, scale, perContractRisk, limit decimal.Decimal) int {
	base := cfg.Contracts
	if base <= 0 {
		if !perContractRisk.IsPositive() || !limit.IsPositive() {
			return 0
		}
		budget := limit.Mul(decimal.NewFromFloat(cfg.MaxPositionPct))
		base = int(budget.Div(perContractRisk).Floor().IntPart())
		if base < 1 {
			base = 1
		}
	}
	if cfg.MaxContracts > 0 && base > cfg.MaxContracts {
		base = cfg.MaxContracts
	}

	if !scale.IsPositive() || base < 1 {
		return 0
	}
	b := decimal.NewFromInt(int64(base))
	scaled := decimal.Min(b, b.Mul(scale)).Floor()
	return max(1, int(scaled.IntPart()))
}
