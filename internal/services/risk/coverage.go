package risk

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	"RegimeDesk/pkg/config"
)

// ErrDeployedCap marks an action refused by the deployed-capital cap.
var ErrDeployedCap = errors.New("deployed capital cap exceeded")

// CheckDeployed refuses an action whose capital would take deployment above
// the cap. It never suggests a smaller size.
func CheckDeployed(cfg config.RiskConfig, deployed, add, limit decimal.Decimal) error {
	if !limit.IsPositive() {
		return models.Errorf(models.ErrInvalidState, "risk.CheckDeployed", "%w: account limit %s not positive", ErrDeployedCap, limit)
	}
	capPct := decimal.NewFromFloat(cfg.DeployedCap)
	after := deployed.Add(add).Div(limit)
	if after.GreaterThan(capPct) {
		return models.Errorf(models.ErrInvalidState, "risk.CheckDeployed",
			"%w: deployed %s%% -> %s%% over cap %s%%", ErrDeployedCap,
			pct(deployed.Div(limit)), pct(after), pct(capPct))
	}
	return nil
}

// CheckCoverage rejects any short leg without an offsetting long leg in the
// same underlying expiring no earlier and covering at least as many contracts.
// planned holds the actions that run before a in the same plan.
func CheckCoverage(a models.Action, open []models.Position, planned []models.Action) error {
	const op = "risk.CheckCoverage"
	switch v := a.(type) {
	case models.OpenPutSpread:
		if v.Contracts <= 0 || !v.LongStrike.IsPositive() || !v.LongStrike.LessThan(v.ShortStrike) {
			return models.Errorf(models.ErrInvariantViolation, op,
				"put spread %s/%s x%d has no valid long leg", v.ShortStrike, v.LongStrike, v.Contracts).
				WithAction(v.Kind())
		}
		return nil
	case models.SellCoveredCall:
		return checkCoveredCall(v, open, planned)
	default:
		return nil
	}
}

func checkCoveredCall(c models.SellCoveredCall, open []models.Position, planned []models.Action) error {
	covers := func(symbol string, exp *time.Time) bool {
		return symbol == c.Symbol && exp != nil && !exp.Before(c.Expiration)
	}
	closing := map[string]bool{}
	for _, p := range planned {
		if cr, ok := p.(models.CloseRecovery); ok {
			closing[cr.PositionID] = true
		}
	}

	long, short := 0, c.Contracts
	for _, p := range open {
		if !p.IsOpen() || closing[p.ID] {
			continue
		}
		switch p.TradeType {
		case models.TradeAnchorCall:
			if covers(p.Symbol, p.Expiration) {
				long += p.Contracts
			}
		case models.TradeCoveredCall:
			if p.Symbol == c.Symbol {
				short += p.Contracts
			}
		}
	}
	for _, p := range planned {
		switch v := p.(type) {
		case models.BuyAnchorCall:
			if covers(v.Symbol, &v.Expiration) {
				long += v.Contracts
			}
		case models.SellCoveredCall:
			if v.Symbol == c.Symbol {
				short += v.Contracts
			}
		}
	}
	if long < short {
		return models.Errorf(models.ErrInvariantViolation, "risk.CheckCoverage",
			"naked short: %d short %s calls exp %s against %d anchor contracts",
			short, c.Symbol, c.Expiration.Format("2006-01-02"), long).WithAction(c.Kind())
	}
	return nil
}

// IsCapExceeded reports whether err came from the deployed-capital cap.
func IsCapExceeded(err error) bool {
	return errors.Is(err, ErrDeployedCap)
}
