package usecase

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
)

// Deployed sums the max risk of open positions still alive after day.
// Positions expiring on day no longer count against the cap.
func Deployed(positions []models.Position, day time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if !p.IsOpen() || p.ExpiresOnOrBefore(day) {
			continue
		}
		total = total.Add(p.Risk())
	}
	return total
}

// ActiveShortStrike is the highest short strike among open put spreads that
// have not expired before day.
func ActiveShortStrike(positions []models.Position, day time.Time) *decimal.Decimal {
	var best *decimal.Decimal
	for _, p := range positions {
		if !p.IsOpen() || p.TradeType != models.TradePutCreditSpread || p.ShortStrike == nil {
			continue
		}
		if p.Expiration != nil && models.DateOf(*p.Expiration).Before(models.DateOf(day)) {
			continue
		}
		if best == nil || p.ShortStrike.GreaterThan(*best) {
			best = models.Dec(*p.ShortStrike)
		}
	}
	return best
}

func openOf(positions []models.Position, types ...models.TradeType) []models.Position {
	var out []models.Position
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		for _, t := range types {
			if p.TradeType == t {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// lastClosed returns the most recently closed or expired position in the list.
func lastClosed(positions []models.Position) *models.Position {
	var done []models.Position
	for _, p := range positions {
		if !p.IsOpen() && p.ClosedAt != nil {
			done = append(done, p)
		}
	}
	if len(done) == 0 {
		return nil
	}
	sort.Slice(done, func(i, j int) bool { return done[i].ClosedAt.After(*done[j].ClosedAt) })
	return &done[0]
}

func findPosition(positions []models.Position, id string) (models.Position, bool) {
	for _, p := range positions {
		if p.ID == id {
			return p, true
		}
	}
	return models.Position{}, false
}

// replacePositions overlays changed positions on a list of open positions,
// dropping the ones that are no longer open.
func replacePositions(open []models.Position, changed []models.Position) []models.Position {
	byID := make(map[string]models.Position, len(changed))
	for _, c := range changed {
		byID[c.ID] = c
	}
	out := make([]models.Position, 0, len(open)+len(changed))
	for _, p := range open {
		if c, ok := byID[p.ID]; ok {
			delete(byID, p.ID)
			if c.IsOpen() {
				out = append(out, c)
			}
			continue
		}
		out = append(out, p)
	}
	for _, c := range changed {
		if _, ok := byID[c.ID]; ok && c.IsOpen() {
			out = append(out, c)
		}
	}
	return out
}
