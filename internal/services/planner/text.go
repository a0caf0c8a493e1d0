package planner

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
)

type textContext struct {
	snap    models.MarketSnapshot
	regime  models.RegimeType
	verdict models.RiskVerdict
	limit   decimal.Decimal
}

func money(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

func (tc textContext) market(b *strings.Builder) {
	b.WriteString("**Market Analysis:**\n")
	fmt.Fprintf(b, "- %s Price: %s\n", tc.snap.Symbol, money(tc.snap.Price))
	fmt.Fprintf(b, "- VIX: %s\n", tc.snap.VIX.StringFixed(2))
	fmt.Fprintf(b, "- 7d ATM IV: %s%%\n", tc.snap.ImpliedVolATM7d.Mul(decimal.NewFromInt(100)).StringFixed(1))
	fmt.Fprintf(b, "- Regime: %s\n", tc.regime)
	fmt.Fprintf(b, "- Snapshot: %s (%s)\n\n", tc.snap.CapturedAt.UTC().Format("2006-01-02 15:04 MST"), tc.snap.Source)
}

func (tc textContext) reasoning(a models.Action) string {
	var b strings.Builder
	tc.market(&b)
	b.WriteString("**Trade Rationale:**\n")
	switch v := a.(type) {
	case models.OpenPutSpread:
		fmt.Fprintf(&b, "- Short Strike: %s (Delta: %s)\n", money(v.ShortStrike), v.ShortDelta.StringFixed(3))
		fmt.Fprintf(&b, "- Long Strike: %s\n", money(v.LongStrike))
		fmt.Fprintf(&b, "- Net Credit: %s per share\n", money(v.Credit))
		fmt.Fprintf(&b, "- Expiration: %s\n", v.Expiration.Format("2006-01-02"))
		b.WriteString("- Three clean weeks on record, premium inside the target band.\n")
	case models.ClosePutSpread:
		fmt.Fprintf(&b, "- Price %s is below the short strike %s.\n", money(tc.snap.Price), money(v.ShortStrike))
		fmt.Fprintf(&b, "- Closing the %s/%s spread before expiration limits the loss.\n", money(v.ShortStrike), money(v.LongStrike))
		fmt.Fprintf(&b, "- Estimated debit: %s per share\n", money(v.Debit))
	case models.BuyAnchorCall:
		fmt.Fprintf(&b, "- Anchor call strike %s expiring %s.\n", money(v.Strike), v.Expiration.Format("2006-01-02"))
		fmt.Fprintf(&b, "- Estimated debit: %s per share\n", money(v.Debit))
		b.WriteString("- Long call backs the weekly covered calls while price recovers.\n")
	case models.SellCoveredCall:
		fmt.Fprintf(&b, "- Weekly call at the recovery strike %s expiring %s.\n", money(v.Strike), v.Expiration.Format("2006-01-02"))
		fmt.Fprintf(&b, "- Estimated credit: %s per share\n", money(v.Credit))
	case models.CloseRecovery:
		fmt.Fprintf(&b, "- Closing %s at strike %s.\n", v.TradeType, money(v.Strike))
		fmt.Fprintf(&b, "- Estimated price: %s per share\n", money(v.Price))
	case models.NoAction:
		fmt.Fprintf(&b, "- %s\n", v.Reason)
	}
	return b.String()
}

func (tc textContext) riskAssessment(a models.Action) string {
	var b strings.Builder
	b.WriteString("**Risk Factors:**\n")
	switch v := a.(type) {
	case models.OpenPutSpread:
		fmt.Fprintf(&b, "1. Max Loss: %s if %s closes below %s\n", money(v.MaxRisk), v.Symbol, money(v.LongStrike))
		fmt.Fprintf(&b, "2. Breakeven: %s\n", money(v.ShortStrike.Sub(v.Credit)))
		fmt.Fprintf(&b, "3. Max Profit: %s\n\n", money(v.MaxProfit))
		b.WriteString("**Position Sizing:**\n")
		fmt.Fprintf(&b, "- Contracts: %d (scale x%s)\n", v.Contracts, tc.verdict.ScaleFactor)
		if tc.limit.IsPositive() {
			fmt.Fprintf(&b, "- %% of Account at Risk: %s%%\n", v.MaxRisk.Div(tc.limit).Mul(decimal.NewFromInt(100)).StringFixed(1))
		}
	case models.BuyAnchorCall:
		fmt.Fprintf(&b, "1. Max Loss: %s (premium paid)\n", money(v.CapitalRequired()))
		fmt.Fprintf(&b, "2. Contracts: %d (scale x%s)\n", v.Contracts, tc.verdict.ScaleFactor)
	case models.SellCoveredCall:
		fmt.Fprintf(&b, "1. Covered by the anchor call; upside above %s is capped for the week.\n", money(v.Strike))
		fmt.Fprintf(&b, "2. Contracts: %d\n", v.Contracts)
	case models.ClosePutSpread, models.CloseRecovery:
		b.WriteString("1. Closing reduces exposure and is allowed under any risk verdict.\n")
	case models.NoAction:
		b.WriteString("1. No new exposure.\n")
	}
	if len(tc.verdict.Reasons) > 0 {
		b.WriteString("\n**Guardrails:**\n")
		for _, r := range tc.verdict.Reasons {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

func (tc textContext) propose(a models.Action) models.ProposedAction {
	return models.ProposedAction{
		Action:         a,
		Reasoning:      tc.reasoning(a),
		RiskAssessment: tc.riskAssessment(a),
	}
}
