package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RecommendationStatus string

const (
	RecPending  RecommendationStatus = "pending"
	RecApproved RecommendationStatus = "approved"
	RecRejected RecommendationStatus = "rejected"
	RecExecuted RecommendationStatus = "executed"
	RecExpired  RecommendationStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s RecommendationStatus) Terminal() bool {
	return s == RecExecuted || s == RecRejected || s == RecExpired
}

// Recommendation wraps one proposed action in the approval life cycle.
type Recommendation struct {
	ID        string               `json:"id"`
	CycleID   string               `json:"cycle_id"`
	Sequence  int                  `json:"sequence"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	Status    RecommendationStatus `json:"status"`

	RegimeType      RegimeType      `json:"regime_type"`
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	ImpliedVolATM7d decimal.Decimal `json:"implied_vol_atm_7d"`
	VIX             decimal.Decimal `json:"vix"`
	SnapshotAt      time.Time       `json:"snapshot_at"`
	SnapshotSource  SnapshotSource  `json:"snapshot_source"`

	Action           ActionKind       `json:"action"`
	TradeType        TradeType        `json:"trade_type,omitempty"`
	TargetPositionID string           `json:"target_position_id,omitempty"`
	ShortStrike      *decimal.Decimal `json:"short_strike,omitempty"`
	LongStrike       *decimal.Decimal `json:"long_strike,omitempty"`
	Strike           *decimal.Decimal `json:"strike,omitempty"`
	Contracts        int              `json:"contracts"`
	Expiration       *time.Time       `json:"expiration,omitempty"`
	EstimatedCredit  *decimal.Decimal `json:"estimated_credit,omitempty"`
	EstimatedDebit   *decimal.Decimal `json:"estimated_debit,omitempty"`
	MaxRisk          *decimal.Decimal `json:"max_risk,omitempty"`
	MaxProfit        *decimal.Decimal `json:"max_profit,omitempty"`
	ShortDelta       *decimal.Decimal `json:"short_delta,omitempty"`
	Note             string           `json:"note,omitempty"`

	Reasoning      string `json:"reasoning"`
	RiskAssessment string `json:"risk_assessment"`

	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	ExecutedAt      *time.Time       `json:"executed_at,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	OrderID         string           `json:"order_id,omitempty"`
	ExecutionPrice  *decimal.Decimal `json:"execution_price,omitempty"`
}

// IsPastExpiry reports whether the recommendation can no longer progress at now.
func (r Recommendation) IsPastExpiry(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// NewRecommendation flattens a proposed action into a pending recommendation.
func NewRecommendation(id, cycleID string, seq int, regime RegimeType, snap MarketSnapshot, pa ProposedAction, now time.Time, ttl time.Duration) Recommendation {
	r := Recommendation{
		ID:              id,
		CycleID:         cycleID,
		Sequence:        seq,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		Status:          RecPending,
		RegimeType:      regime,
		Symbol:          snap.Symbol,
		Price:           snap.Price,
		ImpliedVolATM7d: snap.ImpliedVolATM7d,
		VIX:             snap.VIX,
		SnapshotAt:      snap.CapturedAt,
		SnapshotSource:  snap.Source,
		Action:          pa.Action.Kind(),
		Reasoning:       pa.Reasoning,
		RiskAssessment:  pa.RiskAssessment,
	}
	switch a := pa.Action.(type) {
	case OpenPutSpread:
		r.TradeType = TradePutCreditSpread
		r.Symbol = a.Symbol
		r.ShortStrike, r.LongStrike = Dec(a.ShortStrike), Dec(a.LongStrike)
		r.Contracts = a.Contracts
		r.Expiration = TimePtr(a.Expiration)
		r.EstimatedCredit = Dec(a.Credit)
		r.ShortDelta = Dec(a.ShortDelta)
		r.MaxRisk, r.MaxProfit = Dec(a.MaxRisk), Dec(a.MaxProfit)
	case ClosePutSpread:
		r.TradeType = TradePutCreditSpread
		r.TargetPositionID = a.PositionID
		r.Symbol = a.Symbol
		r.ShortStrike, r.LongStrike = Dec(a.ShortStrike), Dec(a.LongStrike)
		r.Contracts = a.Contracts
		r.Expiration = TimePtr(a.Expiration)
		r.EstimatedDebit = Dec(a.Debit)
	case SellCoveredCall:
		r.TradeType = TradeCoveredCall
		r.Symbol = a.Symbol
		r.Strike = Dec(a.Strike)
		r.Contracts = a.Contracts
		r.Expiration = TimePtr(a.Expiration)
		r.EstimatedCredit = Dec(a.Credit)
		r.ShortDelta = Dec(a.Delta)
	case BuyAnchorCall:
		r.TradeType = TradeAnchorCall
		r.Symbol = a.Symbol
		r.Strike = Dec(a.Strike)
		r.Contracts = a.Contracts
		r.Expiration = TimePtr(a.Expiration)
		r.EstimatedDebit = Dec(a.Debit)
		r.MaxRisk = Dec(a.CapitalRequired())
	case CloseRecovery:
		r.TradeType = a.TradeType
		r.TargetPositionID = a.PositionID
		r.Symbol = a.Symbol
		r.Strike = Dec(a.Strike)
		r.Contracts = a.Contracts
		r.Expiration = TimePtr(a.Expiration)
		r.EstimatedDebit = Dec(a.Price)
	case NoAction:
		r.Note = a.Reason
	}
	return r
}

// ToAction rebuilds the typed action a recommendation was created from.
func (r Recommendation) ToAction() (Action, error) {
	exp := time.Time{}
	if r.Expiration != nil {
		exp = *r.Expiration
	}
	val := func(d *decimal.Decimal) decimal.Decimal {
		if d == nil {
			return decimal.Zero
		}
		return *d
	}
	switch r.Action {
	case ActionOpenPutSpread:
		return OpenPutSpread{
			Symbol: r.Symbol, Expiration: exp,
			ShortStrike: val(r.ShortStrike), LongStrike: val(r.LongStrike),
			Contracts: r.Contracts, Credit: val(r.EstimatedCredit), ShortDelta: val(r.ShortDelta),
			MaxRisk: val(r.MaxRisk), MaxProfit: val(r.MaxProfit),
		}, nil
	case ActionClosePutSpread:
		return ClosePutSpread{
			PositionID: r.TargetPositionID, Symbol: r.Symbol, Expiration: exp,
			ShortStrike: val(r.ShortStrike), LongStrike: val(r.LongStrike),
			Contracts: r.Contracts, Debit: val(r.EstimatedDebit),
		}, nil
	case ActionSellCoveredCall:
		return SellCoveredCall{
			Symbol: r.Symbol, Expiration: exp, Strike: val(r.Strike),
			Contracts: r.Contracts, Credit: val(r.EstimatedCredit), Delta: val(r.ShortDelta),
		}, nil
	case ActionBuyAnchorCall:
		return BuyAnchorCall{
			Symbol: r.Symbol, Expiration: exp, Strike: val(r.Strike),
			Contracts: r.Contracts, Debit: val(r.EstimatedDebit),
		}, nil
	case ActionCloseRecovery:
		return CloseRecovery{
			PositionID: r.TargetPositionID, TradeType: r.TradeType, Symbol: r.Symbol,
			Expiration: exp, Strike: val(r.Strike), Contracts: r.Contracts, Price: val(r.EstimatedDebit),
		}, nil
	case ActionNoAction:
		return NoAction{Reason: r.Note}, nil
	default:
		return nil, fmt.Errorf("recommendation %s: unknown action %q", r.ID, r.Action)
	}
}

// RecommendationFilter narrows ListRecommendations.
type RecommendationFilter struct {
	PendingOnly bool
	CycleID     string
	Limit       int
}
