package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ActionKind tags the closed set of actions the planner can propose.
type ActionKind string

const (
	ActionOpenPutSpread   ActionKind = "open_put_spread"
	ActionClosePutSpread  ActionKind = "close_put_spread"
	ActionSellCoveredCall ActionKind = "sell_covered_call"
	ActionBuyAnchorCall   ActionKind = "buy_anchor_call"
	ActionCloseRecovery   ActionKind = "close_recovery"
	ActionNoAction        ActionKind = "no_action"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionOpenPutSpread, ActionClosePutSpread, ActionSellCoveredCall,
		ActionBuyAnchorCall, ActionCloseRecovery, ActionNoAction:
		return true
	}
	return false
}

// Action is the sealed variant over the concrete action structs below.
type Action interface {
	Kind() ActionKind
	// Opening is true for actions that add exposure.
	Opening() bool
	// CapitalRequired is the capital the action deploys if filled.
	CapitalRequired() decimal.Decimal
	isAction()
}

// OpenPutSpread sells ShortStrike and buys LongStrike puts on the same expiration.
type OpenPutSpread struct {
	Symbol      string          `json:"symbol"`
	Expiration  time.Time       `json:"expiration"`
	ShortStrike decimal.Decimal `json:"short_strike"`
	LongStrike  decimal.Decimal `json:"long_strike"`
	Contracts   int             `json:"contracts"`
	Credit      decimal.Decimal `json:"credit"` // net, per share
	ShortDelta  decimal.Decimal `json:"short_delta"`
	MaxRisk     decimal.Decimal `json:"max_risk"`
	MaxProfit   decimal.Decimal `json:"max_profit"`
}

// ClosePutSpread buys back an open put credit spread.
type ClosePutSpread struct {
	PositionID  string          `json:"position_id"`
	Symbol      string          `json:"symbol"`
	Expiration  time.Time       `json:"expiration"`
	ShortStrike decimal.Decimal `json:"short_strike"`
	LongStrike  decimal.Decimal `json:"long_strike"`
	Contracts   int             `json:"contracts"`
	Debit       decimal.Decimal `json:"debit"`
}

// SellCoveredCall writes weekly calls against the held anchor.
type SellCoveredCall struct {
	Symbol     string          `json:"symbol"`
	Expiration time.Time       `json:"expiration"`
	Strike     decimal.Decimal `json:"strike"`
	Contracts  int             `json:"contracts"`
	Credit     decimal.Decimal `json:"credit"`
	Delta      decimal.Decimal `json:"delta"`
}

// BuyAnchorCall buys the far-dated long call that covers the weekly calls.
type BuyAnchorCall struct {
	Symbol     string          `json:"symbol"`
	Expiration time.Time       `json:"expiration"`
	Strike     decimal.Decimal `json:"strike"`
	Contracts  int             `json:"contracts"`
	Debit      decimal.Decimal `json:"debit"`
}

// CloseRecovery closes one recovery position: a weekly short call or the anchor.
type CloseRecovery struct {
	PositionID string          `json:"position_id"`
	TradeType  TradeType       `json:"trade_type"`
	Symbol     string          `json:"symbol"`
	Expiration time.Time       `json:"expiration"`
	Strike     decimal.Decimal `json:"strike"`
	Contracts  int             `json:"contracts"`
	Price      decimal.Decimal `json:"price"`
}

// NoAction records a deliberate decision to do nothing.
type NoAction struct {
	Reason string `json:"reason"`
}

func (OpenPutSpread) Kind() ActionKind   { return ActionOpenPutSpread }
func (ClosePutSpread) Kind() ActionKind  { return ActionClosePutSpread }
func (SellCoveredCall) Kind() ActionKind { return ActionSellCoveredCall }
func (BuyAnchorCall) Kind() ActionKind   { return ActionBuyAnchorCall }
func (CloseRecovery) Kind() ActionKind   { return ActionCloseRecovery }
func (NoAction) Kind() ActionKind        { return ActionNoAction }

func (OpenPutSpread) Opening() bool   { return true }
func (ClosePutSpread) Opening() bool  { return false }
func (SellCoveredCall) Opening() bool { return true }
func (BuyAnchorCall) Opening() bool   { return true }
func (CloseRecovery) Opening() bool   { return false }
func (NoAction) Opening() bool        { return false }

func (a OpenPutSpread) CapitalRequired() decimal.Decimal { return a.MaxRisk }
func (ClosePutSpread) CapitalRequired() decimal.Decimal  { return decimal.Zero }

// Covered calls are backed by the anchor and deploy no extra capital.
func (SellCoveredCall) CapitalRequired() decimal.Decimal { return decimal.Zero }
func (a BuyAnchorCall) CapitalRequired() decimal.Decimal {
	return a.Debit.Mul(ContractMultiplier).Mul(decimal.NewFromInt(int64(a.Contracts)))
}
func (CloseRecovery) CapitalRequired() decimal.Decimal { return decimal.Zero }
func (NoAction) CapitalRequired() decimal.Decimal      { return decimal.Zero }

func (OpenPutSpread) isAction()   {}
func (ClosePutSpread) isAction()  {}
func (SellCoveredCall) isAction() {}
func (BuyAnchorCall) isAction()   {}
func (CloseRecovery) isAction()   {}
func (NoAction) isAction()        {}

// ProposedAction is a planned action with the text shown to the approver.
type ProposedAction struct {
	Action         Action `json:"action"`
	Reasoning      string `json:"reasoning"`
	RiskAssessment string `json:"risk_assessment"`
}

// Describe renders a one-line summary for logs and notifications.
func Describe(a Action) string {
	switch v := a.(type) {
	case OpenPutSpread:
		return fmt.Sprintf("open %dx %s %s/%s put spread exp %s @ %s",
			v.Contracts, v.Symbol, v.ShortStrike, v.LongStrike, v.Expiration.Format("2006-01-02"), v.Credit)
	case ClosePutSpread:
		return fmt.Sprintf("close %dx %s %s/%s put spread", v.Contracts, v.Symbol, v.ShortStrike, v.LongStrike)
	case SellCoveredCall:
		return fmt.Sprintf("sell %dx %s %s call exp %s", v.Contracts, v.Symbol, v.Strike, v.Expiration.Format("2006-01-02"))
	case BuyAnchorCall:
		return fmt.Sprintf("buy %dx %s %s anchor call exp %s", v.Contracts, v.Symbol, v.Strike, v.Expiration.Format("2006-01-02"))
	case CloseRecovery:
		return fmt.Sprintf("close %dx %s %s %s", v.Contracts, v.Symbol, v.Strike, v.TradeType)
	case NoAction:
		return "no action: " + v.Reason
	default:
		return fmt.Sprintf("unknown action %T", a)
	}
}
