package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ContractMultiplier converts per-share option prices into dollars per contract.
var ContractMultiplier = decimal.NewFromInt(100)

type TradeType string

const (
	TradePutCreditSpread TradeType = "put_credit_spread"
	TradeCoveredCall     TradeType = "covered_call"
	TradeAnchorCall      TradeType = "anchor_call"
	TradeHedgePut        TradeType = "hedge_put"
)

type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionClosed  PositionStatus = "closed"
	PositionExpired PositionStatus = "expired"
)

// Position is a confirmed holding. It changes only on a gateway-confirmed fill
// or on reconciliation against the gateway's book.
type Position struct {
	ID               string           `json:"id"`
	TradeType        TradeType        `json:"trade_type"`
	Symbol           string           `json:"symbol"`
	ShortStrike      *decimal.Decimal `json:"short_strike,omitempty"`
	LongStrike       *decimal.Decimal `json:"long_strike,omitempty"`
	Contracts        int              `json:"contracts"`
	PremiumReceived  *decimal.Decimal `json:"premium_received,omitempty"`
	PremiumPaid      *decimal.Decimal `json:"premium_paid,omitempty"`
	MaxRisk          *decimal.Decimal `json:"max_risk,omitempty"`
	Status           PositionStatus   `json:"status"`
	OpenedAt         time.Time        `json:"opened_at"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
	Expiration       *time.Time       `json:"expiration,omitempty"`
	RealizedPnL      *decimal.Decimal `json:"realized_pnl,omitempty"`
	RecommendationID string           `json:"recommendation_id,omitempty"`
	OrderID          string           `json:"order_id,omitempty"`
}

func (p Position) IsOpen() bool { return p.Status == PositionOpen }

// Validate enforces the per-position invariants.
func (p Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position has no id")
	}
	if p.Contracts <= 0 {
		return fmt.Errorf("position %s: contracts %d must be positive", p.ID, p.Contracts)
	}
	if p.PremiumReceived != nil && p.PremiumReceived.IsNegative() {
		return fmt.Errorf("position %s: negative premium received", p.ID)
	}
	if p.PremiumPaid != nil && p.PremiumPaid.IsNegative() {
		return fmt.Errorf("position %s: negative premium paid", p.ID)
	}
	switch p.Status {
	case PositionOpen:
		if p.ClosedAt != nil || p.RealizedPnL != nil {
			return fmt.Errorf("position %s: open with close data", p.ID)
		}
	case PositionClosed, PositionExpired:
		if p.ClosedAt == nil || p.RealizedPnL == nil {
			return fmt.Errorf("position %s: %s without closed_at/realized_pnl", p.ID, p.Status)
		}
	default:
		return fmt.Errorf("position %s: unknown status %q", p.ID, p.Status)
	}
	switch p.TradeType {
	case TradePutCreditSpread, TradeCoveredCall, TradeAnchorCall, TradeHedgePut:
	default:
		return fmt.Errorf("position %s: unknown trade type %q", p.ID, p.TradeType)
	}
	return nil
}

// IsShort reports whether the position carries a short option leg.
func (p Position) IsShort() bool {
	return p.TradeType == TradePutCreditSpread || p.TradeType == TradeCoveredCall
}

// Received returns premium received or zero.
func (p Position) Received() decimal.Decimal {
	if p.PremiumReceived == nil {
		return decimal.Zero
	}
	return *p.PremiumReceived
}

// Paid returns premium paid or zero.
func (p Position) Paid() decimal.Decimal {
	if p.PremiumPaid == nil {
		return decimal.Zero
	}
	return *p.PremiumPaid
}

// Risk returns max risk or zero.
func (p Position) Risk() decimal.Decimal {
	if p.MaxRisk == nil {
		return decimal.Zero
	}
	return *p.MaxRisk
}

// ExpiresOnOrBefore reports whether the position expires on or before day.
func (p Position) ExpiresOnOrBefore(day time.Time) bool {
	if p.Expiration == nil {
		return false
	}
	return !DateOf(*p.Expiration).After(DateOf(day))
}

// Close settles the position with a closing fill priced per share. Short
// positions pay the fill to close, long positions receive it.
func (p *Position) Close(at time.Time, fillPrice decimal.Decimal, status PositionStatus) {
	cash := fillPrice.Mul(ContractMultiplier).Mul(decimal.NewFromInt(int64(p.Contracts)))
	if p.IsShort() {
		paid := p.Paid().Add(cash)
		p.PremiumPaid = &paid
	} else {
		recv := p.Received().Add(cash)
		p.PremiumReceived = &recv
	}
	pnl := p.Received().Sub(p.Paid())
	closedAt := at
	p.Status = status
	p.ClosedAt = &closedAt
	p.RealizedPnL = &pnl
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Dec returns a pointer to a copy of d.
func Dec(d decimal.Decimal) *decimal.Decimal { return &d }

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time { return &t }
