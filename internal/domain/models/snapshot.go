package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotSource tells where a snapshot price came from.
type SnapshotSource string

const (
	SourceLive    SnapshotSource = "live"
	SourceDelayed SnapshotSource = "delayed"
	SourceMock    SnapshotSource = "mock"
)

// MarketSnapshot is an immutable view of the market taken once per cycle.
type MarketSnapshot struct {
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	ImpliedVolATM7d decimal.Decimal `json:"implied_vol_atm_7d"`
	VIX             decimal.Decimal `json:"vix"`
	CapturedAt      time.Time       `json:"captured_at"`
	Source          SnapshotSource  `json:"source"`
}

// Age returns how old the snapshot is at now.
func (s MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Validate rejects snapshots the engine cannot reason about.
func (s MarketSnapshot) Validate() error {
	if s.CapturedAt.IsZero() {
		return fmt.Errorf("snapshot has no capture time")
	}
	if !s.Price.IsPositive() {
		return fmt.Errorf("snapshot price %s not positive", s.Price)
	}
	if s.VIX.IsNegative() {
		return fmt.Errorf("snapshot vix %s negative", s.VIX)
	}
	switch s.Source {
	case SourceLive, SourceDelayed, SourceMock:
	default:
		return fmt.Errorf("snapshot source %q unknown", s.Source)
	}
	return nil
}

// OptionRight is put or call.
type OptionRight string

const (
	RightPut  OptionRight = "P"
	RightCall OptionRight = "C"
)

// OptionQuote is one row of an option chain as reported by the market data provider.
type OptionQuote struct {
	Symbol     string          `json:"symbol"`
	Expiration time.Time       `json:"expiration"`
	Strike     decimal.Decimal `json:"strike"`
	Right      OptionRight     `json:"right"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Delta      decimal.Decimal `json:"delta"`
}

var two = decimal.NewFromInt(2)

// Mid is the bid/ask midpoint.
func (q OptionQuote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(two)
}

// PriceTick is a single last-trade update from a streaming feed.
type PriceTick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"` // unix seconds
}
