package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountState is what the engine carries from one cycle to the next so the
// risk evaluator and classifier can stay pure.
type AccountState struct {
	AccountID          string           `json:"account_id"`
	HighWaterMark      decimal.Decimal  `json:"high_water_mark"`
	DrawdownBreachAt   *time.Time       `json:"drawdown_breach_at,omitempty"`
	VixBreachStartedAt *time.Time       `json:"vix_breach_started_at,omitempty"`
	CleanWeeks         int              `json:"clean_weeks"`
	ReferenceStrike    *decimal.Decimal `json:"reference_strike,omitempty"`
	Halted             bool             `json:"halted"`
	HaltedAt           *time.Time       `json:"halted_at,omitempty"`
	HaltReason         string           `json:"halt_reason,omitempty"`
	LastCycleAt        *time.Time       `json:"last_cycle_at,omitempty"`
	Initialized        bool             `json:"initialized"`
}

// AccountSummary is the gateway's view of the account balances.
type AccountSummary struct {
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	AsOf        time.Time       `json:"as_of"`
}

// RiskVerdict gates every opening action of a cycle. It is never persisted.
type RiskVerdict struct {
	Allow       bool            `json:"allow"`
	ScaleFactor decimal.Decimal `json:"scale_factor"`
	Halted      bool            `json:"halted"`
	Reasons     []string        `json:"reasons"`
	Drawdown    decimal.Decimal `json:"drawdown"`
	DeployedPct decimal.Decimal `json:"deployed_pct"`
}
