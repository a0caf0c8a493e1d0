package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegimeType is one of the four mutually exclusive account regimes.
type RegimeType string

const (
	RegimeNormalBull       RegimeType = "normal_bull"
	RegimeDefenseTrigger   RegimeType = "defense_trigger"
	RegimeRecoveryMode     RegimeType = "recovery_mode"
	RegimeRecoveryComplete RegimeType = "recovery_complete"
)

// Valid reports whether r is a known regime.
func (r RegimeType) Valid() bool {
	switch r {
	case RegimeNormalBull, RegimeDefenseTrigger, RegimeRecoveryMode, RegimeRecoveryComplete:
		return true
	}
	return false
}

// RegimeRecord is one span of time the account spent in a regime.
type RegimeRecord struct {
	ID             string           `json:"id"`
	Type           RegimeType       `json:"regime_type"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
	PriceAtStart   *decimal.Decimal `json:"price_at_start,omitempty"`
	RecoveryStrike *decimal.Decimal `json:"recovery_strike,omitempty"`
	IsActive       bool             `json:"is_active"`
	Reason         string           `json:"reason,omitempty"`
}

// WeeksActive counts whole weeks between the start of the record and now.
func (r RegimeRecord) WeeksActive(now time.Time) int {
	if now.Before(r.StartedAt) {
		return 0
	}
	return int(now.Sub(r.StartedAt) / (7 * 24 * time.Hour))
}

// RegimeTransition closes one record and opens its successor. Closed is nil
// only for the very first record of an account.
type RegimeTransition struct {
	Closed *RegimeRecord `json:"closed,omitempty"`
	Opened RegimeRecord  `json:"opened"`
	Reason string        `json:"reason"`
}
