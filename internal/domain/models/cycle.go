package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleMode selects whether planned actions go straight to the gateway or
// wait for a human decision.
type CycleMode string

const (
	ModeDirect   CycleMode = "direct"
	ModeApproval CycleMode = "approval"
)

func (m CycleMode) Valid() bool { return m == ModeDirect || m == ModeApproval }

type OutcomeStatus string

const (
	OutcomeExecuted  OutcomeStatus = "executed"
	OutcomeSubmitted OutcomeStatus = "submitted"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeBlocked   OutcomeStatus = "blocked"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// ActionOutcome is what happened to one planned action.
type ActionOutcome struct {
	Kind             ActionKind       `json:"kind"`
	Summary          string           `json:"summary"`
	Status           OutcomeStatus    `json:"status"`
	OrderID          string           `json:"order_id,omitempty"`
	FillPrice        *decimal.Decimal `json:"fill_price,omitempty"`
	RecommendationID string           `json:"recommendation_id,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// CycleResult summarizes a completed orchestration cycle.
type CycleResult struct {
	CycleID         string             `json:"cycle_id"`
	AccountID       string             `json:"account_id"`
	Mode            CycleMode          `json:"mode"`
	Regime          RegimeRecord       `json:"regime"`
	Transitions     []RegimeTransition `json:"transitions,omitempty"`
	Snapshot        MarketSnapshot     `json:"snapshot"`
	Verdict         RiskVerdict        `json:"verdict"`
	Actions         []ActionOutcome    `json:"actions"`
	Recommendations []Recommendation   `json:"recommendations,omitempty"`
	Notes           []string           `json:"notes,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// Failed counts actions that did not reach the gateway successfully.
func (r CycleResult) Failed() int {
	n := 0
	for _, a := range r.Actions {
		if a.Status == OutcomeFailed || a.Status == OutcomeBlocked {
			n++
		}
	}
	return n
}

// ShutdownResult is returned by an emergency shutdown.
type ShutdownResult struct {
	PositionsClosed int             `json:"positions_closed"`
	Failed          []ActionOutcome `json:"failed,omitempty"`
	Rejected        int             `json:"recommendations_rejected"`
	HaltedAt        time.Time       `json:"halted_at"`
}

// Changeset is applied by the store atomically.
type Changeset struct {
	Transitions     []RegimeTransition
	Positions       []Position
	Recommendations []Recommendation
	State           *AccountState
}

// Empty reports whether the changeset carries nothing.
func (c Changeset) Empty() bool {
	return len(c.Transitions) == 0 && len(c.Positions) == 0 && len(c.Recommendations) == 0 && c.State == nil
}

type NotifyLevel string

const (
	NotifyInfo     NotifyLevel = "info"
	NotifyWarning  NotifyLevel = "warning"
	NotifyError    NotifyLevel = "error"
	NotifyCritical NotifyLevel = "critical"
)

// Notification is the message published by notifier backends.
type Notification struct {
	AccountID string                 `json:"account_id"`
	Level     NotifyLevel            `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	At        time.Time              `json:"at"`
}
