package service

import (
	"time"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
)

// RiskInput is everything the risk evaluator looks at. Breach timestamps are
// carried by the caller between calls.
type RiskInput struct {
	Equity             decimal.Decimal
	HighWaterMark      decimal.Decimal
	DeployedCapital    decimal.Decimal
	AccountLimit       decimal.Decimal
	VIX                decimal.Decimal
	VixBreachStartedAt *time.Time
	DrawdownBreachAt   *time.Time
	Now                time.Time
}

// RiskState is the part of the evaluation the caller must persist.
type RiskState struct {
	HighWaterMark      decimal.Decimal
	DrawdownBreachAt   *time.Time
	VixBreachStartedAt *time.Time
}

// RiskEvaluator gates opening actions. Implementations are pure.
type RiskEvaluator interface {
	Evaluate(in RiskInput) (models.RiskVerdict, RiskState)
	// CheckDeployed rejects an action whose capital would push deployment over the cap.
	CheckDeployed(deployed, add, limit decimal.Decimal) error
	// CheckCoverage rejects a short leg with no offsetting long leg.
	CheckCoverage(a models.Action, open []models.Position, planned []models.Action) error
}

// ClassifyInput is the position and market context the classifier needs.
type ClassifyInput struct {
	Current              *models.RegimeRecord
	Price                decimal.Decimal
	ActiveShortPutStrike *decimal.Decimal
	// ClosedShortStrike is the short strike of the losing spread once its close is confirmed.
	ClosedShortStrike      *decimal.Decimal
	JustClosedLosingSpread bool
	JustClosedRecovery     bool
	WeeksInCurrentRegime   int
	CleanWeeks             int
	ReferenceStrike        *decimal.Decimal
	// RecoveryStrike is the strike recovery is measured against; nil falls
	// back to the one on Current.
	RecoveryStrike *decimal.Decimal
	// Weekly marks a scheduled evaluation; automatic follow-up transitions leave it false.
	Weekly bool
}

// Decision is the classifier output.
type Decision struct {
	Next            models.RegimeType
	Reason          string
	Changed         bool
	CleanWeeks      int
	ReferenceStrike *decimal.Decimal
	// RecoveryStrike is set whenever Next is recovery_mode.
	RecoveryStrike *decimal.Decimal
}

// RegimeClassifier is the regime state machine.
type RegimeClassifier interface {
	Classify(in ClassifyInput) Decision
	// Transition builds the records a decision commits. It returns nil when nothing changes.
	Transition(active *models.RegimeRecord, d Decision, snap models.MarketSnapshot, now time.Time) *models.RegimeTransition
}

// PlanInput is the planner's view of one cycle.
type PlanInput struct {
	Regime          *models.RegimeRecord
	Snapshot        *models.MarketSnapshot
	Verdict         models.RiskVerdict
	Positions       []models.Position
	CleanWeeks      int
	Halted          bool
	DeployedCapital decimal.Decimal
	AccountLimit    decimal.Decimal
	PutChain        []models.OptionQuote
	CallChain       []models.OptionQuote
	AnchorChain     []models.OptionQuote
}

// Plan is the ordered output of the planner. Notes explain suppressed actions.
type Plan struct {
	Actions []models.ProposedAction
	Notes   []string
}

type ChainRole string

const (
	ChainWeeklyPut  ChainRole = "weekly_put"
	ChainWeeklyCall ChainRole = "weekly_call"
	ChainAnchorCall ChainRole = "anchor_call"
)

// ChainRequest names an option chain the planner needs fetched.
type ChainRequest struct {
	Role       ChainRole
	Expiration time.Time
	Right      models.OptionRight
}

// ActionPlanner turns a regime into ordered actions. It never executes anything.
type ActionPlanner interface {
	// Chains lists the chains Plan will want for the given regime.
	Chains(regime models.RegimeType, snap models.MarketSnapshot, positions []models.Position) []ChainRequest
	Plan(in PlanInput) (Plan, error)
}
