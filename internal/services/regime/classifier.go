package regime

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	domsvc "RegimeDesk/internal/domain/service"
)

// Classifier is the regime state machine. Only transitions out of the
// current regime are ever considered.
type Classifier struct {
	requiredCleanWeeks int
	newID              func() string
}

// NewClassifier returns a classifier whose first regime starts with
// requiredCleanWeeks clean weeks already counted, so trading may begin at once.
func NewClassifier(requiredCleanWeeks int) *Classifier {
	return &Classifier{requiredCleanWeeks: requiredCleanWeeks, newID: uuid.NewString}
}

var _ domsvc.RegimeClassifier = (*Classifier)(nil)

func (c *Classifier) Classify(in domsvc.ClassifyInput) domsvc.Decision {
	d := domsvc.Decision{CleanWeeks: in.CleanWeeks, ReferenceStrike: in.ReferenceStrike}

	if in.Current == nil {
		d.Next = models.RegimeNormalBull
		d.Reason = "initial regime"
		d.Changed = true
		d.CleanWeeks = c.requiredCleanWeeks
		return d
	}

	d.Next = in.Current.Type
	switch in.Current.Type {
	case models.RegimeNormalBull:
		c.normalBull(in, &d)
	case models.RegimeDefenseTrigger:
		if in.JustClosedLosingSpread && in.ClosedShortStrike != nil {
			d.Next = models.RegimeRecoveryMode
			d.Changed = true
			d.Reason = "losing spread closed, entering recovery"
			d.RecoveryStrike = in.ClosedShortStrike
			return d
		}
		d.Reason = "awaiting confirmed close of the losing spread"
	case models.RegimeRecoveryMode:
		rs := recoveryStrike(in)
		d.RecoveryStrike = rs
		if rs == nil {
			d.Reason = "recovery strike unknown, holding recovery"
			return d
		}
		if in.Price.GreaterThan(*rs) {
			d.Next = models.RegimeRecoveryComplete
			d.Changed = true
			d.Reason = fmt.Sprintf("price %s above recovery strike %s", in.Price, rs)
			return d
		}
		d.Reason = fmt.Sprintf("price %s at or below recovery strike %s, week %d of recovery",
			in.Price, rs, in.WeeksInCurrentRegime+1)
	case models.RegimeRecoveryComplete:
		rs := recoveryStrike(in)
		d.RecoveryStrike = rs
		if in.JustClosedRecovery {
			d.Next = models.RegimeNormalBull
			d.Changed = true
			d.Reason = "recovery positions closed, resuming normal"
			d.RecoveryStrike = nil
			if rs != nil {
				d.ReferenceStrike = rs
			}
			return d
		}
		d.Reason = "awaiting confirmed close of recovery positions"
	}
	return d
}

func (c *Classifier) normalBull(in domsvc.ClassifyInput, d *domsvc.Decision) {
	if s := in.ActiveShortPutStrike; s != nil {
		d.ReferenceStrike = s
		if in.Price.LessThan(*s) {
			d.Next = models.RegimeDefenseTrigger
			d.Changed = true
			d.CleanWeeks = 0
			d.Reason = fmt.Sprintf("short put breached at evaluation: price %s < short strike %s", in.Price, s)
			return
		}
	}
	if !in.Weekly {
		d.Reason = "no breach"
		return
	}
	ref := d.ReferenceStrike
	if ref == nil || in.Price.GreaterThanOrEqual(*ref) {
		d.CleanWeeks++
		d.Reason = fmt.Sprintf("clean week %d", d.CleanWeeks)
		return
	}
	d.CleanWeeks = 0
	d.Reason = fmt.Sprintf("price %s below reference strike %s, clean weeks reset", in.Price, ref)
}

func recoveryStrike(in domsvc.ClassifyInput) *decimal.Decimal {
	if in.RecoveryStrike != nil {
		return in.RecoveryStrike
	}
	return in.Current.RecoveryStrike
}

// Transition closes the active record and opens the one the decision names.
func (c *Classifier) Transition(active *models.RegimeRecord, d domsvc.Decision, snap models.MarketSnapshot, now time.Time) *models.RegimeTransition {
	if !d.Changed {
		return nil
	}
	opened := models.RegimeRecord{
		ID:           c.newID(),
		Type:         d.Next,
		StartedAt:    now,
		PriceAtStart: models.Dec(snap.Price),
		IsActive:     true,
		Reason:       d.Reason,
	}
	if d.Next == models.RegimeRecoveryMode || d.Next == models.RegimeRecoveryComplete {
		opened.RecoveryStrike = d.RecoveryStrike
	}
	t := &models.RegimeTransition{Opened: opened, Reason: d.Reason}
	if active != nil {
		closed := *active
		closed.IsActive = false
		closed.EndedAt = models.TimePtr(now)
		t.Closed = &closed
	}
	return t
}
