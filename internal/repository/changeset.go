package repository

import (
	"sort"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
)

// snapshotView is the slice of stored state a changeset is validated against.
type snapshotView struct {
	active         *models.RegimeRecord
	recommendation func(id string) (models.Recommendation, bool)
	position       func(id string) (models.Position, bool)
}

// validateChangeset checks every rule a commit must honor before anything is
// written: one active regime, transitions that close the record actually
// active, positions that never reopen and recommendations that never leave a
// terminal status.
func validateChangeset(cs models.Changeset, v snapshotView) error {
	const op = "store.Commit"
	active := v.active
	for _, tr := range cs.Transitions {
		if !tr.Opened.IsActive || tr.Opened.ID == "" || !tr.Opened.Type.Valid() {
			return models.Errorf(models.ErrInvariantViolation, op, "transition opens an invalid record %q", tr.Opened.ID)
		}
		switch {
		case tr.Closed == nil && active != nil:
			return models.Errorf(models.ErrInvariantViolation, op, "regime %s already active", active.ID)
		case tr.Closed != nil && active == nil:
			return models.Errorf(models.ErrInvariantViolation, op, "closing %s but no regime is active", tr.Closed.ID)
		case tr.Closed != nil && tr.Closed.ID != active.ID:
			return models.Errorf(models.ErrInvariantViolation, op, "closing %s but %s is active", tr.Closed.ID, active.ID)
		case tr.Closed != nil && (tr.Closed.IsActive || tr.Closed.EndedAt == nil):
			return models.Errorf(models.ErrInvariantViolation, op, "closed record %s still marked active", tr.Closed.ID)
		}
		opened := tr.Opened
		active = &opened
	}

	for _, p := range cs.Positions {
		if err := p.Validate(); err != nil {
			return models.NewError(models.ErrInvariantViolation, op, err)
		}
		if cur, ok := v.position(p.ID); ok && !cur.IsOpen() && p.IsOpen() {
			return models.Errorf(models.ErrInvariantViolation, op, "position %s is %s and cannot reopen", p.ID, cur.Status)
		}
	}

	for _, r := range cs.Recommendations {
		if r.ID == "" {
			return models.Errorf(models.ErrInvariantViolation, op, "recommendation without id")
		}
		if cur, ok := v.recommendation(r.ID); ok && cur.Status.Terminal() && cur.Status != r.Status {
			return models.Errorf(models.ErrInvalidState, op, "recommendation %s is %s", r.ID, cur.Status).WithAction(r.Action)
		}
	}
	return nil
}

func sortRecommendations(recs []models.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].Sequence < recs[j].Sequence
	})
}

// filterRecommendations applies f to recommendations sorted in creation
// order. Limit keeps the newest.
func filterRecommendations(recs []models.Recommendation, f models.RecommendationFilter) []models.Recommendation {
	sortRecommendations(recs)
	out := make([]models.Recommendation, 0, len(recs))
	for _, r := range recs {
		if f.PendingOnly && r.Status != models.RecPending {
			continue
		}
		if f.CycleID != "" && r.CycleID != f.CycleID {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func filterPositions(ps []models.Position, f drepo.PositionFilter) []models.Position {
	out := make([]models.Position, 0, len(ps))
	for _, p := range ps {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.TradeType != "" && p.TradeType != f.TradeType {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
