package repository

import (
	"context"
	"sync"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
)

// MemoryStore keeps one account in process memory. Used for dry runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	accountID string
	regimes   []models.RegimeRecord
	positions map[string]models.Position
	recs      map[string]models.Recommendation
	state     models.AccountState
}

func NewMemoryStore(accountID string) *MemoryStore {
	return &MemoryStore{
		accountID: accountID,
		positions: make(map[string]models.Position),
		recs:      make(map[string]models.Recommendation),
		state:     models.AccountState{AccountID: accountID},
	}
}

func (s *MemoryStore) activeLocked() *models.RegimeRecord {
	for i := len(s.regimes) - 1; i >= 0; i-- {
		if s.regimes[i].IsActive {
			r := s.regimes[i]
			return &r
		}
	}
	return nil
}

func (s *MemoryStore) ActiveRegime(_ context.Context) (*models.RegimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(), nil
}

// RegimeHistory returns records newest first.
func (s *MemoryStore) RegimeHistory(_ context.Context, limit int) ([]models.RegimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RegimeRecord, 0, len(s.regimes))
	for i := len(s.regimes) - 1; i >= 0; i-- {
		out = append(out, s.regimes[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, f drepo.PositionFilter) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		all = append(all, p)
	}
	return filterPositions(all, f), nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return p, models.Errorf(models.ErrNotFound, "store.GetPosition", "position %s", id)
	}
	return p, nil
}

func (s *MemoryStore) GetRecommendation(_ context.Context, id string) (models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[id]
	if !ok {
		return r, models.Errorf(models.ErrNotFound, "store.GetRecommendation", "recommendation %s", id)
	}
	return r, nil
}

func (s *MemoryStore) ListRecommendations(_ context.Context, f models.RecommendationFilter) ([]models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]models.Recommendation, 0, len(s.recs))
	for _, r := range s.recs {
		all = append(all, r)
	}
	return filterRecommendations(all, f), nil
}

func (s *MemoryStore) LoadState(_ context.Context) (models.AccountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// Commit validates cs against the current state and applies all of it or none.
func (s *MemoryStore) Commit(_ context.Context, cs models.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := validateChangeset(cs, snapshotView{
		active: s.activeLocked(),
		recommendation: func(id string) (models.Recommendation, bool) {
			r, ok := s.recs[id]
			return r, ok
		},
		position: func(id string) (models.Position, bool) {
			p, ok := s.positions[id]
			return p, ok
		},
	})
	if err != nil {
		return err
	}

	for _, tr := range cs.Transitions {
		if tr.Closed != nil {
			for i := range s.regimes {
				if s.regimes[i].ID == tr.Closed.ID {
					s.regimes[i] = *tr.Closed
				}
			}
		}
		s.regimes = append(s.regimes, tr.Opened)
	}
	for _, p := range cs.Positions {
		s.positions[p.ID] = p
	}
	for _, r := range cs.Recommendations {
		s.recs[r.ID] = r
	}
	if cs.State != nil {
		st := *cs.State
		st.AccountID = s.accountID
		s.state = st
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ drepo.Store = (*MemoryStore)(nil)
