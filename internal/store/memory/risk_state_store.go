package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rkendall/bracketbot/internal/domain"
)

// RiskStateStore is a mutex-guarded in-memory domain.RiskStateStore.
type RiskStateStore struct {
	mu     sync.RWMutex
	states map[string]domain.RiskState
}

// NewRiskStateStore creates an empty in-memory risk state store.
func NewRiskStateStore() *RiskStateStore {
	return &RiskStateStore{states: make(map[string]domain.RiskState)}
}

func (s *RiskStateStore) Upsert(_ context.Context, st domain.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Slug] = st
	return nil
}

func (s *RiskStateStore) Get(_ context.Context, slug string) (domain.RiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[slug]
	if !ok {
		return domain.RiskState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *RiskStateStore) Delete(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, slug)
	return nil
}

func (s *RiskStateStore) List(_ context.Context) ([]domain.RiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RiskState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

var _ domain.RiskStateStore = (*RiskStateStore)(nil)
