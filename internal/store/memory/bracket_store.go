// Package memory provides in-memory implementations of the domain store
// interfaces. They back dry-run sessions and tests; nothing survives a
// process restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rkendall/bracketbot/internal/domain"
)

// BracketStore is a mutex-guarded in-memory domain.BracketStore.
type BracketStore struct {
	mu       sync.RWMutex
	brackets map[string]domain.Bracket
}

// NewBracketStore creates an empty in-memory bracket store.
func NewBracketStore() *BracketStore {
	return &BracketStore{brackets: make(map[string]domain.Bracket)}
}

// Create inserts a new bracket. A live bracket already holding the same slug
// yields ErrDuplicateSlug, matching the partial unique index on the durable
// store.
func (s *BracketStore) Create(_ context.Context, b domain.Bracket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.brackets {
		if existing.Slug == b.Slug && !existing.Status.Terminal() {
			return domain.ErrDuplicateSlug
		}
	}
	s.brackets[b.ID] = b
	return nil
}

// Transition replaces the stored bracket while its status still equals from.
func (s *BracketStore) Transition(_ context.Context, b domain.Bracket, from domain.BracketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.brackets[b.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.Status != from {
		return domain.ErrInvalidState
	}
	s.brackets[b.ID] = b
	return nil
}

// GetBySlug returns the live bracket for slug, if any.
func (s *BracketStore) GetBySlug(_ context.Context, slug string) (domain.Bracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.brackets {
		if b.Slug == slug && !b.Status.Terminal() {
			return b, nil
		}
	}
	return domain.Bracket{}, domain.ErrNotFound
}

// GetByID retrieves a bracket by ID.
func (s *BracketStore) GetByID(_ context.Context, id string) (domain.Bracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.brackets[id]
	if !ok {
		return domain.Bracket{}, domain.ErrNotFound
	}
	return b, nil
}

// ListOpen returns all OPEN or HEDGED brackets, newest first.
func (s *BracketStore) ListOpen(_ context.Context) ([]domain.Bracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []domain.Bracket
	for _, b := range s.brackets {
		if !b.Status.Terminal() {
			open = append(open, b)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].OpenedAt.After(open[j].OpenedAt)
	})
	return open, nil
}

func (s *BracketStore) settled() []domain.Bracket {
	var settled []domain.Bracket
	for _, b := range s.brackets {
		if b.Status.Terminal() {
			settled = append(settled, b)
		}
	}
	return settled
}

// ListSettled returns terminal brackets, most recently resolved first.
func (s *BracketStore) ListSettled(_ context.Context, limit int) ([]domain.Bracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settled := s.settled()
	sort.Slice(settled, func(i, j int) bool {
		return resolvedAt(settled[i]).After(resolvedAt(settled[j]))
	})
	if limit > 0 && len(settled) > limit {
		settled = settled[:limit]
	}
	return settled, nil
}

// ListSettledBetween returns terminal brackets resolved in [from, to).
func (s *BracketStore) ListSettledBetween(_ context.Context, from, to time.Time) ([]domain.Bracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bracket
	for _, b := range s.settled() {
		ts := resolvedAt(b)
		if !ts.Before(from) && ts.Before(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return resolvedAt(out[i]).Before(resolvedAt(out[j]))
	})
	return out, nil
}

// DayTotals aggregates brackets opened on the UTC day containing day.
func (s *BracketStore) DayTotals(_ context.Context, day time.Time) (domain.StatsBucket, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var bucket domain.StatsBucket
	for _, b := range s.brackets {
		opened := b.OpenedAt.UTC()
		if opened.Before(start) || !opened.Before(end) {
			continue
		}
		accumulate(&bucket, b)
	}
	return bucket, nil
}

// LifetimeTotals aggregates every bracket ever stored.
func (s *BracketStore) LifetimeTotals(_ context.Context) (domain.StatsBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bucket domain.StatsBucket
	for _, b := range s.brackets {
		accumulate(&bucket, b)
	}
	return bucket, nil
}

func accumulate(bucket *domain.StatsBucket, b domain.Bracket) {
	bucket.Trades++
	bucket.TotalCost += b.TotalCost
	if b.RealizedPnL != nil {
		bucket.RealizedPnL += *b.RealizedPnL
		switch {
		case *b.RealizedPnL > 0:
			bucket.Wins++
		case *b.RealizedPnL < 0:
			bucket.Losses++
		}
	}
}

func resolvedAt(b domain.Bracket) time.Time {
	if b.ResolvedAt != nil {
		return *b.ResolvedAt
	}
	return b.OpenedAt
}

var _ domain.BracketStore = (*BracketStore)(nil)
