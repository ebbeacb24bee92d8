package memory

import (
	"context"
	"sync"

	"github.com/rkendall/bracketbot/internal/domain"
)

// ActivityStore is an append-only in-memory domain.ActivityStore.
type ActivityStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []domain.ActivityRecord
}

// NewActivityStore creates an empty in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{nextID: 1}
}

func (s *ActivityStore) Append(_ context.Context, rec *domain.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, *rec)
	return nil
}

// Query returns matching records newest first.
func (s *ActivityStore) Query(_ context.Context, f domain.ActivityFilter) ([]domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []domain.ActivityRecord
	skipped := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if f.Slug != "" && rec.Slug != f.Slug {
			continue
		}
		if f.Action != "" && rec.Action != f.Action {
			continue
		}
		if f.Since != nil && rec.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !rec.Timestamp.Before(*f.Until) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ domain.ActivityStore = (*ActivityStore)(nil)
