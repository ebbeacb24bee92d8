// Package recorder persists activity records and mirrors the most recent ones
// in memory so the dashboard can show live history without a store round trip.
package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rkendall/bracketbot/internal/domain"
)

// ChannelActivity is the signal bus channel live records are published on.
const ChannelActivity = "activity"

// defaultMirrorSize bounds the in-memory mirror. The durable store keeps
// everything; only the mirror is ring-buffered.
const defaultMirrorSize = 256

// Recorder appends activity records to the durable store, keeps a bounded
// in-memory mirror, and optionally publishes each record to a signal bus.
// Recording is best-effort: a store or bus failure is logged, never returned,
// so a persistence hiccup cannot veto a trade that already happened.
type Recorder struct {
	store  domain.ActivityStore
	bus    domain.SignalBus
	logger *slog.Logger

	mu     sync.RWMutex
	mirror []domain.ActivityRecord
	size   int
}

// New creates a Recorder. bus may be nil when no live fan-out is wanted.
func New(store domain.ActivityStore, bus domain.SignalBus, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "recorder")),
		size:   defaultMirrorSize,
	}
}

// Record stores rec durably, mirrors it, and publishes it.
func (r *Recorder) Record(ctx context.Context, rec domain.ActivityRecord) {
	if err := r.store.Append(ctx, &rec); err != nil {
		r.logger.ErrorContext(ctx, "activity append failed",
			slog.String("slug", rec.Slug),
			slog.String("action", rec.Action),
			slog.String("error", err.Error()),
		)
	}

	r.mu.Lock()
	r.mirror = append(r.mirror, rec)
	if len(r.mirror) > r.size {
		r.mirror = r.mirror[len(r.mirror)-r.size:]
	}
	r.mu.Unlock()

	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		r.logger.ErrorContext(ctx, "activity marshal failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.bus.Publish(ctx, ChannelActivity, payload); err != nil {
		r.logger.WarnContext(ctx, "activity publish failed",
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns up to n mirrored records, newest first.
func (r *Recorder) Recent(n int) []domain.ActivityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.mirror) {
		n = len(r.mirror)
	}
	out := make([]domain.ActivityRecord, 0, n)
	for i := len(r.mirror) - 1; i >= len(r.mirror)-n; i-- {
		out = append(out, r.mirror[i])
	}
	return out
}

// Query passes a history query through to the durable store.
func (r *Recorder) Query(ctx context.Context, f domain.ActivityFilter) ([]domain.ActivityRecord, error) {
	return r.store.Query(ctx, f)
}
