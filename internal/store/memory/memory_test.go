package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkendall/bracketbot/internal/domain"
)

func newBracket(id, slug string, openedAt time.Time) domain.Bracket {
	return domain.Bracket{
		ID:         id,
		Slug:       slug,
		EntrySide:  domain.SideUp,
		EntryPrice: 0.30,
		SizeShares: 100,
		TotalCost:  30,
		Status:     domain.BracketStatusOpen,
		DryRun:     true,
		OpenedAt:   openedAt,
	}
}

func TestBracketStoreDuplicateLiveSlug(t *testing.T) {
	ctx := context.Background()
	store := NewBracketStore()
	now := time.Now().UTC()

	require.NoError(t, store.Create(ctx, newBracket("b1", "btc-up-1500", now)))

	err := store.Create(ctx, newBracket("b2", "btc-up-1500", now))
	assert.ErrorIs(t, err, domain.ErrDuplicateSlug)

	// Settling the first bracket frees the slug for a new round.
	b, err := store.GetByID(ctx, "b1")
	require.NoError(t, err)
	pnl := -30.0
	payout := 0.0
	resolved := now.Add(time.Minute)
	b.Status = domain.BracketStatusFlattened
	b.Payout = &payout
	b.RealizedPnL = &pnl
	b.ResolvedAt = &resolved
	require.NoError(t, store.Transition(ctx, b, domain.BracketStatusOpen))

	assert.NoError(t, store.Create(ctx, newBracket("b2", "btc-up-1500", now.Add(2*time.Minute))))
}

func TestBracketStoreTransitionGuardsStatus(t *testing.T) {
	ctx := context.Background()
	store := NewBracketStore()
	now := time.Now().UTC()

	require.NoError(t, store.Create(ctx, newBracket("b1", "btc-up-1500", now)))

	b, err := store.GetByID(ctx, "b1")
	require.NoError(t, err)
	hedge := domain.SideDown
	hedgedAt := now.Add(30 * time.Second)
	b.Status = domain.BracketStatusHedged
	b.HedgeSide = &hedge
	b.TotalCost = 55
	b.HedgedAt = &hedgedAt
	require.NoError(t, store.Transition(ctx, b, domain.BracketStatusOpen))

	// Replaying the same transition must fail: the row has moved on.
	err = store.Transition(ctx, b, domain.BracketStatusOpen)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	err = store.Transition(ctx, newBracket("missing", "x", now), domain.BracketStatusOpen)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBracketStoreDayTotalsUsesOpenedAtDay(t *testing.T) {
	ctx := context.Background()
	store := NewBracketStore()

	today := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	b1 := newBracket("b1", "s1", today)
	b2 := newBracket("b2", "s2", yesterday)
	require.NoError(t, store.Create(ctx, b1))
	require.NoError(t, store.Create(ctx, b2))

	win := 10.0
	payout := 100.0
	resolved := today.Add(15 * time.Minute)
	b1.Status = domain.BracketStatusResolved
	b1.Payout = &payout
	b1.RealizedPnL = &win
	b1.ResolvedAt = &resolved
	require.NoError(t, store.Transition(ctx, b1, domain.BracketStatusOpen))

	bucket, err := store.DayTotals(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bucket.Trades)
	assert.Equal(t, int64(1), bucket.Wins)
	assert.Equal(t, 30.0, bucket.TotalCost)
	assert.Equal(t, 10.0, bucket.RealizedPnL)

	lifetime, err := store.LifetimeTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lifetime.Trades)
	assert.Equal(t, 60.0, lifetime.TotalCost)
}

func TestActivityStoreQueryFilters(t *testing.T) {
	ctx := context.Background()
	store := NewActivityStore()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i, action := range []string{domain.ActionOpen, domain.ActionHedge, domain.ActionReject} {
		rec := domain.ActivityRecord{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Slug:      "btc-up-1500",
			Action:    action,
		}
		require.NoError(t, store.Append(ctx, &rec))
		assert.Equal(t, int64(i+1), rec.ID)
	}

	all, err := store.Query(ctx, domain.ActivityFilter{Slug: "btc-up-1500"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.ActionReject, all[0].Action, "newest first")

	rejects, err := store.Query(ctx, domain.ActivityFilter{Action: domain.ActionReject})
	require.NoError(t, err)
	require.Len(t, rejects, 1)

	since := base.Add(90 * time.Second)
	late, err := store.Query(ctx, domain.ActivityFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, domain.ActionReject, late[0].Action)
}

func TestRiskStateStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewRiskStateStore()
	now := time.Now().UTC()
	side := domain.SideUp

	st := domain.RiskState{
		Slug:         "btc-up-1500",
		LastEntryAt:  &now,
		UnhedgedSide: &side,
		UnhedgedCost: 30,
		UnhedgedSize: 100,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Upsert(ctx, st))

	got, err := store.Get(ctx, "btc-up-1500")
	require.NoError(t, err)
	assert.Equal(t, 30.0, got.UnhedgedCost)

	st.UnhedgedCost = 0
	st.UnhedgedSide = nil
	require.NoError(t, store.Upsert(ctx, st))
	got, err = store.Get(ctx, "btc-up-1500")
	require.NoError(t, err)
	assert.Nil(t, got.UnhedgedSide)

	require.NoError(t, store.Delete(ctx, "btc-up-1500"))
	_, err = store.Get(ctx, "btc-up-1500")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
