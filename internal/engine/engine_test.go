package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkendall/bracketbot/internal/domain"
	"github.com/rkendall/bracketbot/internal/guard"
	"github.com/rkendall/bracketbot/internal/store/memory"
)

type captureRecorder struct {
	mu      sync.Mutex
	records []domain.ActivityRecord
}

func (r *captureRecorder) Record(_ context.Context, rec domain.ActivityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *captureRecorder) last(t *testing.T) domain.ActivityRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.records)
	return r.records[len(r.records)-1]
}

type testRig struct {
	engine   *Engine
	brackets *memory.BracketStore
	risk     *memory.RiskStateStore
	recorder *captureRecorder
	counters *SessionCounters
	clock    time.Time
}

func newTestRig(t *testing.T, cfg guard.Config) *testRig {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	brackets := memory.NewBracketStore()
	risk := memory.NewRiskStateStore()
	rec := &captureRecorder{}
	counters := NewSessionCounters(brackets, logger)

	rig := &testRig{
		brackets: brackets,
		risk:     risk,
		recorder: rec,
		counters: counters,
		clock:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return rig.clock }
	counters.setNow(now)

	eng := New(Options{
		Brackets:   brackets,
		RiskStates: risk,
		Counters:   counters,
		Guard:      cfg,
		Recorder:   rec,
		Logger:     logger,
	})
	eng.setNow(now)
	rig.engine = eng

	require.NoError(t, counters.Recompute(context.Background()))
	return rig
}

func permissiveGuard() guard.Config {
	return guard.Config{Enabled: true}
}

func openReq(slug string) OpenRequest {
	return OpenRequest{
		Slug:       slug,
		Side:       domain.SideUp,
		Price:      0.30,
		SizeShares: 100,
		EdgeCents:  2.5,
		DryRun:     true,
	}
}

func TestOpenHedgeResolveLifecycle(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, permissiveGuard())

	b, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusOpen, b.Status)
	assert.Equal(t, 30.0, b.TotalCost)
	assert.NotEmpty(t, b.ID)

	// Unhedged exposure is tracked while the bracket is one-sided.
	rs, err := rig.risk.Get(ctx, "btc-up-1500")
	require.NoError(t, err)
	require.NotNil(t, rs.UnhedgedSide)
	assert.Equal(t, domain.SideUp, *rs.UnhedgedSide)
	assert.Equal(t, 30.0, rs.UnhedgedCost)

	rig.clock = rig.clock.Add(time.Minute)
	b, err = rig.engine.HedgeBracket(ctx, HedgeRequest{Slug: "btc-up-1500", Price: 0.65, EdgeCents: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusHedged, b.Status)
	assert.InDelta(t, 95.0, b.TotalCost, 1e-9)
	require.NotNil(t, b.HedgeSide)
	assert.Equal(t, domain.SideDown, *b.HedgeSide)

	rs, err = rig.risk.Get(ctx, "btc-up-1500")
	require.NoError(t, err)
	assert.Nil(t, rs.UnhedgedSide)
	assert.Zero(t, rs.UnhedgedCost)

	rig.clock = rig.clock.Add(10 * time.Minute)
	b, err = rig.engine.ResolveBracket(ctx, b.ID, domain.SideDown)
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusResolved, b.Status)
	require.NotNil(t, b.Payout)
	assert.Equal(t, 100.0, *b.Payout, "hedged bracket pays size regardless of winner")
	require.NotNil(t, b.RealizedPnL)
	assert.InDelta(t, 5.0, *b.RealizedPnL, 1e-9)

	// Settled brackets leave no risk state behind.
	_, err = rig.risk.Get(ctx, "btc-up-1500")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenDuplicateSlug(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, permissiveGuard())

	_, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	require.NoError(t, err)

	_, err = rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSlug)
}

func TestOpenDuplicateSlugWinsOverGuard(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, guard.Config{Enabled: true, MaxOpenBrackets: 1})

	_, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	require.NoError(t, err)
	recordsBefore := len(rig.recorder.records)

	// The same slug would also trip MAX_OPEN_BRACKETS; the state conflict
	// must be reported instead, with no REJECT activity emitted.
	_, err = rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSlug)
	_, isGuard := domain.IsGuardRejection(err)
	assert.False(t, isGuard)
	assert.Len(t, rig.recorder.records, recordsBefore)
}

func TestResolveUnhedgedBracket(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, permissiveGuard())

	b, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	require.NoError(t, err)

	// Entry side lost: total loss of the stake.
	b, err = rig.engine.ResolveBracket(ctx, b.ID, domain.SideDown)
	require.NoError(t, err)
	require.NotNil(t, b.Payout)
	assert.Zero(t, *b.Payout)
	require.NotNil(t, b.RealizedPnL)
	assert.InDelta(t, -30.0, *b.RealizedPnL, 1e-9)
}

func TestDoubleResolveIsInvalidState(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, permissiveGuard())

	b, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	require.NoError(t, err)
	b, err = rig.engine.ResolveBracket(ctx, b.ID, domain.SideUp)
	require.NoError(t, err)
	firstPnL := *b.RealizedPnL

	_, err = rig.engine.ResolveBracket(ctx, b.ID, domain.SideDown)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// The stored outcome is untouched by the failed replay.
	stored, err := rig.brackets.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, firstPnL, *stored.RealizedPnL)

	_, err = rig.engine.FlattenBracket(ctx, b.ID, 10, "late flatten")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestFlattenRecordsZeroPayout(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, permissiveGuard())

	b, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	require.NoError(t, err)

	b, err = rig.engine.FlattenBracket(ctx, b.ID, 15, "hedge_timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusFlattened, b.Status)
	require.NotNil(t, b.Payout)
	assert.Zero(t, *b.Payout, "flatten keeps payout zero so forced exits stay visible")
	require.NotNil(t, b.RealizedPnL)
	assert.InDelta(t, -15.0, *b.RealizedPnL, 1e-9)

	rec := rig.recorder.last(t)
	assert.Equal(t, domain.ActionFlatten, rec.Action)
	assert.Equal(t, "hedge_timeout", rec.Result)
}

func TestGuardRejectionIsRecorded(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, guard.Config{Enabled: false})

	_, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	reason, ok := domain.IsGuardRejection(err)
	require.True(t, ok)
	assert.Equal(t, guard.ReasonDisabled, reason)

	rec := rig.recorder.last(t)
	assert.Equal(t, domain.ActionReject, rec.Action)
	assert.Equal(t, guard.ReasonDisabled, rec.Result)

	// Nothing was persisted for the denied open.
	open, err := rig.brackets.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDailyCostCapAcrossBrackets(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, guard.Config{Enabled: true, DailyCostCap: 50})

	req := openReq("btc-up-1500")
	req.Price = 0.40 // 40 USDC
	_, err := rig.engine.OpenBracket(ctx, req)
	require.NoError(t, err)

	req = openReq("btc-up-1515")
	req.Price = 0.30 // 40 + 30 > 50
	_, err = rig.engine.OpenBracket(ctx, req)
	reason, ok := domain.IsGuardRejection(err)
	require.True(t, ok)
	assert.Equal(t, guard.ReasonDailyCap, reason)

	req = openReq("btc-up-1530")
	req.Price = 0.10 // 40 + 10 <= 50
	_, err = rig.engine.OpenBracket(ctx, req)
	assert.NoError(t, err)
}

func TestMaxOpenBracketsGatesOpensOnly(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, guard.Config{Enabled: true, MaxOpenBrackets: 1})

	b, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	require.NoError(t, err)

	_, err = rig.engine.OpenBracket(ctx, openReq("btc-up-1515"))
	reason, ok := domain.IsGuardRejection(err)
	require.True(t, ok)
	assert.Equal(t, guard.ReasonMaxOpenBrackets, reason)

	// The existing bracket can still be hedged at the limit.
	_, err = rig.engine.HedgeBracket(ctx, HedgeRequest{Slug: b.Slug, Price: 0.60})
	assert.NoError(t, err)
}

func TestLossStreakThrottleAndReset(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, guard.Config{Enabled: true, LossStreakThreshold: 2})

	lose := func(slug string) {
		t.Helper()
		b, err := rig.engine.OpenBracket(ctx, openReq(slug))
		require.NoError(t, err)
		_, err = rig.engine.ResolveBracket(ctx, b.ID, domain.SideDown)
		require.NoError(t, err)
	}

	lose("btc-up-1500")
	assert.Equal(t, 1, rig.counters.LossesInRow())
	lose("btc-up-1515")
	assert.Equal(t, 2, rig.counters.LossesInRow())

	_, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1530"))
	reason, ok := domain.IsGuardRejection(err)
	require.True(t, ok)
	assert.Equal(t, guard.ReasonLossStreak, reason)

	// A win recorded directly in the store is picked up by recompute and
	// clears the throttle.
	rig.clock = rig.clock.Add(time.Minute)
	win := domain.Bracket{
		ID:         "manual-win",
		Slug:       "btc-up-1545",
		EntrySide:  domain.SideUp,
		EntryPrice: 0.30,
		SizeShares: 100,
		TotalCost:  30,
		Status:     domain.BracketStatusOpen,
		OpenedAt:   rig.clock,
	}
	require.NoError(t, rig.brackets.Create(ctx, win))
	payout, pnl := 100.0, 70.0
	resolved := rig.clock.Add(time.Minute)
	win.Status = domain.BracketStatusResolved
	win.Payout = &payout
	win.RealizedPnL = &pnl
	win.ResolvedAt = &resolved
	require.NoError(t, rig.brackets.Transition(ctx, win, domain.BracketStatusOpen))
	require.NoError(t, rig.counters.Recompute(ctx))

	assert.Zero(t, rig.counters.LossesInRow())
	_, err = rig.engine.OpenBracket(ctx, openReq("btc-up-1600"))
	assert.NoError(t, err)
}

func TestGetStatsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, permissiveGuard())

	b, err := rig.engine.OpenBracket(ctx, openReq("btc-up-1500"))
	require.NoError(t, err)
	_, err = rig.engine.ResolveBracket(ctx, b.ID, domain.SideUp)
	require.NoError(t, err)

	first, err := rig.engine.GetStats(ctx)
	require.NoError(t, err)
	second, err := rig.engine.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, int64(1), first.Today.Trades)
	assert.Equal(t, int64(1), first.Today.Wins)
	assert.InDelta(t, 70.0, first.Today.RealizedPnL, 1e-9)
	assert.Zero(t, first.OpenCount)
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, permissiveGuard())

	req := openReq("btc-up-1500")
	req.Price = 1.2
	_, err := rig.engine.OpenBracket(ctx, req)
	assert.Error(t, err)

	req = openReq("btc-up-1500")
	req.SizeShares = 0
	_, err = rig.engine.OpenBracket(ctx, req)
	assert.Error(t, err)

	req = openReq("")
	_, err = rig.engine.OpenBracket(ctx, req)
	assert.Error(t, err)
}
