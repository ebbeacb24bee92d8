package loop

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkendall/bracketbot/internal/domain"
	"github.com/rkendall/bracketbot/internal/engine"
	"github.com/rkendall/bracketbot/internal/executor"
	"github.com/rkendall/bracketbot/internal/guard"
	"github.com/rkendall/bracketbot/internal/platform/polymarket"
	"github.com/rkendall/bracketbot/internal/store/memory"
	"github.com/rkendall/bracketbot/internal/strategy"
)

type fakeAgent struct {
	intents []executor.Intent
	fill    bool
	err     error
}

func (a *fakeAgent) Submit(_ context.Context, in executor.Intent) (executor.Result, error) {
	a.intents = append(a.intents, in)
	if a.err != nil {
		return executor.Result{}, a.err
	}
	return executor.Result{Filled: a.fill, Message: "test"}, nil
}

type fakeCooldown struct {
	armed map[string]time.Duration
}

func newFakeCooldown() *fakeCooldown {
	return &fakeCooldown{armed: make(map[string]time.Duration)}
}

func (c *fakeCooldown) Arm(_ context.Context, slug string, ttl time.Duration) error {
	c.armed[slug] = ttl
	return nil
}

func (c *fakeCooldown) Active(_ context.Context, slug string) (bool, error) {
	_, ok := c.armed[slug]
	return ok, nil
}

type fakeResolver struct {
	res map[string]polymarket.Resolution
}

func (r *fakeResolver) GetResolution(_ context.Context, slug string) (polymarket.Resolution, error) {
	res, ok := r.res[slug]
	if !ok {
		return polymarket.Resolution{}, errors.New("market not found")
	}
	return res, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, domain.ActivityRecord) {}

type loopRig struct {
	loop     *PollLoop
	engine   *engine.Engine
	brackets *memory.BracketStore
	quotes   *memory.QuoteCache
	agent    *fakeAgent
	cooldown *fakeCooldown
	resolver *fakeResolver
}

func newLoopRig(t *testing.T) *loopRig {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	brackets := memory.NewBracketStore()
	counters := engine.NewSessionCounters(brackets, logger)
	eng := engine.New(engine.Options{
		Brackets:   brackets,
		RiskStates: memory.NewRiskStateStore(),
		Counters:   counters,
		Guard:      guard.Config{Enabled: true},
		Recorder:   nopRecorder{},
		Logger:     logger,
	})

	quotes := memory.NewQuoteCache()
	agent := &fakeAgent{fill: true}
	cooldown := newFakeCooldown()
	resolver := &fakeResolver{res: make(map[string]polymarket.Resolution)}

	strat := strategy.New(strategy.DefaultConfig(), logger)
	l := New(Config{PollInterval: time.Second, QuoteMaxAge: time.Minute, DryRun: true},
		eng, strat, quotes, cooldown, resolver, agent, logger)

	return &loopRig{
		loop:     l,
		engine:   eng,
		brackets: brackets,
		quotes:   quotes,
		agent:    agent,
		cooldown: cooldown,
		resolver: resolver,
	}
}

// entryQuote builds a quote that passes every entry gate: asks sum to 0.95
// (5c edge per share), the cheap side is tight and liquid, and settlement is
// far enough out to hedge.
func entryQuote(slug string, now time.Time) domain.MarketQuote {
	return domain.MarketQuote{
		Slug:        slug,
		MarketLabel: "BTC up or down?",
		Up:          domain.SideQuote{Bid: 0.29, Ask: 0.30, LiqUSDC: 200},
		Down:        domain.SideQuote{Bid: 0.64, Ask: 0.65, LiqUSDC: 200},
		ExpiresAt:   now.Add(20 * time.Minute),
		UpdatedAt:   now,
	}
}

func TestTickOpensBracketAndSubmitsOrder(t *testing.T) {
	rig := newLoopRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, rig.quotes.SetQuote(ctx, "btc-up-or-down-1015", entryQuote("btc-up-or-down-1015", now)))

	rig.loop.tick(ctx)

	b, err := rig.brackets.GetBySlug(ctx, "btc-up-or-down-1015")
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusOpen, b.Status)
	assert.Equal(t, domain.SideUp, b.EntrySide)
	assert.InDelta(t, 40.0, b.TotalCost, 0.01)

	require.Len(t, rig.agent.intents, 1)
	in := rig.agent.intents[0]
	assert.Equal(t, executor.ActionBuy, in.Action)
	assert.Equal(t, domain.SideUp, in.Side)
	assert.True(t, in.DryRun)
}

func TestTickIgnoresNonCandidateSlugs(t *testing.T) {
	rig := newLoopRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, rig.quotes.SetQuote(ctx, "eth-price-above-3000", entryQuote("eth-price-above-3000", now)))

	rig.loop.tick(ctx)

	assert.Empty(t, rig.agent.intents)
}

func TestTickSkipsCoolingMarket(t *testing.T) {
	rig := newLoopRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, rig.quotes.SetQuote(ctx, "btc-up-or-down-1015", entryQuote("btc-up-or-down-1015", now)))
	require.NoError(t, rig.cooldown.Arm(ctx, "btc-up-or-down-1015", time.Minute))

	rig.loop.tick(ctx)

	assert.Empty(t, rig.agent.intents)
	_, err := rig.brackets.GetBySlug(ctx, "btc-up-or-down-1015")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTickSkipsStaleQuote(t *testing.T) {
	rig := newLoopRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	q := entryQuote("btc-up-or-down-1015", now)
	q.UpdatedAt = now.Add(-5 * time.Minute)
	require.NoError(t, rig.quotes.SetQuote(ctx, "btc-up-or-down-1015", q))

	rig.loop.tick(ctx)

	assert.Empty(t, rig.agent.intents)
}

func TestEntryUnwindsWhenOrderNotFilled(t *testing.T) {
	rig := newLoopRig(t)
	rig.agent.fill = false
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, rig.quotes.SetQuote(ctx, "btc-up-or-down-1015", entryQuote("btc-up-or-down-1015", now)))

	rig.loop.tick(ctx)

	// The live-slug index is freed, so look the bracket up through settled
	// history.
	settled, err := rig.brackets.ListSettled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, domain.BracketStatusFlattened, settled[0].Status)
	require.NotNil(t, settled[0].RealizedPnL)
	assert.InDelta(t, -40.0, *settled[0].RealizedPnL, 0.01)

	assert.Contains(t, rig.cooldown.armed, "btc-up-or-down-1015")
}

func TestTickHedgesOpenBracket(t *testing.T) {
	rig := newLoopRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 100 shares of Up at 0.30.
	_, err := rig.engine.OpenBracket(ctx, engine.OpenRequest{
		Slug:        "btc-up-or-down-1015",
		MarketLabel: "BTC up or down?",
		Side:        domain.SideUp,
		Price:       0.30,
		SizeShares:  100,
		DryRun:      true,
	})
	require.NoError(t, err)
	rig.agent.intents = nil

	// Down ask at 0.60: hedge costs 60, total 90, locks 10 USDC.
	q := entryQuote("btc-up-or-down-1015", now)
	q.Down = domain.SideQuote{Bid: 0.59, Ask: 0.60, LiqUSDC: 200}
	require.NoError(t, rig.quotes.SetQuote(ctx, "btc-up-or-down-1015", q))

	rig.loop.tick(ctx)

	b, err := rig.brackets.GetBySlug(ctx, "btc-up-or-down-1015")
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusHedged, b.Status)
	assert.InDelta(t, 90.0, b.TotalCost, 0.01)

	require.NotEmpty(t, rig.agent.intents)
	in := rig.agent.intents[0]
	assert.Equal(t, executor.ActionBuy, in.Action)
	assert.Equal(t, domain.SideDown, in.Side)
	assert.InDelta(t, 60.0, in.EstimatedUSDC, 0.01)
}

func TestTickFlattensOnHedgeTimeout(t *testing.T) {
	rig := newLoopRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	opened := now.Add(-11 * time.Minute)
	require.NoError(t, rig.brackets.Create(ctx, domain.Bracket{
		ID:          "b-1",
		Slug:        "btc-up-or-down-1000",
		MarketLabel: "BTC up or down?",
		EntrySide:   domain.SideUp,
		EntryPrice:  0.30,
		SizeShares:  100,
		TotalCost:   30,
		Status:      domain.BracketStatusOpen,
		DryRun:      true,
		OpenedAt:    opened,
	}))

	// Quote offers no hedge worth taking, and the bracket is past the hedge
	// window.
	q := domain.MarketQuote{
		Slug:      "btc-up-or-down-1000",
		Up:        domain.SideQuote{Bid: 0.20, Ask: 0.22, LiqUSDC: 100},
		Down:      domain.SideQuote{Bid: 0.77, Ask: 0.79, LiqUSDC: 100},
		ExpiresAt: now.Add(8 * time.Minute),
		UpdatedAt: now,
	}
	require.NoError(t, rig.quotes.SetQuote(ctx, "btc-up-or-down-1000", q))

	rig.loop.tick(ctx)

	b, err := rig.brackets.GetByID(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusFlattened, b.Status)
	// Sold 100 shares at the 0.20 bid against a 30 USDC cost.
	require.NotNil(t, b.RealizedPnL)
	assert.InDelta(t, -10.0, *b.RealizedPnL, 0.01)

	require.NotEmpty(t, rig.agent.intents)
	assert.Equal(t, executor.ActionSell, rig.agent.intents[0].Action)
	assert.Contains(t, rig.cooldown.armed, "btc-up-or-down-1000")
}

func TestTickResolvesExpiredBracket(t *testing.T) {
	rig := newLoopRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	hedgeSide := domain.SideDown
	hedgedAt := now.Add(-10 * time.Minute)
	require.NoError(t, rig.brackets.Create(ctx, domain.Bracket{
		ID:          "b-2",
		Slug:        "btc-up-or-down-0945",
		MarketLabel: "BTC up or down?",
		EntrySide:   domain.SideUp,
		EntryPrice:  0.30,
		SizeShares:  100,
		TotalCost:   95,
		HedgeSide:   &hedgeSide,
		Status:      domain.BracketStatusHedged,
		DryRun:      true,
		OpenedAt:    now.Add(-20 * time.Minute),
		HedgedAt:    &hedgedAt,
	}))

	// No quote in the cache; the loop falls back to a resolution check.
	rig.resolver.res["btc-up-or-down-0945"] = polymarket.Resolution{Closed: true, UpWon: true}

	rig.loop.tick(ctx)

	b, err := rig.brackets.GetByID(ctx, "b-2")
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusResolved, b.Status)
	// A hedged pair pays the share count whichever side wins.
	require.NotNil(t, b.Payout)
	require.NotNil(t, b.RealizedPnL)
	assert.InDelta(t, 100.0, *b.Payout, 0.01)
	assert.InDelta(t, 5.0, *b.RealizedPnL, 0.01)
	assert.Empty(t, rig.agent.intents)
}

func TestTickLeavesUnresolvedMarketAlone(t *testing.T) {
	rig := newLoopRig(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, rig.brackets.Create(ctx, domain.Bracket{
		ID:         "b-3",
		Slug:       "btc-up-or-down-0930",
		EntrySide:  domain.SideUp,
		EntryPrice: 0.30,
		SizeShares: 100,
		TotalCost:  30,
		Status:     domain.BracketStatusOpen,
		OpenedAt:   now.Add(-30 * time.Minute),
	}))
	rig.resolver.res["btc-up-or-down-0930"] = polymarket.Resolution{Closed: false}

	rig.loop.tick(ctx)

	b, err := rig.brackets.GetByID(ctx, "b-3")
	require.NoError(t, err)
	assert.Equal(t, domain.BracketStatusOpen, b.Status)
}
