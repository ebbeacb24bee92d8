package strategy

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkendall/bracketbot/internal/domain"
)

func testStrategy() *Strategy {
	return New(DefaultConfig(), slog.New(slog.DiscardHandler))
}

func quote(upBid, upAsk, downBid, downAsk float64, minsToExpiry int) domain.MarketQuote {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return domain.MarketQuote{
		Slug:      "bitcoin-up-or-down-march-14-10am-et",
		Up:        domain.SideQuote{Bid: upBid, Ask: upAsk, LiqUSDC: 500},
		Down:      domain.SideQuote{Bid: downBid, Ask: downAsk, LiqUSDC: 500},
		ExpiresAt: now.Add(time.Duration(minsToExpiry) * time.Minute),
		UpdatedAt: now,
	}
}

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func TestIsCandidateMarket(t *testing.T) {
	s := testStrategy()
	assert.True(t, s.IsCandidateMarket("bitcoin-up-or-down-march-14-10am-et"))
	assert.True(t, s.IsCandidateMarket("btc-up-or-down-1500"))
	assert.False(t, s.IsCandidateMarket("ethereum-up-or-down-march-14"))
	assert.False(t, s.IsCandidateMarket("will-btc-hit-100k"))
}

func TestEvaluateEntryPicksCheapSide(t *testing.T) {
	s := testStrategy()

	// DOWN at 0.30 is the cheap side; asks sum to 0.95, 5c of per-share edge.
	d := s.EvaluateEntry(quote(0.64, 0.65, 0.29, 0.30, 60), testNow)
	require.True(t, d.Enter, d.Reason)
	assert.Equal(t, domain.SideDown, d.Side)
	assert.Equal(t, 0.30, d.Price)
	assert.InDelta(t, 40.0, d.StakeUSDC, 1e-9, "stake capped at MaxBracketUSDC")
	assert.InDelta(t, 40.0/0.30, d.SizeShares, 1e-9)
	assert.Positive(t, d.EdgeCents)
}

func TestEvaluateEntryRejections(t *testing.T) {
	s := testStrategy()

	cases := []struct {
		name string
		q    domain.MarketQuote
	}{
		{"no edge in ask sum", quote(0.64, 0.65, 0.34, 0.35, 60)},
		{"cheap side above max ask", quote(0.54, 0.55, 0.39, 0.40, 60)},
		{"spread too wide", quote(0.64, 0.65, 0.25, 0.30, 60)},
		{"one-sided book", quote(0.64, 0.65, 0.29, 0, 60)},
		{"too close to expiry", quote(0.64, 0.65, 0.29, 0.30, 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := s.EvaluateEntry(tc.q, testNow)
			assert.False(t, d.Enter)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestEvaluateEntryLiquidityCapsStake(t *testing.T) {
	s := testStrategy()

	q := quote(0.64, 0.65, 0.29, 0.30, 60)
	q.Down.LiqUSDC = 12
	d := s.EvaluateEntry(q, testNow)
	require.True(t, d.Enter, d.Reason)
	assert.InDelta(t, 12.0, d.StakeUSDC, 1e-9)

	q.Down.LiqUSDC = 2 // below MinStakeUSDC
	d = s.EvaluateEntry(q, testNow)
	assert.False(t, d.Enter)
}

func TestEvaluateHedge(t *testing.T) {
	s := testStrategy()

	b := domain.Bracket{
		Slug:       "bitcoin-up-or-down-march-14-10am-et",
		EntrySide:  domain.SideDown,
		EntryPrice: 0.30,
		SizeShares: 100,
		TotalCost:  30,
		Status:     domain.BracketStatusOpen,
	}

	// UP ask at 0.65: total cost 95 for a 100 payout, 500 cents locked.
	d := s.EvaluateHedge(b, quote(0.64, 0.65, 0.29, 0.30, 60))
	require.True(t, d.Hedge, d.Reason)
	assert.Equal(t, 0.65, d.Price)
	assert.InDelta(t, 65.0, d.CostUSDC, 1e-9)
	assert.InDelta(t, 500.0, d.EdgeCents, 1e-9)

	// UP ask at 0.70: cost 100 for a 100 payout, nothing locked.
	d = s.EvaluateHedge(b, quote(0.69, 0.70, 0.29, 0.30, 60))
	assert.False(t, d.Hedge)
	assert.Equal(t, "insufficient edge", d.Reason)

	// Not enough depth on the opposite side.
	q := quote(0.64, 0.65, 0.29, 0.30, 60)
	q.Up.LiqUSDC = 10
	d = s.EvaluateHedge(b, q)
	assert.False(t, d.Hedge)
	assert.Equal(t, "insufficient liquidity", d.Reason)
}

func TestEvaluateFlatten(t *testing.T) {
	s := testStrategy()

	b := domain.Bracket{
		EntrySide:  domain.SideDown,
		SizeShares: 100,
		TotalCost:  30,
		Status:     domain.BracketStatusOpen,
		OpenedAt:   testNow.Add(-11 * time.Minute),
	}

	d := s.EvaluateFlatten(b, quote(0.64, 0.65, 0.29, 0.30, 60), testNow)
	require.True(t, d.Flatten)
	assert.Equal(t, FlattenHedgeTimeout, d.Reason)

	b.OpenedAt = testNow.Add(-2 * time.Minute)
	d = s.EvaluateFlatten(b, quote(0.64, 0.65, 0.29, 0.30, 4), testNow)
	require.True(t, d.Flatten)
	assert.Equal(t, FlattenNearExpiry, d.Reason)

	d = s.EvaluateFlatten(b, quote(0.64, 0.65, 0.29, 0.30, 60), testNow)
	assert.False(t, d.Flatten)

	// Hedged brackets ride to settlement.
	b.Status = domain.BracketStatusHedged
	b.OpenedAt = testNow.Add(-20 * time.Minute)
	d = s.EvaluateFlatten(b, quote(0.64, 0.65, 0.29, 0.30, 2), testNow)
	assert.False(t, d.Flatten)
}

func TestEstimateSaleProceeds(t *testing.T) {
	s := testStrategy()

	b := domain.Bracket{
		EntrySide:  domain.SideDown,
		SizeShares: 100,
		TotalCost:  30,
	}

	q := quote(0.64, 0.65, 0.25, 0.30, 60)
	assert.InDelta(t, 25.0, s.EstimateSaleProceeds(b, q), 1e-9)

	q.Down.Bid = 0
	assert.InDelta(t, 15.0, s.EstimateSaleProceeds(b, q), 1e-9, "no bid falls back to half cost")
}
