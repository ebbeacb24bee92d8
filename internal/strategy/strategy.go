// Package strategy holds the pure decision logic of the BTC15 hedged-bracket
// play: when to enter the cheap side of an up/down market, when the opposite
// side is priced well enough to lock the pair, and when an unhedged position
// has to be abandoned. Decisions never touch storage or the network; the poll
// loop feeds them quotes and acts on the verdicts.
package strategy

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rkendall/bracketbot/internal/domain"
)

// Flatten reasons surfaced in activity records.
const (
	FlattenHedgeTimeout = "hedge_timeout"
	FlattenNearExpiry   = "near_expiry"
)

// Config holds the strategy tunables.
type Config struct {
	// SlugPatterns marks which markets belong to the strategy. A market
	// qualifies when its slug contains any of the patterns.
	SlugPatterns []string
	// MaxBracketUSDC caps the stake of a single entry leg.
	MaxBracketUSDC float64
	// MinStakeUSDC skips entries too small to matter after fees.
	MinStakeUSDC float64
	// MaxEntryAsk is the highest ask at which the cheap side is still cheap.
	MaxEntryAsk float64
	// MaxSpread is the widest tolerable bid-ask spread on the entry side.
	MaxSpread float64
	// MinTotalEdgeCents is the minimum locked profit, in cents, required both
	// to enter (projected from the ask sum) and to hedge (realized by the
	// second leg).
	MinTotalEdgeCents float64
	// MaxTimeToHedge abandons a bracket that stayed one-sided this long.
	MaxTimeToHedge time.Duration
	// FlattenBeforeExpiry abandons unhedged brackets this close to
	// settlement.
	FlattenBeforeExpiry time.Duration
	// Cooldown keeps the loop out of a market after a flatten there.
	Cooldown time.Duration
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		SlugPatterns:        []string{"bitcoin-up-or-down", "btc-up-or-down"},
		MaxBracketUSDC:      40,
		MinStakeUSDC:        5,
		MaxEntryAsk:         0.35,
		MaxSpread:           0.02,
		MinTotalEdgeCents:   1.0,
		MaxTimeToHedge:      10 * time.Minute,
		FlattenBeforeExpiry: 5 * time.Minute,
		Cooldown:            5 * time.Minute,
	}
}

// EntryDecision is the verdict on opening a new bracket.
type EntryDecision struct {
	Enter      bool
	Side       domain.Side
	Price      float64
	SizeShares float64
	StakeUSDC  float64
	// EdgeCents is the projected locked profit if the hedge later fills at
	// the current opposite ask.
	EdgeCents float64
	Reason    string
}

// HedgeDecision is the verdict on locking an open bracket.
type HedgeDecision struct {
	Hedge     bool
	Price     float64
	CostUSDC  float64
	EdgeCents float64
	Reason    string
}

// FlattenDecision is the verdict on abandoning a live bracket.
type FlattenDecision struct {
	Flatten bool
	Reason  string
}

// Strategy evaluates quotes against the configured thresholds.
type Strategy struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Strategy.
func New(cfg Config, logger *slog.Logger) *Strategy {
	return &Strategy{cfg: cfg, logger: logger.With(slog.String("component", "strategy"))}
}

// Config returns the active tunables.
func (s *Strategy) Config() Config { return s.cfg }

// IsCandidateMarket reports whether slug belongs to the strategy's universe.
func (s *Strategy) IsCandidateMarket(slug string) bool {
	for _, p := range s.cfg.SlugPatterns {
		if strings.Contains(slug, p) {
			return true
		}
	}
	return false
}

// EvaluateEntry decides whether to buy the cheap side of q right now. The
// entry requires the two asks to sum below 1 by at least the edge threshold,
// the cheap side to be genuinely cheap and tight, and enough time left to
// complete the hedge before the flatten window opens.
func (s *Strategy) EvaluateEntry(q domain.MarketQuote, now time.Time) EntryDecision {
	up, down := q.Up, q.Down
	if up.Ask <= 0 || down.Ask <= 0 {
		return EntryDecision{Reason: "one-sided book"}
	}

	timeLeft := q.ExpiresAt.Sub(now)
	if timeLeft <= s.cfg.FlattenBeforeExpiry+s.cfg.MaxTimeToHedge {
		return EntryDecision{Reason: "too close to expiry"}
	}

	sumAsk := up.Ask + down.Ask
	edgeCents := (1 - sumAsk) * 100
	if edgeCents < s.cfg.MinTotalEdgeCents {
		return EntryDecision{Reason: "insufficient edge"}
	}

	side := domain.SideUp
	entry := up
	if down.Ask < up.Ask {
		side = domain.SideDown
		entry = down
	}
	if entry.Ask > s.cfg.MaxEntryAsk {
		return EntryDecision{Reason: "cheap side not cheap enough"}
	}
	if entry.Bid <= 0 || entry.Ask-entry.Bid > s.cfg.MaxSpread {
		return EntryDecision{Reason: "spread too wide"}
	}

	stake := math.Min(s.cfg.MaxBracketUSDC, entry.LiqUSDC)
	if stake < s.cfg.MinStakeUSDC {
		return EntryDecision{Reason: "insufficient liquidity"}
	}

	shares := stake / entry.Ask
	return EntryDecision{
		Enter:      true,
		Side:       side,
		Price:      entry.Ask,
		SizeShares: shares,
		StakeUSDC:  stake,
		EdgeCents:  edgeCents * shares, // per-share cents scaled to the position
	}
}

// EvaluateHedge decides whether the opposite side of b is priced well enough
// to lock a profit. The hedge buys the same share count, so the settled pair
// pays SizeShares; the verdict compares that payout against the combined
// cost.
func (s *Strategy) EvaluateHedge(b domain.Bracket, q domain.MarketQuote) HedgeDecision {
	opp := q.Quote(b.EntrySide.Opposite())
	if opp.Ask <= 0 {
		return HedgeDecision{Reason: "one-sided book"}
	}

	hedgeCost := opp.Ask * b.SizeShares
	if opp.LiqUSDC < hedgeCost {
		return HedgeDecision{Reason: "insufficient liquidity"}
	}

	lockedProfit := b.SizeShares - (b.TotalCost + hedgeCost)
	edgeCents := lockedProfit * 100
	if edgeCents < s.cfg.MinTotalEdgeCents {
		return HedgeDecision{Reason: "insufficient edge"}
	}

	return HedgeDecision{
		Hedge:     true,
		Price:     opp.Ask,
		CostUSDC:  hedgeCost,
		EdgeCents: edgeCents,
	}
}

// EvaluateFlatten decides whether a still-open bracket must be abandoned:
// either the hedge window ran out or settlement is too close to keep holding
// one side.
func (s *Strategy) EvaluateFlatten(b domain.Bracket, q domain.MarketQuote, now time.Time) FlattenDecision {
	if b.Status != domain.BracketStatusOpen {
		return FlattenDecision{}
	}
	if now.Sub(b.OpenedAt) > s.cfg.MaxTimeToHedge {
		return FlattenDecision{Flatten: true, Reason: FlattenHedgeTimeout}
	}
	if q.ExpiresAt.Sub(now) <= s.cfg.FlattenBeforeExpiry {
		return FlattenDecision{Flatten: true, Reason: FlattenNearExpiry}
	}
	return FlattenDecision{}
}

// EstimateSaleProceeds approximates what abandoning the entry leg recovers.
// With a live bid the position sells near the bid; without one, experience
// says roughly half the cost comes back.
func (s *Strategy) EstimateSaleProceeds(b domain.Bracket, q domain.MarketQuote) float64 {
	entry := q.Quote(b.EntrySide)
	if entry.Bid > 0 {
		return entry.Bid * b.SizeShares
	}
	return b.TotalCost * 0.5
}
