// Package loop drives the BTC15 round trip. Each tick it manages every live
// bracket (hedge, flatten, or settle it) and then looks for a fresh entry
// among the cached quotes. All risk decisions happen inside the engine; the
// loop only sequences them and talks to the execution agent afterwards.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rkendall/bracketbot/internal/domain"
	"github.com/rkendall/bracketbot/internal/engine"
	"github.com/rkendall/bracketbot/internal/executor"
	"github.com/rkendall/bracketbot/internal/platform/polymarket"
	"github.com/rkendall/bracketbot/internal/strategy"
)

// FlattenEntryFailed marks brackets abandoned because the entry order never
// made it to the venue. The cost stays charged against the day's budget.
const FlattenEntryFailed = "entry_failed"

// Resolver reports market settlement. Implemented by polymarket.GammaClient.
type Resolver interface {
	GetResolution(ctx context.Context, slug string) (polymarket.Resolution, error)
}

// Cooldown is the per-slug re-entry latch. Implemented by redis.Cooldown.
type Cooldown interface {
	Arm(ctx context.Context, slug string, ttl time.Duration) error
	Active(ctx context.Context, slug string) (bool, error)
}

// Config holds the loop tunables.
type Config struct {
	// PollInterval is the cadence of the whole manage-then-enter cycle.
	PollInterval time.Duration
	// QuoteMaxAge rejects entries on quotes the feed has not refreshed
	// recently. 0 disables the check.
	QuoteMaxAge time.Duration
	// DryRun is stamped onto every bracket and intent the loop produces.
	DryRun bool
}

// PollLoop owns one strategy round trip per market.
type PollLoop struct {
	cfg      Config
	engine   *engine.Engine
	strat    *strategy.Strategy
	quotes   domain.QuoteCache
	cooldown Cooldown
	resolver Resolver
	agent    executor.Agent
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a PollLoop.
func New(cfg Config, eng *engine.Engine, strat *strategy.Strategy, quotes domain.QuoteCache, cooldown Cooldown, resolver Resolver, agent executor.Agent, logger *slog.Logger) *PollLoop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.QuoteMaxAge <= 0 {
		cfg.QuoteMaxAge = 30 * time.Second
	}
	return &PollLoop{
		cfg:      cfg,
		engine:   eng,
		strat:    strat,
		quotes:   quotes,
		cooldown: cooldown,
		resolver: resolver,
		agent:    agent,
		logger:   logger.With(slog.String("component", "poll_loop")),
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled.
func (l *PollLoop) Run(ctx context.Context) error {
	l.logger.Info("poll loop started",
		slog.Duration("interval", l.cfg.PollInterval),
		slog.Bool("dry_run", l.cfg.DryRun),
	)
	defer l.logger.Info("poll loop stopped")

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick runs one full cycle: live brackets first so capital is released before
// new entries compete for it.
func (l *PollLoop) tick(ctx context.Context) {
	brackets, err := l.engine.GetOpenBrackets(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "list open brackets failed", slog.String("error", err.Error()))
		return
	}
	for _, b := range brackets {
		l.manageBracket(ctx, b)
	}

	slugs, err := l.quotes.ListSlugs(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "list quote slugs failed", slog.String("error", err.Error()))
		return
	}
	for _, slug := range slugs {
		l.maybeEnter(ctx, slug)
	}
}

// manageBracket advances one live bracket: settle it when its market closed,
// flatten it when its window ran out, hedge it when the lock is profitable.
func (l *PollLoop) manageBracket(ctx context.Context, b domain.Bracket) {
	now := l.now().UTC()

	q, err := l.quotes.GetQuote(ctx, b.Slug)
	if err != nil || now.After(q.ExpiresAt) {
		// The feed has dropped the market or it is past settlement; ask the
		// venue whether it resolved.
		l.checkResolution(ctx, b)
		return
	}

	if b.Status != domain.BracketStatusOpen {
		return
	}

	if fd := l.strat.EvaluateFlatten(b, q, now); fd.Flatten {
		l.flatten(ctx, b, q, fd.Reason)
		return
	}

	hd := l.strat.EvaluateHedge(b, q)
	if !hd.Hedge {
		return
	}
	l.hedge(ctx, b, hd)
}

func (l *PollLoop) hedge(ctx context.Context, b domain.Bracket, hd strategy.HedgeDecision) {
	hedged, err := l.engine.HedgeBracket(ctx, engine.HedgeRequest{
		Slug:      b.Slug,
		Price:     hd.Price,
		EdgeCents: hd.EdgeCents,
	})
	if err != nil {
		if reason, ok := domain.IsGuardRejection(err); ok {
			l.logger.InfoContext(ctx, "hedge denied by guard",
				slog.String("slug", b.Slug),
				slog.String("reason", reason),
			)
			return
		}
		l.logger.ErrorContext(ctx, "hedge failed",
			slog.String("slug", b.Slug),
			slog.String("error", err.Error()),
		)
		return
	}

	res, err := l.agent.Submit(ctx, executor.Intent{
		Slug:          b.Slug,
		MarketLabel:   b.MarketLabel,
		Action:        executor.ActionBuy,
		Side:          b.EntrySide.Opposite(),
		Price:         hd.Price,
		SizeShares:    b.SizeShares,
		EstimatedUSDC: hd.CostUSDC,
		DryRun:        l.cfg.DryRun,
	})
	if err != nil || !res.Filled {
		// The ledger already carries the hedge cost; charge-on-intent keeps
		// the budget view pessimistic when the venue disagrees.
		l.logger.WarnContext(ctx, "hedge order not confirmed",
			slog.String("slug", b.Slug),
			slog.String("message", res.Message),
			slog.Any("error", err),
		)
		return
	}
	l.logger.InfoContext(ctx, "hedge filled",
		slog.String("slug", hedged.Slug),
		slog.Float64("total_cost", hedged.TotalCost),
	)
}

// flatten abandons the entry leg: sell whatever the book pays, settle the
// ledger with the actual proceeds, and keep the loop out of this market for a
// while.
func (l *PollLoop) flatten(ctx context.Context, b domain.Bracket, q domain.MarketQuote, reason string) {
	proceeds := l.strat.EstimateSaleProceeds(b, q)

	res, err := l.agent.Submit(ctx, executor.Intent{
		Slug:          b.Slug,
		MarketLabel:   b.MarketLabel,
		Action:        executor.ActionSell,
		Side:          b.EntrySide,
		Price:         q.Quote(b.EntrySide).Bid,
		SizeShares:    b.SizeShares,
		EstimatedUSDC: proceeds,
		DryRun:        l.cfg.DryRun,
	})
	if err != nil || !res.Filled {
		l.logger.WarnContext(ctx, "flatten sale not confirmed, booking zero proceeds",
			slog.String("slug", b.Slug),
			slog.Any("error", err),
		)
		proceeds = 0
	}

	if _, err := l.engine.FlattenBracket(ctx, b.ID, proceeds, reason); err != nil {
		l.logger.ErrorContext(ctx, "flatten failed",
			slog.String("slug", b.Slug),
			slog.String("error", err.Error()),
		)
		return
	}
	l.armCooldown(ctx, b.Slug)
}

// checkResolution settles a bracket whose market has closed.
func (l *PollLoop) checkResolution(ctx context.Context, b domain.Bracket) {
	res, err := l.resolver.GetResolution(ctx, b.Slug)
	if err != nil {
		l.logger.WarnContext(ctx, "resolution check failed",
			slog.String("slug", b.Slug),
			slog.String("error", err.Error()),
		)
		return
	}
	if !res.Closed {
		return
	}

	winner := domain.SideDown
	if res.UpWon {
		winner = domain.SideUp
	}
	settled, err := l.engine.ResolveBracket(ctx, b.ID, winner)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return
		}
		l.logger.ErrorContext(ctx, "resolve failed",
			slog.String("slug", b.Slug),
			slog.String("error", err.Error()),
		)
		return
	}
	pnl := 0.0
	if settled.RealizedPnL != nil {
		pnl = *settled.RealizedPnL
	}
	l.logger.InfoContext(ctx, "bracket settled",
		slog.String("slug", settled.Slug),
		slog.String("winner", string(winner)),
		slog.Float64("pnl", pnl),
	)
}

// maybeEnter opens a new bracket on slug when the strategy likes the quote
// and nothing stands in the way.
func (l *PollLoop) maybeEnter(ctx context.Context, slug string) {
	if !l.strat.IsCandidateMarket(slug) {
		return
	}

	cooling, err := l.cooldown.Active(ctx, slug)
	if err != nil {
		l.logger.WarnContext(ctx, "cooldown check failed", slog.String("slug", slug), slog.String("error", err.Error()))
		return
	}
	if cooling {
		return
	}

	if _, err := l.engine.GetBracketBySlug(ctx, slug); err == nil {
		return // one live bracket per market
	} else if !errors.Is(err, domain.ErrNotFound) {
		l.logger.WarnContext(ctx, "bracket lookup failed", slog.String("slug", slug), slog.String("error", err.Error()))
		return
	}

	q, err := l.quotes.GetQuote(ctx, slug)
	if err != nil {
		return
	}
	now := l.now().UTC()
	if l.cfg.QuoteMaxAge > 0 && now.Sub(q.UpdatedAt) > l.cfg.QuoteMaxAge {
		return
	}

	d := l.strat.EvaluateEntry(q, now)
	if !d.Enter {
		l.logger.DebugContext(ctx, "entry skipped",
			slog.String("slug", slug),
			slog.String("reason", d.Reason),
		)
		return
	}

	b, err := l.engine.OpenBracket(ctx, engine.OpenRequest{
		Slug:        slug,
		MarketLabel: q.MarketLabel,
		Side:        d.Side,
		Price:       d.Price,
		SizeShares:  d.SizeShares,
		EdgeCents:   d.EdgeCents,
		DryRun:      l.cfg.DryRun,
	})
	if err != nil {
		if reason, ok := domain.IsGuardRejection(err); ok {
			l.logger.InfoContext(ctx, "entry denied by guard",
				slog.String("slug", slug),
				slog.String("reason", reason),
			)
			return
		}
		l.logger.ErrorContext(ctx, "open failed", slog.String("slug", slug), slog.String("error", err.Error()))
		return
	}

	res, err := l.agent.Submit(ctx, executor.Intent{
		Slug:          slug,
		MarketLabel:   q.MarketLabel,
		Action:        executor.ActionBuy,
		Side:          d.Side,
		Price:         d.Price,
		SizeShares:    d.SizeShares,
		EstimatedUSDC: d.StakeUSDC,
		DryRun:        l.cfg.DryRun,
	})
	if err != nil || !res.Filled {
		// The bracket was charged before submission; unwind it as a total
		// loss of the reserved budget and stay away from the market.
		l.logger.WarnContext(ctx, "entry order not confirmed, unwinding",
			slog.String("slug", slug),
			slog.String("message", res.Message),
			slog.Any("error", err),
		)
		if _, ferr := l.engine.FlattenBracket(ctx, b.ID, 0, FlattenEntryFailed); ferr != nil {
			l.logger.ErrorContext(ctx, "unwind failed", slog.String("slug", slug), slog.String("error", ferr.Error()))
		}
		l.armCooldown(ctx, slug)
		return
	}

	l.logger.InfoContext(ctx, "bracket entered",
		slog.String("slug", slug),
		slog.String("side", string(d.Side)),
		slog.Float64("price", d.Price),
		slog.Float64("stake", d.StakeUSDC),
	)
}

func (l *PollLoop) armCooldown(ctx context.Context, slug string) {
	ttl := l.strat.Config().Cooldown
	if ttl <= 0 {
		return
	}
	if err := l.cooldown.Arm(ctx, slug, ttl); err != nil {
		l.logger.WarnContext(ctx, "arm cooldown failed", slog.String("slug", slug), slog.String("error", err.Error()))
	}
}

// setNow swaps the clock. Tests only.
func (l *PollLoop) setNow(now func() time.Time) {
	l.now = now
}
