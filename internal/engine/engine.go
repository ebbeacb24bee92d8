// Package engine implements the bracket lifecycle state machine. It is the
// single writer for bracket and risk-state records: every open, hedge,
// resolution, and flatten flows through it, passes the risk guard when it
// adds cost, and leaves an activity record behind.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkendall/bracketbot/internal/domain"
	"github.com/rkendall/bracketbot/internal/guard"
)

// Recorder receives one activity record per engine decision. Implementations
// are best-effort; the engine never fails a transition because recording did.
type Recorder interface {
	Record(ctx context.Context, rec domain.ActivityRecord)
}

// Notifier pushes operator-facing alerts. Satisfied by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Notification event types emitted by the engine.
const (
	EventBracketOpened    = "bracket_opened"
	EventBracketHedged    = "bracket_hedged"
	EventBracketResolved  = "bracket_resolved"
	EventBracketFlattened = "bracket_flattened"
	EventGuardReject      = "guard_reject"
)

// Options collects the engine's dependencies. Notifier may be nil.
type Options struct {
	Brackets   domain.BracketStore
	RiskStates domain.RiskStateStore
	Counters   *SessionCounters
	Guard      guard.Config
	Recorder   Recorder
	Notifier   Notifier
	Logger     *slog.Logger
}

// Engine serializes all bracket mutations behind a single mutex. Store-level
// status-conditional updates back this up, so even a second process cannot
// double-apply a transition.
type Engine struct {
	mu       sync.Mutex
	brackets domain.BracketStore
	risk     domain.RiskStateStore
	counters *SessionCounters
	guardCfg guard.Config
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Engine from opts.
func New(opts Options) *Engine {
	return &Engine{
		brackets: opts.Brackets,
		risk:     opts.RiskStates,
		counters: opts.Counters,
		guardCfg: opts.Guard,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
		logger:   opts.Logger.With(slog.String("component", "engine")),
		now:      time.Now,
	}
}

// OpenRequest describes a proposed entry leg.
type OpenRequest struct {
	Slug        string
	MarketLabel string
	Side        domain.Side
	Price       float64
	SizeShares  float64
	EdgeCents   float64
	DryRun      bool
}

func (r OpenRequest) validate() error {
	if r.Slug == "" {
		return errors.New("engine: open: empty slug")
	}
	if r.Price <= 0 || r.Price >= 1 {
		return fmt.Errorf("engine: open %s: price %.4f outside (0, 1)", r.Slug, r.Price)
	}
	if r.SizeShares <= 0 {
		return fmt.Errorf("engine: open %s: non-positive size", r.Slug)
	}
	return nil
}

// OpenBracket opens a new bracket for the given market. Cost is charged at
// intent time, before any fill confirmation arrives, so the guard's budget
// view is always pessimistic.
func (e *Engine) OpenBracket(ctx context.Context, req OpenRequest) (domain.Bracket, error) {
	if err := req.validate(); err != nil {
		return domain.Bracket{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	cost := req.Price * req.SizeShares

	// A live bracket on the slug is a state conflict, not a policy denial;
	// it must win over any guard reason and leave no activity trail.
	if _, err := e.brackets.GetBySlug(ctx, req.Slug); err == nil {
		return domain.Bracket{}, domain.ErrDuplicateSlug
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Bracket{}, fmt.Errorf("engine: open %s: %w", req.Slug, err)
	}

	verdict := guard.Evaluate(e.guardCfg, guard.ActionOpen, cost, e.counters.Snapshot())
	if !verdict.Allow {
		e.reject(ctx, req.Slug, req.MarketLabel, domain.ActionOpen, req.Side, cost, req.Price, req.EdgeCents, req.DryRun, verdict.Reason, now)
		return domain.Bracket{}, &domain.GuardRejection{Reason: verdict.Reason}
	}

	b := domain.Bracket{
		ID:          uuid.NewString(),
		Slug:        req.Slug,
		MarketLabel: req.MarketLabel,
		EntrySide:   req.Side,
		EntryPrice:  req.Price,
		SizeShares:  req.SizeShares,
		TotalCost:   cost,
		Status:      domain.BracketStatusOpen,
		DryRun:      req.DryRun,
		OpenedAt:    now,
	}
	if err := e.brackets.Create(ctx, b); err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: open %s: %w", req.Slug, err)
	}

	side := req.Side
	if err := e.risk.Upsert(ctx, domain.RiskState{
		Slug:         req.Slug,
		LastEntryAt:  &now,
		UnhedgedSide: &side,
		UnhedgedCost: cost,
		UnhedgedSize: req.SizeShares,
		LossesInRow:  e.counters.LossesInRow(),
		UpdatedAt:    now,
	}); err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: open %s: risk state: %w", req.Slug, err)
	}

	e.counters.OpenStarted(cost)
	e.record(ctx, domain.ActivityRecord{
		Timestamp:   now,
		Slug:        req.Slug,
		MarketLabel: req.MarketLabel,
		Action:      domain.ActionOpen,
		Side:        req.Side,
		SizeUSDC:    cost,
		Price:       req.Price,
		EdgeCents:   req.EdgeCents,
		DryRun:      req.DryRun,
		Result:      "ok",
	})

	e.logger.InfoContext(ctx, "bracket opened",
		slog.String("slug", req.Slug),
		slog.String("side", string(req.Side)),
		slog.Float64("price", req.Price),
		slog.Float64("cost", cost),
		slog.Bool("dry_run", req.DryRun),
	)
	e.notify(ctx, EventBracketOpened, "Bracket opened",
		fmt.Sprintf("%s %s %.0f shares @ %.2f (%.2f USDC)", req.Slug, req.Side, req.SizeShares, req.Price, cost))

	return b, nil
}

// HedgeRequest describes the second leg for an open bracket.
type HedgeRequest struct {
	Slug      string
	Price     float64
	EdgeCents float64
}

// HedgeBracket adds the opposite-side leg to an OPEN bracket, moving it to
// HEDGED. The hedge uses the same share count as the entry so the pair pays
// out SizeShares at settlement no matter which side wins.
func (e *Engine) HedgeBracket(ctx context.Context, req HedgeRequest) (domain.Bracket, error) {
	if req.Price <= 0 || req.Price >= 1 {
		return domain.Bracket{}, fmt.Errorf("engine: hedge %s: price %.4f outside (0, 1)", req.Slug, req.Price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.brackets.GetBySlug(ctx, req.Slug)
	if err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: hedge %s: %w", req.Slug, err)
	}
	if b.Status != domain.BracketStatusOpen {
		return domain.Bracket{}, fmt.Errorf("engine: hedge %s: status %s: %w", req.Slug, b.Status, domain.ErrInvalidState)
	}

	now := e.now().UTC()
	hedgeCost := req.Price * b.SizeShares

	snap := e.counters.Snapshot()
	snap.BracketCostSoFar = b.TotalCost
	verdict := guard.Evaluate(e.guardCfg, guard.ActionHedge, hedgeCost, snap)
	if !verdict.Allow {
		e.reject(ctx, req.Slug, b.MarketLabel, domain.ActionHedge, b.EntrySide.Opposite(), hedgeCost, req.Price, req.EdgeCents, b.DryRun, verdict.Reason, now)
		return domain.Bracket{}, &domain.GuardRejection{Reason: verdict.Reason}
	}

	hedgeSide := b.EntrySide.Opposite()
	from := b.Status
	b.HedgeSide = &hedgeSide
	b.HedgePrice = &req.Price
	b.TotalCost += hedgeCost
	b.Status = domain.BracketStatusHedged
	b.HedgedAt = &now

	if err := e.brackets.Transition(ctx, b, from); err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: hedge %s: %w", req.Slug, err)
	}

	// The bracket now holds both sides; no unhedged exposure remains.
	if err := e.risk.Upsert(ctx, domain.RiskState{
		Slug:        req.Slug,
		LastEntryAt: b.HedgedAt,
		LossesInRow: e.counters.LossesInRow(),
		UpdatedAt:   now,
	}); err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: hedge %s: risk state: %w", req.Slug, err)
	}

	e.counters.CostAdded(b.OpenedAt, hedgeCost)
	e.record(ctx, domain.ActivityRecord{
		Timestamp:   now,
		Slug:        req.Slug,
		MarketLabel: b.MarketLabel,
		Action:      domain.ActionHedge,
		Side:        hedgeSide,
		SizeUSDC:    hedgeCost,
		Price:       req.Price,
		EdgeCents:   req.EdgeCents,
		DryRun:      b.DryRun,
		Result:      "ok",
	})

	e.logger.InfoContext(ctx, "bracket hedged",
		slog.String("slug", req.Slug),
		slog.Float64("hedge_price", req.Price),
		slog.Float64("total_cost", b.TotalCost),
		slog.Float64("edge_cents", req.EdgeCents),
	)
	e.notify(ctx, EventBracketHedged, "Bracket hedged",
		fmt.Sprintf("%s locked at %.2f USDC total cost, %.1fc edge", req.Slug, b.TotalCost, req.EdgeCents))

	return b, nil
}

// ResolveBracket settles a bracket against the market's outcome. A HEDGED
// bracket pays SizeShares regardless of the winner; an OPEN one pays only if
// the entry side won. Resolving an already-terminal bracket returns
// ErrInvalidState and changes nothing.
func (e *Engine) ResolveBracket(ctx context.Context, id string, winner domain.Side) (domain.Bracket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.brackets.GetByID(ctx, id)
	if err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: resolve %s: %w", id, err)
	}
	if b.Status.Terminal() {
		return domain.Bracket{}, fmt.Errorf("engine: resolve %s: status %s: %w", id, b.Status, domain.ErrInvalidState)
	}

	now := e.now().UTC()
	var payout float64
	switch {
	case b.Status == domain.BracketStatusHedged:
		payout = b.SizeShares
	case b.EntrySide == winner:
		payout = b.SizeShares
	default:
		payout = 0
	}
	pnl := payout - b.TotalCost

	from := b.Status
	b.Status = domain.BracketStatusResolved
	b.Payout = &payout
	b.RealizedPnL = &pnl
	b.ResolvedAt = &now

	if err := e.brackets.Transition(ctx, b, from); err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: resolve %s: %w", id, err)
	}
	if err := e.risk.Delete(ctx, b.Slug); err != nil {
		e.logger.WarnContext(ctx, "risk state cleanup failed",
			slog.String("slug", b.Slug),
			slog.String("error", err.Error()),
		)
	}

	e.counters.Settled(b.OpenedAt, pnl)
	e.record(ctx, domain.ActivityRecord{
		Timestamp:   now,
		Slug:        b.Slug,
		MarketLabel: b.MarketLabel,
		Action:      domain.ActionResolve,
		Side:        winner,
		SizeUSDC:    payout,
		DryRun:      b.DryRun,
		Result:      fmt.Sprintf("pnl=%.2f", pnl),
	})

	e.logger.InfoContext(ctx, "bracket resolved",
		slog.String("slug", b.Slug),
		slog.String("winner", string(winner)),
		slog.Float64("payout", payout),
		slog.Float64("pnl", pnl),
	)
	e.notify(ctx, EventBracketResolved, "Bracket resolved",
		fmt.Sprintf("%s winner %s, PnL %+.2f USDC", b.Slug, winner, pnl))

	return b, nil
}

// FlattenBracket force-exits a live bracket before settlement, typically when
// the hedge window expired or the market is too close to expiry. Payout is
// recorded as zero so forced exits remain distinguishable from settlements;
// saleProceeds feeds the realized PnL instead.
func (e *Engine) FlattenBracket(ctx context.Context, id string, saleProceeds float64, reason string) (domain.Bracket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.brackets.GetByID(ctx, id)
	if err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: flatten %s: %w", id, err)
	}
	if b.Status.Terminal() {
		return domain.Bracket{}, fmt.Errorf("engine: flatten %s: status %s: %w", id, b.Status, domain.ErrInvalidState)
	}

	now := e.now().UTC()
	payout := 0.0
	pnl := saleProceeds - b.TotalCost

	from := b.Status
	b.Status = domain.BracketStatusFlattened
	b.Payout = &payout
	b.RealizedPnL = &pnl
	b.ResolvedAt = &now

	if err := e.brackets.Transition(ctx, b, from); err != nil {
		return domain.Bracket{}, fmt.Errorf("engine: flatten %s: %w", id, err)
	}
	if err := e.risk.Delete(ctx, b.Slug); err != nil {
		e.logger.WarnContext(ctx, "risk state cleanup failed",
			slog.String("slug", b.Slug),
			slog.String("error", err.Error()),
		)
	}

	e.counters.Settled(b.OpenedAt, pnl)
	e.record(ctx, domain.ActivityRecord{
		Timestamp:   now,
		Slug:        b.Slug,
		MarketLabel: b.MarketLabel,
		Action:      domain.ActionFlatten,
		Side:        b.EntrySide,
		SizeUSDC:    saleProceeds,
		DryRun:      b.DryRun,
		Result:      reason,
	})

	e.logger.WarnContext(ctx, "bracket flattened",
		slog.String("slug", b.Slug),
		slog.String("reason", reason),
		slog.Float64("proceeds", saleProceeds),
		slog.Float64("pnl", pnl),
	)
	e.notify(ctx, EventBracketFlattened, "Bracket flattened",
		fmt.Sprintf("%s flattened (%s), PnL %+.2f USDC", b.Slug, reason, pnl))

	return b, nil
}

// GetBracketBySlug returns the live bracket for slug, if any.
func (e *Engine) GetBracketBySlug(ctx context.Context, slug string) (domain.Bracket, error) {
	return e.brackets.GetBySlug(ctx, slug)
}

// GetBracketByID returns the bracket with the given ID in any state.
func (e *Engine) GetBracketByID(ctx context.Context, id string) (domain.Bracket, error) {
	return e.brackets.GetByID(ctx, id)
}

// GetOpenBrackets returns all live brackets, newest first.
func (e *Engine) GetOpenBrackets(ctx context.Context) ([]domain.Bracket, error) {
	return e.brackets.ListOpen(ctx)
}

// GetStats assembles the dashboard summary from store aggregates and the live
// session counters. It reads state only; calling it twice in a row yields the
// same result.
func (e *Engine) GetStats(ctx context.Context) (domain.Stats, error) {
	today, err := e.brackets.DayTotals(ctx, e.now())
	if err != nil {
		return domain.Stats{}, fmt.Errorf("engine: stats: %w", err)
	}
	lifetime, err := e.brackets.LifetimeTotals(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("engine: stats: %w", err)
	}
	return domain.Stats{
		Today:       today,
		Lifetime:    lifetime,
		OpenCount:   e.counters.OpenCount(),
		LossesInRow: e.counters.LossesInRow(),
	}, nil
}

func (e *Engine) reject(ctx context.Context, slug, label, action string, side domain.Side, cost, price, edge float64, dryRun bool, reason string, now time.Time) {
	e.record(ctx, domain.ActivityRecord{
		Timestamp:   now,
		Slug:        slug,
		MarketLabel: label,
		Action:      domain.ActionReject,
		Side:        side,
		SizeUSDC:    cost,
		Price:       price,
		EdgeCents:   edge,
		DryRun:      dryRun,
		Result:      reason,
	})
	e.logger.InfoContext(ctx, "guard rejected action",
		slog.String("slug", slug),
		slog.String("action", action),
		slog.String("reason", reason),
	)
	e.notify(ctx, EventGuardReject, "Guard rejection",
		fmt.Sprintf("%s %s denied: %s", slug, action, reason))
}

func (e *Engine) record(ctx context.Context, rec domain.ActivityRecord) {
	if e.recorder != nil {
		e.recorder.Record(ctx, rec)
	}
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// setNow overrides the clock for tests.
func (e *Engine) setNow(now func() time.Time) {
	e.now = now
}
