package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rkendall/bracketbot/internal/domain"
	"github.com/rkendall/bracketbot/internal/guard"
)

// recomputeScanLimit bounds the settled-bracket scan used to rebuild the
// consecutive-loss streak. A streak longer than this never matters because
// any realistic throttle threshold is far smaller.
const recomputeScanLimit = 500

// SessionCounters tracks the live figures the risk guard evaluates against:
// today's cumulative cost and realized PnL, the consecutive-loss streak, and
// the number of open brackets. The store is the source of truth; counters are
// rebuilt from it at startup via Recompute and then maintained incrementally
// as the engine applies transitions.
//
// Day rollover happens lazily on access. Crossing a UTC midnight zeroes the
// daily cost and PnL figures but leaves the loss streak and open-bracket
// count untouched, since neither is a daily quantity.
type SessionCounters struct {
	mu       sync.Mutex
	brackets domain.BracketStore
	logger   *slog.Logger
	now      func() time.Time

	day         time.Time // UTC midnight of the day the figures describe
	todayCost   float64
	todayPnL    float64
	lossesInRow int
	openCount   int
}

// NewSessionCounters creates counters bound to the given bracket store. The
// zero-value figures are meaningless until Recompute has run.
func NewSessionCounters(brackets domain.BracketStore, logger *slog.Logger) *SessionCounters {
	return &SessionCounters{
		brackets: brackets,
		logger:   logger.With(slog.String("component", "counters")),
		now:      time.Now,
	}
}

func utcMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Recompute rebuilds every counter from the store. It must run once before
// trading starts and may be re-run at any time to correct drift; incremental
// updates alone are never trusted across restarts.
func (c *SessionCounters) Recompute(ctx context.Context) error {
	now := c.now()

	bucket, err := c.brackets.DayTotals(ctx, now)
	if err != nil {
		return fmt.Errorf("engine: recompute day totals: %w", err)
	}

	open, err := c.brackets.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("engine: recompute open brackets: %w", err)
	}

	settled, err := c.brackets.ListSettled(ctx, recomputeScanLimit)
	if err != nil {
		return fmt.Errorf("engine: recompute settled brackets: %w", err)
	}

	// Walk settled brackets newest first. Zero-PnL outcomes are neutral and
	// skipped; the first win ends the streak.
	streak := 0
	for _, b := range settled {
		pnl := 0.0
		if b.RealizedPnL != nil {
			pnl = *b.RealizedPnL
		}
		if pnl > 0 {
			break
		}
		if pnl < 0 {
			streak++
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.day = utcMidnight(now)
	c.todayCost = bucket.TotalCost
	c.todayPnL = bucket.RealizedPnL
	c.lossesInRow = streak
	c.openCount = len(open)

	c.logger.Info("session counters recomputed",
		slog.Float64("today_cost", c.todayCost),
		slog.Float64("today_pnl", c.todayPnL),
		slog.Int("losses_in_row", c.lossesInRow),
		slog.Int("open_count", c.openCount),
	)
	return nil
}

// maybeRollDay zeroes the daily figures when a UTC midnight has passed.
// Callers must hold c.mu.
func (c *SessionCounters) maybeRollDay(now time.Time) {
	day := utcMidnight(now)
	if day.After(c.day) {
		c.logger.Info("utc day rollover",
			slog.String("from", c.day.Format("2006-01-02")),
			slog.String("to", day.Format("2006-01-02")),
		)
		c.day = day
		c.todayCost = 0
		c.todayPnL = 0
	}
}

// Snapshot returns the guard's view of the current session state.
func (c *SessionCounters) Snapshot() guard.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRollDay(c.now())
	return guard.Context{
		OpenBrackets: c.openCount,
		TodayCost:    c.todayCost,
		TodayPnL:     c.todayPnL,
		LossesInRow:  c.lossesInRow,
	}
}

// OpenStarted charges the cost of a new bracket and counts it as open.
func (c *SessionCounters) OpenStarted(cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRollDay(c.now())
	c.todayCost += cost
	c.openCount++
}

// CostAdded charges an additional leg (a hedge) to the day the bracket was
// opened, matching the attribution DayTotals uses on recompute. A hedge placed
// just after midnight on a bracket from the previous day therefore never
// counts against the new day's budget.
func (c *SessionCounters) CostAdded(openedAt time.Time, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRollDay(c.now())
	if utcMidnight(openedAt).Equal(c.day) {
		c.todayCost += cost
	}
}

// Settled applies a terminal outcome. PnL is attributed to the day the
// bracket was opened, so a round that straddles midnight does not leak into
// the new day's loss budget. The streak update ignores day boundaries:
// a negative PnL extends it, a positive one resets it, zero leaves it alone.
func (c *SessionCounters) Settled(openedAt time.Time, pnl float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.maybeRollDay(now)

	if utcMidnight(openedAt).Equal(c.day) {
		c.todayPnL += pnl
	}
	switch {
	case pnl < 0:
		c.lossesInRow++
	case pnl > 0:
		c.lossesInRow = 0
	}
	if c.openCount > 0 {
		c.openCount--
	}
}

// LossesInRow returns the current consecutive-loss streak.
func (c *SessionCounters) LossesInRow() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lossesInRow
}

// OpenCount returns the number of currently open brackets.
func (c *SessionCounters) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openCount
}

// setNow overrides the clock for tests.
func (c *SessionCounters) setNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
