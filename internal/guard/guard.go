// Package guard implements the pre-trade risk guardrail: a pure evaluation
// of a proposed action against the configured spend, loss, and concurrency
// limits. Evaluate never mutates state and never performs I/O; every denial
// carries the specific reason code so callers can surface it unchanged.
package guard

// Action is the kind of state-changing request under evaluation. Only
// actions that add cost pass through the guard; resolutions and flattens
// release exposure and are never blocked.
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionHedge Action = "HEDGE"
)

// Reason codes for denials, in check order.
const (
	ReasonDisabled          = "DISABLED"
	ReasonMaxOpenBrackets   = "MAX_OPEN_BRACKETS"
	ReasonBracketCap        = "BRACKET_CAP_EXCEEDED"
	ReasonDailyCap          = "DAILY_CAP_EXCEEDED"
	ReasonDailyLossCap      = "DAILY_LOSS_CAP_REACHED"
	ReasonLossStreak        = "LOSS_STREAK_THROTTLE"
)

// Config holds the tunable limits. For every cap a value of 0 means
// "unlimited" — that convention is deliberate and matches the configuration
// surface, not an accident of missing config.
type Config struct {
	// Enabled is the feature kill-switch. When false every action is denied.
	Enabled bool
	// MaxOpenBrackets caps concurrent OPEN/HEDGED brackets (0 = unlimited).
	MaxOpenBrackets int
	// PerBracketCostCap caps a single bracket's cumulative TotalCost
	// (0 = unlimited).
	PerBracketCostCap float64
	// DailyCostCap caps today's cumulative cost across brackets
	// (0 = unlimited).
	DailyCostCap float64
	// DailyLossCap floors today's realized PnL at -DailyLossCap
	// (0 = unlimited).
	DailyLossCap float64
	// LossStreakThreshold halts new opens after N consecutive losing
	// brackets (0 = disabled).
	LossStreakThreshold int
}

// Context is the caller-supplied view of current session state.
type Context struct {
	// OpenBrackets is the number of currently OPEN or HEDGED brackets.
	OpenBrackets int
	// BracketCostSoFar is the target bracket's TotalCost before this action
	// (0 for a new open).
	BracketCostSoFar float64
	// TodayCost is today's cumulative cost across all brackets opened today.
	TodayCost float64
	// TodayPnL is today's realized PnL.
	TodayPnL float64
	// LossesInRow is the current consecutive-loss streak.
	LossesInRow int
}

// Verdict is the outcome of an evaluation. Reason is empty when Allow is true.
type Verdict struct {
	Allow  bool
	Reason string
}

func deny(reason string) Verdict { return Verdict{Reason: reason} }

// Evaluate runs the ordered checks against the proposed action, which would
// add costDelta USDC of exposure, and short-circuits on the first failure.
func Evaluate(cfg Config, action Action, costDelta float64, c Context) Verdict {
	if !cfg.Enabled {
		return deny(ReasonDisabled)
	}

	// Concurrency only gates new brackets; a hedge works within one that
	// already counts against the limit.
	if action == ActionOpen && cfg.MaxOpenBrackets > 0 && c.OpenBrackets >= cfg.MaxOpenBrackets {
		return deny(ReasonMaxOpenBrackets)
	}

	if cfg.PerBracketCostCap > 0 && c.BracketCostSoFar+costDelta > cfg.PerBracketCostCap {
		return deny(ReasonBracketCap)
	}

	if cfg.DailyCostCap > 0 && c.TodayCost+costDelta > cfg.DailyCostCap {
		return deny(ReasonDailyCap)
	}

	if cfg.DailyLossCap > 0 && c.TodayPnL <= -cfg.DailyLossCap {
		return deny(ReasonDailyLossCap)
	}

	if action == ActionOpen && cfg.LossStreakThreshold > 0 && c.LossesInRow >= cfg.LossStreakThreshold {
		return deny(ReasonLossStreak)
	}

	return Verdict{Allow: true}
}
