package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func enabledConfig() Config {
	return Config{Enabled: true}
}

func TestEvaluateKillSwitch(t *testing.T) {
	v := Evaluate(Config{Enabled: false}, ActionOpen, 1, Context{})
	assert.False(t, v.Allow)
	assert.Equal(t, ReasonDisabled, v.Reason)
}

func TestEvaluateCheckOrder(t *testing.T) {
	// Everything is wrong at once; the first failing check in order wins.
	cfg := Config{
		Enabled:             true,
		MaxOpenBrackets:     1,
		PerBracketCostCap:   10,
		DailyCostCap:        10,
		DailyLossCap:        5,
		LossStreakThreshold: 1,
	}
	ctx := Context{
		OpenBrackets:     3,
		BracketCostSoFar: 100,
		TodayCost:        100,
		TodayPnL:         -100,
		LossesInRow:      5,
	}
	v := Evaluate(cfg, ActionOpen, 50, ctx)
	assert.Equal(t, ReasonMaxOpenBrackets, v.Reason)

	ctx.OpenBrackets = 0
	v = Evaluate(cfg, ActionOpen, 50, ctx)
	assert.Equal(t, ReasonBracketCap, v.Reason)

	ctx.BracketCostSoFar = 0
	v = Evaluate(cfg, ActionOpen, 5, ctx)
	assert.Equal(t, ReasonDailyCap, v.Reason)

	ctx.TodayCost = 0
	v = Evaluate(cfg, ActionOpen, 5, ctx)
	assert.Equal(t, ReasonDailyLossCap, v.Reason)

	ctx.TodayPnL = 0
	v = Evaluate(cfg, ActionOpen, 5, ctx)
	assert.Equal(t, ReasonLossStreak, v.Reason)

	ctx.LossesInRow = 0
	v = Evaluate(cfg, ActionOpen, 5, ctx)
	assert.True(t, v.Allow)
	assert.Empty(t, v.Reason)
}

func TestEvaluatePerBracketCap(t *testing.T) {
	cfg := enabledConfig()
	cfg.PerBracketCostCap = 40

	// sizeShares*entryPrice above a nonzero cap is denied.
	v := Evaluate(cfg, ActionOpen, 40.01, Context{})
	assert.Equal(t, ReasonBracketCap, v.Reason)

	// Exactly at the cap is allowed.
	v = Evaluate(cfg, ActionOpen, 40, Context{})
	assert.True(t, v.Allow)

	// A hedge leg counts cumulatively against the same bracket.
	v = Evaluate(cfg, ActionHedge, 25, Context{BracketCostSoFar: 20})
	assert.Equal(t, ReasonBracketCap, v.Reason)

	// Cap of 0 is unlimited.
	cfg.PerBracketCostCap = 0
	v = Evaluate(cfg, ActionOpen, 1e9, Context{})
	assert.True(t, v.Allow)
}

func TestEvaluateDailyCap(t *testing.T) {
	cfg := enabledConfig()
	cfg.PerBracketCostCap = 40
	cfg.DailyCostCap = 50

	// Open A at cost 40: allowed, cumulative becomes 40.
	v := Evaluate(cfg, ActionOpen, 40, Context{})
	assert.True(t, v.Allow)

	// Open B at cost 30 with 40 already spent today: 70 > 50.
	v = Evaluate(cfg, ActionOpen, 30, Context{TodayCost: 40})
	assert.Equal(t, ReasonDailyCap, v.Reason)
}

func TestEvaluateDailyLossCap(t *testing.T) {
	cfg := enabledConfig()
	cfg.DailyLossCap = 50

	v := Evaluate(cfg, ActionOpen, 1, Context{TodayPnL: -49.99})
	assert.True(t, v.Allow)

	v = Evaluate(cfg, ActionOpen, 1, Context{TodayPnL: -50})
	assert.Equal(t, ReasonDailyLossCap, v.Reason)

	v = Evaluate(cfg, ActionHedge, 1, Context{TodayPnL: -60})
	assert.Equal(t, ReasonDailyLossCap, v.Reason)
}

func TestEvaluateLossStreak(t *testing.T) {
	cfg := enabledConfig()
	cfg.LossStreakThreshold = 3

	v := Evaluate(cfg, ActionOpen, 1, Context{LossesInRow: 2})
	assert.True(t, v.Allow)

	v = Evaluate(cfg, ActionOpen, 1, Context{LossesInRow: 3})
	assert.Equal(t, ReasonLossStreak, v.Reason)

	// The streak throttle only gates new entries; hedging an existing leg
	// reduces exposure and stays allowed.
	v = Evaluate(cfg, ActionHedge, 1, Context{LossesInRow: 3})
	assert.True(t, v.Allow)

	// Threshold 0 disables the throttle.
	cfg.LossStreakThreshold = 0
	v = Evaluate(cfg, ActionOpen, 1, Context{LossesInRow: 100})
	assert.True(t, v.Allow)
}

func TestEvaluateMaxOpenBrackets(t *testing.T) {
	cfg := enabledConfig()
	cfg.MaxOpenBrackets = 2

	v := Evaluate(cfg, ActionOpen, 1, Context{OpenBrackets: 2})
	assert.Equal(t, ReasonMaxOpenBrackets, v.Reason)

	v = Evaluate(cfg, ActionHedge, 1, Context{OpenBrackets: 2})
	assert.True(t, v.Allow)

	cfg.MaxOpenBrackets = 0
	v = Evaluate(cfg, ActionOpen, 1, Context{OpenBrackets: 500})
	assert.True(t, v.Allow)
}
