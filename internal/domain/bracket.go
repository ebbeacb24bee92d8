// Package domain defines the core entities of the BTC15 hedged-bracket
// strategy and the store interfaces through which they are persisted.
package domain

import "time"

// Side identifies one outcome of a binary up/down market.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// BracketStatus tracks where a bracket is in its lifecycle. The only legal
// transitions are OPEN→HEDGED→RESOLVED and OPEN|HEDGED→FLATTENED; RESOLVED
// and FLATTENED are terminal.
type BracketStatus string

const (
	BracketStatusOpen      BracketStatus = "OPEN"
	BracketStatusHedged    BracketStatus = "HEDGED"
	BracketStatusResolved  BracketStatus = "RESOLVED"
	BracketStatusFlattened BracketStatus = "FLATTENED"
)

// Terminal reports whether no further transitions are permitted.
func (s BracketStatus) Terminal() bool {
	return s == BracketStatusResolved || s == BracketStatusFlattened
}

// Bracket is one round of the hedged strategy tied to a single short-lived
// binary market. TotalCost only ever grows as hedge legs are added; Payout
// and RealizedPnL are set exactly once, at resolution or flatten. A flatten
// records Payout as 0 so forced exits stay distinguishable from
// market-determined settlements in later analytics.
type Bracket struct {
	ID          string        `json:"id"`
	Slug        string        `json:"slug"`
	MarketLabel string        `json:"market_label"`
	EntrySide   Side          `json:"entry_side"`
	EntryPrice  float64       `json:"entry_price"`
	SizeShares  float64       `json:"size_shares"`
	TotalCost   float64       `json:"total_cost"`
	HedgeSide   *Side         `json:"hedge_side,omitempty"`
	HedgePrice  *float64      `json:"hedge_price,omitempty"`
	Status      BracketStatus `json:"status"`
	Payout      *float64      `json:"payout,omitempty"`
	RealizedPnL *float64      `json:"realized_pnl,omitempty"`
	DryRun      bool          `json:"dry_run"`
	OpenedAt    time.Time     `json:"opened_at"`
	HedgedAt    *time.Time    `json:"hedged_at,omitempty"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// RiskState is the per-slug working memory of the state machine, distinct
// from the historical Bracket record. It exists from the first OPEN for a
// slug until the bracket settles; no unhedged exposure is recorded after
// resolution or flatten.
type RiskState struct {
	Slug         string
	LastEntryAt  *time.Time
	UnhedgedSide *Side
	UnhedgedCost float64
	UnhedgedSize float64
	// LossesInRow snapshots the consecutive-loss streak at the last update.
	// The session-wide streak kept by the engine counters is authoritative;
	// this copy survives restarts between polls.
	LossesInRow int
	UpdatedAt   time.Time
}
