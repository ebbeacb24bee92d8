package domain

import "time"

// Activity action names. Every guard decision and lifecycle transition is
// recorded under one of these.
const (
	ActionOpen    = "OPEN"
	ActionHedge   = "HEDGE"
	ActionResolve = "RESOLVE"
	ActionFlatten = "FLATTEN"
	ActionReject  = "REJECT"
)

// ActivityRecord is one immutable entry in the append-only activity history.
// Ordering by Timestamp is the only guarantee across records.
type ActivityRecord struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Slug        string    `json:"slug"`
	MarketLabel string    `json:"market_label"`
	Action      string    `json:"action"`
	Side        Side      `json:"side,omitempty"`
	SizeUSDC    float64   `json:"size_usdc"`
	Price       float64   `json:"price"`
	EdgeCents   float64   `json:"edge_cents"`
	DryRun      bool      `json:"dry_run"`
	Result      string    `json:"result"`
}

// ActivityFilter narrows activity queries. Zero values mean "no constraint";
// Limit defaults to the store's cap when 0.
type ActivityFilter struct {
	Slug   string
	Action string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}
