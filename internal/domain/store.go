package domain

import (
	"context"
	"time"
)

// BracketStore is the durable ledger for brackets. It is accessed only
// through the engine; no other component mutates bracket records.
type BracketStore interface {
	// Create inserts a new bracket row.
	Create(ctx context.Context, b Bracket) error
	// Transition replaces all mutable fields of b, but only while the stored
	// status still equals from. It returns ErrInvalidState when the row has
	// already moved on (the optimistic lock of the single-writer model) and
	// ErrNotFound when no row with that ID exists.
	Transition(ctx context.Context, b Bracket, from BracketStatus) error
	// GetBySlug returns the non-terminal bracket for slug, if any.
	GetBySlug(ctx context.Context, slug string) (Bracket, error)
	GetByID(ctx context.Context, id string) (Bracket, error)
	// ListOpen returns every OPEN or HEDGED bracket, newest first.
	ListOpen(ctx context.Context) ([]Bracket, error)
	// ListSettled returns terminal brackets ordered by resolution time,
	// newest first, capped at limit.
	ListSettled(ctx context.Context, limit int) ([]Bracket, error)
	// ListSettledBetween returns terminal brackets resolved in [from, to).
	ListSettledBetween(ctx context.Context, from, to time.Time) ([]Bracket, error)
	// DayTotals aggregates brackets whose OpenedAt falls on the UTC calendar
	// day containing day.
	DayTotals(ctx context.Context, day time.Time) (StatsBucket, error)
	// LifetimeTotals aggregates all brackets ever recorded.
	LifetimeTotals(ctx context.Context) (StatsBucket, error)
}

// RiskStateStore persists the per-slug working memory.
type RiskStateStore interface {
	Upsert(ctx context.Context, st RiskState) error
	Get(ctx context.Context, slug string) (RiskState, error)
	Delete(ctx context.Context, slug string) error
	List(ctx context.Context) ([]RiskState, error)
}

// ActivityStore persists the append-only activity history. The durable copy
// is unbounded; bounded retention applies only to in-memory mirrors.
type ActivityStore interface {
	// Append stores rec and fills in its assigned ID.
	Append(ctx context.Context, rec *ActivityRecord) error
	Query(ctx context.Context, f ActivityFilter) ([]ActivityRecord, error)
}

// QuoteCache is the hand-off point between the external market-data feed and
// the poll loop: the feed writes the latest two-sided quote per slug, the
// loop reads it. Staleness is bounded by the feed's own refresh interval.
type QuoteCache interface {
	SetQuote(ctx context.Context, slug string, q MarketQuote) error
	GetQuote(ctx context.Context, slug string) (MarketQuote, error)
	ListSlugs(ctx context.Context) ([]string, error)
}

// SignalBus fans live events (activity records, stats snapshots) out to the
// dashboard layer.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
