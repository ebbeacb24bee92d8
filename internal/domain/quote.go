package domain

import "time"

// SideQuote is the top of book for one side of a binary market.
type SideQuote struct {
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	LiqUSDC float64 `json:"liq_usdc"`
}

// MarketQuote is a two-sided snapshot of a BTC15 market, written by the
// external feed and consumed by the poll loop. ExpiresAt is the market's
// settlement time; UpdatedAt is when the feed last refreshed the quote.
type MarketQuote struct {
	Slug        string    `json:"slug"`
	MarketLabel string    `json:"market_label"`
	Up          SideQuote `json:"up"`
	Down        SideQuote `json:"down"`
	VolumeUSDC  float64   `json:"volume_usdc"`
	ExpiresAt   time.Time `json:"expires_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Quote returns the side quote for s.
func (q MarketQuote) Quote(s Side) SideQuote {
	if s == SideUp {
		return q.Up
	}
	return q.Down
}

// MinutesToExpiry returns whole minutes until settlement as of now.
func (q MarketQuote) MinutesToExpiry(now time.Time) int {
	return int(q.ExpiresAt.Sub(now).Minutes())
}
