package domain

// StatsBucket aggregates bracket outcomes over some window.
type StatsBucket struct {
	Trades      int64   `json:"trades"`
	Wins        int64   `json:"wins"`
	Losses      int64   `json:"losses"`
	TotalCost   float64 `json:"total_cost"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Stats is the read-only summary exposed to the dashboard layer: the current
// UTC day's bucket, the lifetime bucket, and the live session figures.
type Stats struct {
	Today       StatsBucket `json:"today"`
	Lifetime    StatsBucket `json:"lifetime"`
	OpenCount   int         `json:"open_count"`
	LossesInRow int         `json:"losses_in_row"`
}
