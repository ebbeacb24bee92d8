// Package polymarket holds the read-only REST clients for the Polymarket
// Gamma and CLOB APIs. This process never places orders here; it only
// discovers BTC15 markets, reads their books, and checks resolutions.
package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Token is one tradable outcome of a binary market.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// APIMarket mirrors the subset of the Gamma market payload this system reads.
// Numeric fields arrive as strings.
type APIMarket struct {
	ID       string  `json:"id"`
	Slug     string  `json:"slug"`
	Question string  `json:"question"`
	Closed   bool    `json:"closed"`
	Active   bool    `json:"active"`
	Volume   string  `json:"volume"`
	EndDate  string  `json:"endDate"`
	Tokens   []Token `json:"tokens"`
	// ClobTokenIDs is the fallback token listing some Gamma responses use
	// instead of a tokens array: a JSON-encoded array of two IDs, first the
	// "Up"/"Yes" outcome.
	ClobTokenIDs string `json:"clobTokenIds"`
}

// Market is the parsed form the feed consumes.
type Market struct {
	ID          string
	Slug        string
	Question    string
	Closed      bool
	Active      bool
	VolumeUSDC  float64
	EndDate     time.Time
	UpTokenID   string
	DownTokenID string
	UpWon       bool
}

// outcome labels seen across BTC15 market generations.
func isUpOutcome(o string) bool {
	return o == "Up" || o == "Yes"
}

// ToMarket parses the API payload into the feed's market form.
func (m *APIMarket) ToMarket() (Market, error) {
	out := Market{
		ID:       m.ID,
		Slug:     m.Slug,
		Question: m.Question,
		Closed:   m.Closed,
		Active:   m.Active,
	}
	if m.Volume != "" {
		out.VolumeUSDC, _ = strconv.ParseFloat(m.Volume, 64)
	}
	if m.EndDate != "" {
		t, err := time.Parse(time.RFC3339, m.EndDate)
		if err != nil {
			return Market{}, fmt.Errorf("polymarket: parse end date %q: %w", m.EndDate, err)
		}
		out.EndDate = t
	}

	for _, tok := range m.Tokens {
		if isUpOutcome(tok.Outcome) {
			out.UpTokenID = tok.TokenID
			out.UpWon = tok.Winner
		} else {
			out.DownTokenID = tok.TokenID
		}
	}
	if out.UpTokenID == "" && m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
			return Market{}, fmt.Errorf("polymarket: parse clob token ids: %w", err)
		}
		if len(ids) == 2 {
			out.UpTokenID, out.DownTokenID = ids[0], ids[1]
		}
	}
	if out.UpTokenID == "" || out.DownTokenID == "" {
		return Market{}, fmt.Errorf("polymarket: market %s missing outcome tokens", m.Slug)
	}
	return out, nil
}

// BookTop is the best bid and ask for one token with the depth behind them.
type BookTop struct {
	Bid     float64
	Ask     float64
	BidLiq  float64
	AskLiq  float64
	FetchAt time.Time
}
