package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkendall/bracketbot/internal/domain"
)

func TestLooksLikeFilled(t *testing.T) {
	cases := []struct {
		reply  string
		filled bool
	}{
		{"Order filled at 0.30, 100 shares", true},
		{"Successfully bought 100 DOWN shares", true},
		{"Order placed and executed", true},
		{"Order NOT FILLED: no liquidity at limit", false},
		{"rejected: insufficient balance", false},
		{"The order was cancelled before matching", false},
		{"", false},
		{"thinking about it", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.filled, looksLikeFilled(tc.reply), tc.reply)
	}
}

func TestSidecarAgentSubmit(t *testing.T) {
	var got promptRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/prompt", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(promptResponse{Response: "Order filled at 0.30"})
	}))
	defer srv.Close()

	agent := NewSidecarAgent(SidecarConfig{BaseURL: srv.URL}, slog.New(slog.DiscardHandler))
	res, err := agent.Submit(context.Background(), Intent{
		Slug:          "btc-up-or-down-1500",
		Action:        ActionBuy,
		Side:          domain.SideDown,
		Price:         0.30,
		SizeShares:    100,
		EstimatedUSDC: 30,
		DryRun:        true,
	})
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.Equal(t, 30.0, got.EstimatedUSDC)
	assert.True(t, got.DryRun)
	assert.Contains(t, got.Message, "btc-up-or-down-1500")
}

func TestSidecarAgentSuppressesDuplicates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(promptResponse{Response: "filled"})
	}))
	defer srv.Close()

	agent := NewSidecarAgent(SidecarConfig{BaseURL: srv.URL, DedupTTL: time.Minute}, slog.New(slog.DiscardHandler))
	in := Intent{Slug: "btc-up-or-down-1500", Action: ActionBuy, Side: domain.SideDown}

	res, err := agent.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Filled)

	res, err = agent.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.Equal(t, 1, calls)
}

func TestDedupSweepsExpiredEntries(t *testing.T) {
	d := NewDedup(time.Minute)
	clock := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	d.setNow(func() time.Time { return clock })

	assert.False(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))
	assert.True(t, d.IsDuplicate("a"))
	assert.Len(t, d.seen, 2)

	// Past the TTL both entries are swept by the next call; only the fresh
	// key remains, so the map cannot grow with rotating market slugs.
	clock = clock.Add(2 * time.Minute)
	assert.False(t, d.IsDuplicate("c"))
	assert.Len(t, d.seen, 1)
	assert.False(t, d.IsDuplicate("a"))
}

func TestSidecarAgentErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "sidecar down", http.StatusBadGateway)
	}))
	defer srv.Close()

	agent := NewSidecarAgent(SidecarConfig{BaseURL: srv.URL}, slog.New(slog.DiscardHandler))
	_, err := agent.Submit(context.Background(), Intent{Slug: "s", Action: ActionBuy})
	assert.Error(t, err)
}

func TestDryRunAgentAlwaysFills(t *testing.T) {
	agent := NewDryRunAgent(slog.New(slog.DiscardHandler))
	res, err := agent.Submit(context.Background(), Intent{Slug: "s", Action: ActionSell})
	require.NoError(t, err)
	assert.True(t, res.Filled)
}
