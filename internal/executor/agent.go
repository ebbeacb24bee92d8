// Package executor is the boundary between the trading loop and actual order
// placement. The loop hands each buy or sell to an Agent and trusts its
// fill report; the ledger's charge-on-intent accounting means a false "not
// filled" costs budget, never money.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rkendall/bracketbot/internal/domain"
)

// Intent actions.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Intent describes one order the loop wants executed.
type Intent struct {
	Slug          string
	MarketLabel   string
	Action        string
	Side          domain.Side
	Price         float64
	SizeShares    float64
	EstimatedUSDC float64
	DryRun        bool
}

// key identifies an intent for deduplication.
func (in Intent) key() string {
	return in.Slug + "|" + in.Action + "|" + string(in.Side)
}

// Result reports the agent's view of what happened to an intent.
type Result struct {
	Filled  bool
	Message string
}

// Agent submits intents to whatever actually places orders.
type Agent interface {
	Submit(ctx context.Context, in Intent) (Result, error)
}

// DryRunAgent reports every intent as filled without touching any venue.
type DryRunAgent struct {
	logger *slog.Logger
}

// NewDryRunAgent creates a DryRunAgent.
func NewDryRunAgent(logger *slog.Logger) *DryRunAgent {
	return &DryRunAgent{logger: logger.With(slog.String("component", "dry_run_agent"))}
}

// Submit logs the intent and reports it as filled.
func (a *DryRunAgent) Submit(ctx context.Context, in Intent) (Result, error) {
	a.logger.InfoContext(ctx, "dry-run fill",
		slog.String("slug", in.Slug),
		slog.String("action", in.Action),
		slog.String("side", string(in.Side)),
		slog.Float64("price", in.Price),
		slog.Float64("usdc", in.EstimatedUSDC),
	)
	return Result{Filled: true, Message: "dry-run"}, nil
}

// SidecarConfig configures the HTTP sidecar agent.
type SidecarConfig struct {
	BaseURL string
	Timeout time.Duration
	// DedupTTL guards against double-submitting the same intent while a slow
	// sidecar response is still in flight on a previous poll.
	DedupTTL time.Duration
}

// SidecarAgent submits intents to an external execution sidecar over HTTP.
// The sidecar owns credentials and venue specifics; this process only ever
// describes what it wants in plain text and reads back a fill report.
type SidecarAgent struct {
	cfg    SidecarConfig
	client *http.Client
	dedup  *Dedup
	logger *slog.Logger
}

// NewSidecarAgent creates a SidecarAgent.
func NewSidecarAgent(cfg SidecarConfig, logger *slog.Logger) *SidecarAgent {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	return &SidecarAgent{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		dedup:  NewDedup(cfg.DedupTTL),
		logger: logger.With(slog.String("component", "sidecar_agent")),
	}
}

type promptRequest struct {
	Message       string  `json:"message"`
	EstimatedUSDC float64 `json:"estimated_usdc"`
	DryRun        bool    `json:"dry_run"`
}

type promptResponse struct {
	Response string `json:"response"`
}

// Submit posts the intent to the sidecar's prompt endpoint and interprets the
// textual reply.
func (a *SidecarAgent) Submit(ctx context.Context, in Intent) (Result, error) {
	if a.dedup.IsDuplicate(in.key()) {
		return Result{Message: "duplicate intent suppressed"}, nil
	}

	body, err := json.Marshal(promptRequest{
		Message:       formatPrompt(in),
		EstimatedUSDC: in.EstimatedUSDC,
		DryRun:        in.DryRun,
	})
	if err != nil {
		return Result{}, fmt.Errorf("executor: marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("executor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("executor: submit %s %s: %w", in.Action, in.Slug, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("executor: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("executor: sidecar returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var pr promptResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return Result{}, fmt.Errorf("executor: decode response: %w", err)
	}

	filled := looksLikeFilled(pr.Response)
	a.logger.InfoContext(ctx, "sidecar reply",
		slog.String("slug", in.Slug),
		slog.String("action", in.Action),
		slog.Bool("filled", filled),
	)
	return Result{Filled: filled, Message: pr.Response}, nil
}

// formatPrompt renders the intent as the one-line instruction the sidecar
// expects.
func formatPrompt(in Intent) string {
	return fmt.Sprintf("%s %.2f shares of %s in market %s at limit %.3f (~%.2f USDC)",
		in.Action, in.SizeShares, in.Side, in.Slug, in.Price, in.EstimatedUSDC)
}

// fillMarkers are the phrases a successful sidecar reply tends to contain.
// The reply is free text, so this stays a heuristic; unknown replies count as
// not filled, which is the safe direction under charge-on-intent accounting.
var fillMarkers = []string{
	"filled",
	"executed",
	"bought",
	"sold",
	"order placed",
	"success",
	"complete",
}

var failMarkers = []string{
	"not filled",
	"unfilled",
	"failed",
	"rejected",
	"error",
	"cancelled",
	"canceled",
	"insufficient",
}

func looksLikeFilled(reply string) bool {
	lower := strings.ToLower(reply)
	for _, m := range failMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	for _, m := range fillMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
