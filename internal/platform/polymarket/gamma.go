package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GammaClient is the REST client for the Polymarket Gamma API, used for
// market discovery and resolution checks.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListActiveMarkets returns open markets whose slug contains any of the given
// patterns. Gamma has no substring search, so this pages through active
// markets and filters locally.
func (g *GammaClient) ListActiveMarkets(ctx context.Context, patterns []string, limit int) ([]Market, error) {
	if limit <= 0 {
		limit = 200
	}
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order", "endDate")
	params.Set("ascending", "true")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	var out []Market
	for i := range apiMarkets {
		if !slugMatches(apiMarkets[i].Slug, patterns) {
			continue
		}
		m, err := apiMarkets[i].ToMarket()
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return Market{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(apiMarkets) == 0 {
		return Market{}, fmt.Errorf("polymarket/gamma: market %s not found", slug)
	}
	return apiMarkets[0].ToMarket()
}

// Resolution holds the settlement state of a market.
type Resolution struct {
	Closed bool
	UpWon  bool
}

// GetResolution reports whether the market identified by slug has settled and
// which side won.
func (g *GammaClient) GetResolution(ctx context.Context, slug string) (Resolution, error) {
	m, err := g.GetMarketBySlug(ctx, slug)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Closed: m.Closed, UpWon: m.UpWon}, nil
}

func slugMatches(slug string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(slug, p) {
			return true
		}
	}
	return false
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
