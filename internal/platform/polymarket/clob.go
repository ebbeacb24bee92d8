package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// CLOBClient is the read-only REST client for the Polymarket CLOB API, used
// to fetch order book tops for the feed.
type CLOBClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCLOBClient creates a CLOB API client.
//
// baseURL is the CLOB root, e.g. "https://clob.polymarket.com".
func NewCLOBClient(baseURL string) *CLOBClient {
	return &CLOBClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

// GetBookTop fetches the order book for a token and reduces it to the best
// bid and ask with the USDC depth resting at each.
func (c *CLOBClient) GetBookTop(ctx context.Context, tokenID string) (BookTop, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?"+params.Encode(), nil)
	if err != nil {
		return BookTop{}, fmt.Errorf("polymarket/clob: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return BookTop{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return BookTop{}, fmt.Errorf("polymarket/clob: read book %s: %w", tokenID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return BookTop{}, fmt.Errorf("polymarket/clob: book %s status %d", tokenID, resp.StatusCode)
	}

	var book bookResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return BookTop{}, fmt.Errorf("polymarket/clob: decode book %s: %w", tokenID, err)
	}

	top := BookTop{FetchAt: time.Now().UTC()}
	// The CLOB orders bids ascending and asks descending; the best level of
	// each sits at the end of its list.
	if n := len(book.Bids); n > 0 {
		top.Bid, top.BidLiq = parseLevel(book.Bids[n-1])
	}
	if n := len(book.Asks); n > 0 {
		top.Ask, top.AskLiq = parseLevel(book.Asks[n-1])
	}
	return top, nil
}

func parseLevel(l bookLevel) (price, liq float64) {
	price, _ = strconv.ParseFloat(l.Price, 64)
	size, _ := strconv.ParseFloat(l.Size, 64)
	return price, price * size
}
