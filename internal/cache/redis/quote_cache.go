package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rkendall/bracketbot/internal/domain"
)

// quoteTTL caps how long a quote survives without a feed refresh. BTC15
// markets live for fifteen minutes, so anything older than this is garbage
// and should expire rather than feed a stale entry decision.
const quoteTTL = 5 * time.Minute

const quoteKeyPrefix = "quote:"

// QuoteCache implements domain.QuoteCache storing one JSON-encoded
// MarketQuote per slug at key "quote:{slug}" with a TTL.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(slug string) string {
	return quoteKeyPrefix + slug
}

// SetQuote stores the latest two-sided quote for a slug.
func (qc *QuoteCache) SetQuote(ctx context.Context, slug string, q domain.MarketQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s: %w", slug, err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(slug), data, quoteTTL).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", slug, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a slug. It returns
// domain.ErrNotFound when no quote exists or it has expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, slug string) (domain.MarketQuote, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(slug)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketQuote{}, domain.ErrNotFound
		}
		return domain.MarketQuote{}, fmt.Errorf("redis: get quote %s: %w", slug, err)
	}

	var q domain.MarketQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: unmarshal quote %s: %w", slug, err)
	}
	return q, nil
}

// ListSlugs returns every slug with a live quote, via SCAN so large keyspaces
// never block the server.
func (qc *QuoteCache) ListSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	iter := qc.rdb.Scan(ctx, 0, quoteKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		slugs = append(slugs, strings.TrimPrefix(iter.Val(), quoteKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan quotes: %w", err)
	}
	return slugs, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
