package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rkendall/bracketbot/internal/domain"
)

// QuoteCache is an in-memory domain.QuoteCache for tests and sessions run
// without Redis.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]domain.MarketQuote
}

// NewQuoteCache creates an empty in-memory quote cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[string]domain.MarketQuote)}
}

func (c *QuoteCache) SetQuote(_ context.Context, slug string, q domain.MarketQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[slug] = q
	return nil
}

func (c *QuoteCache) GetQuote(_ context.Context, slug string) (domain.MarketQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[slug]
	if !ok {
		return domain.MarketQuote{}, domain.ErrNotFound
	}
	return q, nil
}

func (c *QuoteCache) ListSlugs(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	slugs := make([]string, 0, len(c.quotes))
	for slug := range c.quotes {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
