// Package feed keeps the quote cache populated. The feeder discovers live
// BTC15 markets through the Gamma API, pulls book tops from the CLOB, and
// writes one MarketQuote per slug; the trading loop only ever reads the
// cache, never the venue.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rkendall/bracketbot/internal/domain"
	"github.com/rkendall/bracketbot/internal/platform/polymarket"
)

// MarketSource lists candidate markets. Implemented by polymarket.GammaClient.
type MarketSource interface {
	ListActiveMarkets(ctx context.Context, patterns []string, limit int) ([]polymarket.Market, error)
}

// BookSource reads order book tops. Implemented by polymarket.CLOBClient.
type BookSource interface {
	GetBookTop(ctx context.Context, tokenID string) (polymarket.BookTop, error)
}

// Config holds the feeder tunables.
type Config struct {
	// SlugPatterns selects which markets to track.
	SlugPatterns []string
	// Interval is the refresh period for the whole market set.
	Interval time.Duration
	// DiscoveryInterval is how often the market list itself is refreshed.
	// Discovery is much cheaper to do rarely since BTC15 markets appear on a
	// fixed quarter-hour grid.
	DiscoveryInterval time.Duration
	// MaxMarkets caps how many markets are quoted per cycle.
	MaxMarkets int
}

// QuoteFeeder periodically refreshes the quote cache.
type QuoteFeeder struct {
	cfg     Config
	markets MarketSource
	books   BookSource
	cache   domain.QuoteCache
	logger  *slog.Logger

	tracked []polymarket.Market
}

// New creates a QuoteFeeder.
func New(cfg Config, markets MarketSource, books BookSource, cache domain.QuoteCache, logger *slog.Logger) *QuoteFeeder {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = time.Minute
	}
	if cfg.MaxMarkets <= 0 {
		cfg.MaxMarkets = 8
	}
	return &QuoteFeeder{
		cfg:     cfg,
		markets: markets,
		books:   books,
		cache:   cache,
		logger:  logger.With(slog.String("component", "quote_feeder")),
	}
}

// Run refreshes quotes until the context is cancelled.
func (f *QuoteFeeder) Run(ctx context.Context) error {
	f.logger.Info("quote feeder started",
		slog.Duration("interval", f.cfg.Interval),
	)
	defer f.logger.Info("quote feeder stopped")

	if err := f.discover(ctx); err != nil {
		f.logger.WarnContext(ctx, "initial discovery failed", slog.String("error", err.Error()))
	}

	refresh := time.NewTicker(f.cfg.Interval)
	defer refresh.Stop()
	discover := time.NewTicker(f.cfg.DiscoveryInterval)
	defer discover.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-discover.C:
			if err := f.discover(ctx); err != nil {
				f.logger.WarnContext(ctx, "discovery failed", slog.String("error", err.Error()))
			}
		case <-refresh.C:
			f.refreshAll(ctx)
		}
	}
}

// discover refreshes the tracked market list, dropping anything expired.
func (f *QuoteFeeder) discover(ctx context.Context) error {
	markets, err := f.markets.ListActiveMarkets(ctx, f.cfg.SlugPatterns, 200)
	if err != nil {
		return fmt.Errorf("feed: discover markets: %w", err)
	}

	now := time.Now().UTC()
	tracked := markets[:0]
	for _, m := range markets {
		if !m.EndDate.IsZero() && m.EndDate.Before(now) {
			continue
		}
		tracked = append(tracked, m)
		if len(tracked) >= f.cfg.MaxMarkets {
			break
		}
	}
	f.tracked = tracked

	f.logger.DebugContext(ctx, "markets discovered",
		slog.Int("tracked", len(f.tracked)),
	)
	return nil
}

func (f *QuoteFeeder) refreshAll(ctx context.Context) {
	for _, m := range f.tracked {
		if err := f.refreshOne(ctx, m); err != nil {
			f.logger.WarnContext(ctx, "quote refresh failed",
				slog.String("slug", m.Slug),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (f *QuoteFeeder) refreshOne(ctx context.Context, m polymarket.Market) error {
	upTop, err := f.books.GetBookTop(ctx, m.UpTokenID)
	if err != nil {
		return err
	}
	downTop, err := f.books.GetBookTop(ctx, m.DownTokenID)
	if err != nil {
		return err
	}

	quote := domain.MarketQuote{
		Slug:        m.Slug,
		MarketLabel: m.Question,
		Up:          domain.SideQuote{Bid: upTop.Bid, Ask: upTop.Ask, LiqUSDC: upTop.AskLiq},
		Down:        domain.SideQuote{Bid: downTop.Bid, Ask: downTop.Ask, LiqUSDC: downTop.AskLiq},
		VolumeUSDC:  m.VolumeUSDC,
		ExpiresAt:   m.EndDate,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := f.cache.SetQuote(ctx, m.Slug, quote); err != nil {
		return fmt.Errorf("feed: cache quote %s: %w", m.Slug, err)
	}
	return nil
}
