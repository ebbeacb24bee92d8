package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rkendall/bracketbot/internal/engine"
	"github.com/rkendall/bracketbot/internal/executor"
	"github.com/rkendall/bracketbot/internal/feed"
	"github.com/rkendall/bracketbot/internal/guard"
	"github.com/rkendall/bracketbot/internal/loop"
	"github.com/rkendall/bracketbot/internal/platform/polymarket"
	"github.com/rkendall/bracketbot/internal/recorder"
	"github.com/rkendall/bracketbot/internal/server"
	"github.com/rkendall/bracketbot/internal/server/handler"
	"github.com/rkendall/bracketbot/internal/server/ws"
	"github.com/rkendall/bracketbot/internal/strategy"
)

// statsChannel carries periodic stats snapshots to the dashboard.
const statsChannel = "stats"

// countersResyncInterval is how often the in-memory session counters are
// rebuilt from the ledger while the bot runs.
const countersResyncInterval = 5 * time.Minute

// core bundles the pieces every mode shares: the ledger-backed engine, the
// activity recorder, and the session counters.
type core struct {
	engine   *engine.Engine
	recorder *recorder.Recorder
	counters *engine.SessionCounters
}

// buildCore constructs the engine stack and primes the counters from the
// ledger so guard decisions are correct from the first poll.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	rec := recorder.New(deps.Activity, deps.SignalBus, a.logger)
	counters := engine.NewSessionCounters(deps.Brackets, a.logger)
	if err := counters.Recompute(ctx); err != nil {
		return nil, fmt.Errorf("app: prime counters: %w", err)
	}

	eng := engine.New(engine.Options{
		Brackets:   deps.Brackets,
		RiskStates: deps.RiskStates,
		Counters:   counters,
		Guard: guard.Config{
			Enabled:             a.cfg.Guard.Enabled,
			MaxOpenBrackets:     a.cfg.Guard.MaxOpenBrackets,
			PerBracketCostCap:   a.cfg.Guard.PerBracketCostCap,
			DailyCostCap:        a.cfg.Guard.DailyCostCap,
			DailyLossCap:        a.cfg.Guard.DailyLossCap,
			LossStreakThreshold: a.cfg.Guard.LossStreakThreshold,
		},
		Recorder: rec,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	})

	return &core{engine: eng, recorder: rec, counters: counters}, nil
}

func (a *App) strategyConfig() strategy.Config {
	return strategy.Config{
		SlugPatterns:        a.cfg.Strategy.SlugPatterns,
		MaxBracketUSDC:      a.cfg.Strategy.MaxBracketUSDC,
		MinStakeUSDC:        a.cfg.Strategy.MinStakeUSDC,
		MaxEntryAsk:         a.cfg.Strategy.MaxEntryAsk,
		MaxSpread:           a.cfg.Strategy.MaxSpread,
		MinTotalEdgeCents:   a.cfg.Strategy.MinTotalEdgeCents,
		MaxTimeToHedge:      a.cfg.Strategy.MaxTimeToHedge.Duration,
		FlattenBeforeExpiry: a.cfg.Strategy.FlattenBeforeExpiry.Duration,
		Cooldown:            a.cfg.Strategy.Cooldown.Duration,
	}
}

// newAgent picks the execution boundary: a logging stub in dry-run, the HTTP
// sidecar otherwise.
func (a *App) newAgent() executor.Agent {
	if a.cfg.DryRun {
		return executor.NewDryRunAgent(a.logger)
	}
	return executor.NewSidecarAgent(executor.SidecarConfig{
		BaseURL:  a.cfg.Sidecar.BaseURL,
		Timeout:  a.cfg.Sidecar.Timeout.Duration,
		DedupTTL: a.cfg.Sidecar.DedupTTL.Duration,
	}, a.logger)
}

// TradeMode runs the full round trip: quote feeding, the poll loop, periodic
// counter resync, the archive job, and the dashboard API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("dry_run", a.cfg.DryRun),
	)

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	strat := strategy.New(a.strategyConfig(), a.logger)
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
	clob := polymarket.NewCLOBClient(a.cfg.Polymarket.ClobHost)

	feeder := feed.New(feed.Config{
		SlugPatterns:      a.cfg.Strategy.SlugPatterns,
		Interval:          a.cfg.Feed.Interval.Duration,
		DiscoveryInterval: a.cfg.Feed.DiscoveryInterval.Duration,
		MaxMarkets:        a.cfg.Feed.MaxMarkets,
	}, gamma, clob, deps.QuoteCache, a.logger)
	g.Go(func() error {
		return ignoreCancel(ctx, feeder.Run(ctx))
	})

	pollLoop := loop.New(loop.Config{
		PollInterval: a.cfg.Feed.Interval.Duration,
		DryRun:       a.cfg.DryRun,
	}, c.engine, strat, deps.QuoteCache, deps.Cooldown, gamma, a.newAgent(), a.logger)
	g.Go(func() error {
		return ignoreCancel(ctx, pollLoop.Run(ctx))
	})

	g.Go(func() error {
		return a.resyncCounters(ctx, c.counters)
	})
	g.Go(func() error {
		return a.publishStats(ctx, deps, c.engine)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return ignoreCancel(ctx, deps.Archiver.Run(ctx))
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// ServerMode serves the dashboard API against the shared ledger without
// touching any market. Manual flattens through the API still work.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.resyncCounters(ctx, c.counters)
	})
	g.Go(func() error {
		return a.publishStats(ctx, deps, c.engine)
	})

	// Server mode exists to serve; the enabled flag is ignored here.
	a.startHTTPServer(ctx, g, deps, c)

	return g.Wait()
}

// MonitorMode watches markets and serves the dashboard without ever opening a
// position: the feeder keeps quotes fresh, the loop never runs.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
	clob := polymarket.NewCLOBClient(a.cfg.Polymarket.ClobHost)
	feeder := feed.New(feed.Config{
		SlugPatterns:      a.cfg.Strategy.SlugPatterns,
		Interval:          a.cfg.Feed.Interval.Duration,
		DiscoveryInterval: a.cfg.Feed.DiscoveryInterval.Duration,
		MaxMarkets:        a.cfg.Feed.MaxMarkets,
	}, gamma, clob, deps.QuoteCache, a.logger)
	g.Go(func() error {
		return ignoreCancel(ctx, feeder.Run(ctx))
	})

	g.Go(func() error {
		return a.publishStats(ctx, deps, c.engine)
	})

	a.startHTTPServer(ctx, g, deps, c)

	return g.Wait()
}

// startHTTPServer adds the HTTP + WebSocket server goroutines to the given
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		DryRun:         a.cfg.DryRun,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return ignoreCancel(ctx, hub.Run(ctx))
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Brackets: handler.NewBracketHandler(c.engine, a.logger),
		Stats:    handler.NewStatsHandler(c.engine, a.logger),
		Activity: handler.NewActivityHandler(c.recorder, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// resyncCounters rebuilds the session counters from the ledger on a fixed
// cadence. A second writer (a manual flatten through the API of another
// process) becomes visible here at the latest.
func (a *App) resyncCounters(ctx context.Context, counters *engine.SessionCounters) error {
	ticker := time.NewTicker(countersResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := counters.Recompute(ctx); err != nil {
				a.logger.WarnContext(ctx, "counters resync failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// publishStats pushes a stats snapshot onto the signal bus every few seconds
// for live dashboard consumption.
func (a *App) publishStats(ctx context.Context, deps *Dependencies, eng *engine.Engine) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats, err := eng.GetStats(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "stats snapshot failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			data, err := json.Marshal(stats)
			if err != nil {
				continue
			}
			if err := deps.SignalBus.Publish(ctx, statsChannel, data); err != nil {
				a.logger.WarnContext(ctx, "stats publish failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ignoreCancel maps context-cancellation errors to nil so a clean shutdown
// does not surface as a failure from the errgroup.
func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
