package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/helix/internal/config"
	"github.com/quantfall/helix/internal/crypto"
	"github.com/quantfall/helix/internal/domain"
	"github.com/quantfall/helix/internal/engine"
	"github.com/quantfall/helix/internal/feed"
	"github.com/quantfall/helix/internal/gateway"
	"github.com/quantfall/helix/internal/ledger"
	"github.com/quantfall/helix/internal/notify"
	"github.com/quantfall/helix/internal/risk"
	"github.com/quantfall/helix/internal/server"
	"github.com/quantfall/helix/internal/server/handler"
	"github.com/quantfall/helix/internal/server/ws"
	"github.com/quantfall/helix/internal/strategy"
	"github.com/quantfall/helix/internal/venue"
	"github.com/quantfall/helix/internal/venue/rest"
	"github.com/quantfall/helix/internal/venue/sim"
	"github.com/quantfall/helix/internal/venue/stream"
)

// TradeMode runs the engine against the live venue over REST, with an optional
// WebSocket tick stream layered on top of cycle polling.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     a.cfg.Venue.ApiSecret,
		EncryptedPath: a.cfg.Venue.EncryptedSecretPath,
		Password:      a.cfg.Venue.SecretPassword,
	})
	if err != nil {
		return fmt.Errorf("trade mode: load venue secret: %w", err)
	}

	auth := &crypto.HMACAuth{Key: a.cfg.Venue.ApiKey, Secret: secret}
	v := rest.New(a.cfg.Venue.BaseURL, auth, a.cfg.Venue.RequestTimeout.Duration)

	return a.runEngine(ctx, deps, v, true)
}

// PaperMode runs the engine against the simulated venue. Fills, balances, and
// prices are synthetic; the rest of the stack behaves exactly as in trade mode.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	v := sim.New(simConfig(a.cfg.Venue.Sim), a.logger)
	return a.runEngine(ctx, deps, v, false)
}

// ServerMode runs a relay-only deployment: it serves the shared fill history
// and forwards status snapshots published by a trade-mode process elsewhere.
// No engine runs and no orders are placed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if deps.StatusBus != nil {
		hub = ws.NewHub(deps.StatusBus, a.cfg.Engine.StatusChannel, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "server mode: no status bus, websocket stream disabled")
	}

	srv := server.NewRelayServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Limiter:     deps.RateLimiter,
	}, handler.NewHealthHandler(version), handler.NewFillsHandler(deps.FillLog), hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	a.startHaltWatcher(ctx, g, deps)

	return g.Wait()
}

// runEngine builds the full trading stack around the given venue adapter and
// blocks until the context is cancelled or a fatal error occurs.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, v venue.Adapter, live bool) error {
	led := ledger.New(
		decimal.NewFromFloat(a.cfg.Engine.InitialCapital),
		deps.FillLog, deps.Snapshots, a.logger,
	)
	if err := led.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore ledger: %w", err)
	}
	a.failStaleOrders(ctx, deps.Journal)

	reg := a.newStrategyRegistry()
	rm := risk.New(a.cfg.Risk.Limits(), led, deps.Journal, reg.Rank, a.logger)
	gw := gateway.New(v, led, deps.Journal, rm, deps.RateLimiter, gateway.Config{
		MaxRetries:       a.cfg.Gateway.MaxRetries,
		RetryBase:        a.cfg.Gateway.RetryBase.Duration,
		ConfirmTimeout:   a.cfg.Gateway.ConfirmTimeout.Duration,
		PollInterval:     a.cfg.Gateway.PollInterval.Duration,
		ResubmitPartials: a.cfg.Gateway.ResubmitPartials,
		RateLimit:        a.cfg.Gateway.RateLimit,
		RateWindow:       a.cfg.Gateway.RateWindow.Duration,
	}, a.logger)
	f := feed.New(v, a.cfg.Engine.Symbols, deps.PriceCache, a.logger)

	var bus domain.StatusBus
	if deps.StatusBus != nil {
		bus = deps.StatusBus
	}

	eng := engine.New(engine.Config{
		CycleInterval:      a.cfg.Engine.CycleInterval.Duration,
		StalenessThreshold: a.cfg.Engine.StalenessThreshold.Duration,
		CollectTimeout:     a.cfg.Engine.CollectTimeout.Duration,
		ReconcileEvery:     uint64(a.cfg.Engine.ReconcileEvery),
		ReconcileTolerance: decimal.NewFromFloat(a.cfg.Engine.ReconcileTolerance),
		StatusChannel:      a.cfg.Engine.StatusChannel,
		RecentFills:        a.cfg.Engine.RecentFills,
	}, f, reg, rm, led, gw, v, deps.FillLog, bus, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(ctx)
	})

	// WebSocket tick stream, layered on top of cycle polling. A stream
	// failure degrades to poll-only, it never stops trading.
	if live && a.cfg.Venue.WsURL != "" {
		a.startTickStream(ctx, g, f)
	}

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, retention)
			return nil
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng, led, rm, reg)
	}

	a.startHaltWatcher(ctx, g, deps)

	return g.Wait()
}

// startHaltWatcher adds the operator alert watcher to the errgroup when
// notification channels are configured and a status bus is available.
func (a *App) startHaltWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Notify.Enabled {
		return
	}
	if deps.StatusBus == nil {
		a.logger.WarnContext(ctx, "notify enabled but no status bus, alerts disabled")
		return
	}

	var senders []notify.Sender
	if a.cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhook))
	}
	if a.cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if len(senders) == 0 {
		return
	}

	notifier := notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
	watcher := notify.NewWatcher(deps.StatusBus, a.cfg.Engine.StatusChannel, notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
}

// startTickStream connects the venue WebSocket feed and pushes ticks into the
// feed between polls.
func (a *App) startTickStream(ctx context.Context, g *errgroup.Group, f *feed.Feed) {
	sc := stream.New(a.cfg.Venue.WsURL, a.logger)
	// The handler must be in place before the read loop starts, or ticks
	// arriving between connect and subscribe are dropped.
	sc.OnTick(func(t domain.Tick) {
		f.Push(ctx, t)
	})
	if err := sc.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "tick stream connect failed, continuing with polling only",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := sc.Subscribe(ctx, a.cfg.Engine.Symbols); err != nil {
		a.logger.WarnContext(ctx, "tick stream subscribe failed, continuing with polling only",
			slog.String("error", err.Error()),
		)
		_ = sc.Close()
		return
	}
	g.Go(func() error {
		<-ctx.Done()
		return sc.Close()
	})
}

// startHTTPServer adds the API server (and WebSocket hub when a status bus is
// wired) to the given errgroup, with graceful shutdown on context cancel.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	eng *engine.Engine,
	led *ledger.Ledger,
	rm *risk.Manager,
	reg *strategy.Registry,
) {
	var hub *ws.Hub
	if deps.StatusBus != nil {
		hub = ws.NewHub(deps.StatusBus, a.cfg.Engine.StatusChannel, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(version),
		Status:     handler.NewStatusHandler(eng),
		Fills:      handler.NewFillsHandler(deps.FillLog),
		Positions:  handler.NewPositionsHandler(led),
		Control:    handler.NewControlHandler(eng),
		Risk:       handler.NewRiskHandler(rm),
		Strategies: handler.NewStrategyHandler(reg),
	}
	if deps.ArchiveReader != nil {
		handlers.Archives = handler.NewArchivesHandler(deps.ArchiveReader, a.cfg.Archive.Prefix)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// newStrategyRegistry registers every enabled strategy with its configured
// parameters.
func (a *App) newStrategyRegistry() *strategy.Registry {
	reg := strategy.NewRegistry()
	s := a.cfg.Strategies

	if s.Momentum.Enabled {
		_ = reg.Register(strategy.NewMomentum("momentum",
			s.Momentum.FastWindow, s.Momentum.SlowWindow,
			strategyParams(s.Momentum.Fraction, s.Momentum.StopLoss, s.Momentum.TakeProfit),
		))
	}
	if s.MeanReversion.Enabled {
		_ = reg.Register(strategy.NewMeanReversion("mean_reversion",
			s.MeanReversion.Window, s.MeanReversion.ZThreshold,
			strategyParams(s.MeanReversion.Fraction, s.MeanReversion.StopLoss, s.MeanReversion.TakeProfit),
		))
	}
	if s.Breakout.Enabled {
		_ = reg.Register(strategy.NewBreakout("breakout",
			s.Breakout.Lookback,
			strategyParams(s.Breakout.Fraction, s.Breakout.StopLoss, s.Breakout.TakeProfit),
		))
	}

	return reg
}

func strategyParams(fraction, stopLoss, takeProfit float64) strategy.Params {
	return strategy.Params{
		Fraction:         decimal.NewFromFloat(fraction),
		StopLossOffset:   decimal.NewFromFloat(stopLoss),
		TakeProfitOffset: decimal.NewFromFloat(takeProfit),
	}
}

// failStaleOrders marks orders left open by a previous process as failed.
// Their capital reservations died with that process, so resuming them would
// double-spend; any venue-side execution is caught by reconciliation.
func (a *App) failStaleOrders(ctx context.Context, journal domain.OrderJournal) {
	open, err := journal.ListOpen(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "listing open orders for recovery failed",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, o := range open {
		if err := journal.SetStatus(ctx, o.ID, domain.OrderStatusFailed); err != nil {
			a.logger.WarnContext(ctx, "marking stale order failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(open) > 0 {
		a.logger.InfoContext(ctx, "marked stale open orders as failed",
			slog.Int("count", len(open)),
		)
	}
}

// simConfig converts the loaded simulator settings into the venue's decimal
// based configuration.
func simConfig(c config.SimConfig) sim.Config {
	prices := make(map[string]decimal.Decimal, len(c.StartPrices))
	for sym, p := range c.StartPrices {
		prices[sym] = decimal.NewFromFloat(p)
	}
	return sim.Config{
		StartPrices:    prices,
		Volatility:     decimal.NewFromFloat(c.Volatility),
		Slippage:       decimal.NewFromFloat(c.Slippage),
		Fee:            decimal.NewFromFloat(c.Fee),
		PartialEvery:   c.PartialEvery,
		PartialRatio:   decimal.NewFromFloat(c.PartialRatio),
		TransientEvery: c.TransientEvery,
		RejectEvery:    c.RejectEvery,
		Seed:           c.Seed,
		StartBalance:   decimal.NewFromFloat(c.StartBalance),
	}
}
