// Package app provides the top-level application lifecycle for the riskon
// round scheduler. It wires together the chain ledger, the price oracle, the
// optional infrastructure (history store, caches, object storage,
// notifications) and runs the scheduler and the API server until shutdown.
package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/velikanghost/riskon/internal/config"
	"github.com/velikanghost/riskon/internal/domain"
	"github.com/velikanghost/riskon/internal/keys"
	"github.com/velikanghost/riskon/internal/ledger"
	"github.com/velikanghost/riskon/internal/notify"
	"github.com/velikanghost/riskon/internal/oracle/pyth"
	"github.com/velikanghost/riskon/internal/scheduler"
	"github.com/velikanghost/riskon/internal/server"
	"github.com/velikanghost/riskon/internal/server/handler"
	"github.com/velikanghost/riskon/internal/server/ws"
	"github.com/velikanghost/riskon/internal/target"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// fanout broadcasts every event to each sink in order. Sinks are expected to
// be non-blocking themselves.
type fanout []domain.Broadcaster

func (f fanout) Broadcast(event string, payload any) {
	for _, b := range f {
		b.Broadcast(event, payload)
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// scheduler loops and the API server, and blocks until the context is
// cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting riskon",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
		slog.Int("markets", len(a.cfg.Markets)),
	)

	// --- Signing key ---
	var signingKey *ecdsa.PrivateKey
	keyCfg := keys.Config{
		RawPrivateKey:    a.cfg.Resolver.PrivateKey,
		EncryptedKeyPath: a.cfg.Resolver.EncryptedKeyPath,
		KeyPassword:      a.cfg.Resolver.KeyPassword,
	}
	if keyCfg.Configured() {
		key, err := keys.Load(keyCfg)
		if err != nil {
			return fmt.Errorf("app: load signing key: %w", err)
		}
		signingKey = key
	} else {
		a.logger.WarnContext(ctx, "no signing key configured, running read-only")
	}

	// --- Chain ledger ---
	policies, err := a.cfg.Policies()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	chain, err := ledger.New(ctx, ledger.Config{
		RPCURL:          a.cfg.Chain.RPCURL,
		ChainID:         a.cfg.Chain.ChainID,
		ContractAddress: a.cfg.Chain.ContractAddress,
		PrivateKey:      signingKey,
		ConfirmTimeout:  a.cfg.Chain.ConfirmTimeout.Duration,
		PollInterval:    a.cfg.Chain.PollInterval.Duration,
		Policies:        policies,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	// --- Price oracle ---
	oracle := pyth.NewClient(a.cfg.Oracle.HermesURL, a.cfg.Feeds(), a.cfg.Oracle.Timeout.Duration)

	// --- Infrastructure ---
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	// --- Event fan-out: WebSocket hub plus chat notifications ---
	var sinks fanout
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
		sinks = append(sinks, hub)
	}
	if deps.Notifier != nil {
		sinks = append(sinks, notify.NewBridge(deps.Notifier))
	}
	var broadcaster domain.Broadcaster
	if len(sinks) > 0 {
		broadcaster = sinks
	}

	// --- Scheduler ---
	resolverOpts := []scheduler.ResolverOption{}
	if deps.Recorder != nil {
		resolverOpts = append(resolverOpts, scheduler.WithRecorder(deps.Recorder))
	}
	if deps.PriceCache != nil {
		resolverOpts = append(resolverOpts, scheduler.WithPriceCache(deps.PriceCache))
	}
	if deps.LockManager != nil {
		resolverOpts = append(resolverOpts, scheduler.WithLockManager(deps.LockManager))
	}
	if broadcaster != nil {
		resolverOpts = append(resolverOpts, scheduler.WithBroadcaster(broadcaster))
	}
	resolver := scheduler.NewResolver(chain, oracle, a.cfg.Scheduler.Concurrency, a.logger, resolverOpts...)

	launcherOpts := []scheduler.LauncherOption{}
	if broadcaster != nil {
		launcherOpts = append(launcherOpts, scheduler.WithLaunchBroadcaster(broadcaster))
	}
	launcher := scheduler.NewLauncher(chain, oracle, target.NewCalculator(nil), a.cfg.Scheduler.Concurrency, a.logger, launcherOpts...)

	sched := scheduler.New(scheduler.Config{
		ResolveInterval:     a.cfg.Scheduler.ResolveInterval.Duration,
		NewRoundInterval:    a.cfg.Scheduler.NewRoundInterval.Duration,
		NewRoundWarmup:      a.cfg.Scheduler.NewRoundWarmup.Duration,
		EnableAutoResolve:   a.cfg.Scheduler.EnableAutoResolve,
		EnableAutoNewRounds: a.cfg.Scheduler.EnableAutoNewRounds,
	}, resolver, launcher, a.logger)

	if a.cfg.Scheduler.Autostart {
		sched.Start()
	}
	defer sched.Stop()

	// --- History archival loop ---
	if deps.Archiver != nil {
		g.Go(func() error {
			deps.Archiver.RunLoop(ctx, a.cfg.History.ArchiveInterval.Duration)
			return nil
		})
	}

	// --- API server ---
	if a.cfg.Server.Enabled {
		var historySource handler.HistorySource
		if deps.Recorder != nil {
			historySource = deps.Recorder
		}
		srv := server.NewServer(server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIToken:        a.cfg.Server.APIToken,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Scheduler: handler.NewSchedulerHandler(sched, broadcaster, a.logger),
			Markets:   handler.NewMarketHandler(chain, a.logger),
			Prices:    handler.NewPriceHandler(oracle, symbols(a.cfg.Markets), a.logger),
			History:   handler.NewHistoryHandler(historySource, a.logger),
		}, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func symbols(markets map[string]config.MarketConfig) []string {
	out := make([]string, 0, len(markets))
	for symbol := range markets {
		out = append(out, symbol)
	}
	return out
}
