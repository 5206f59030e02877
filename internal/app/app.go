// Package app owns the application lifecycle. It wires the infrastructure
// dependencies, assembles the escrow core with its projections and event
// pipeline, and runs the HTTP server until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowd/internal/config"
	"github.com/alanyoungcy/escrowd/internal/escrow"
	"github.com/alanyoungcy/escrowd/internal/ledger"
	"github.com/alanyoungcy/escrowd/internal/server"
	"github.com/alanyoungcy/escrowd/internal/server/handler"
	"github.com/alanyoungcy/escrowd/internal/server/ws"
	"github.com/alanyoungcy/escrowd/internal/service"
)

// shutdownTimeout bounds the graceful drain of in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

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

// Run is the main entry point. It wires dependencies, assembles the core, and
// blocks until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	operator, err := resolveOperator(a.cfg)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "operator resolved", slog.String("address", operator.Hex()))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// The in-memory ledger and arena are authoritative in every mode; the
	// wired backends only add projections, locks, and fan-out.
	led := ledger.New()

	var archiver = deps.Archiver
	if !a.cfg.Escrow.ArchiveTerminal {
		archiver = nil
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	})

	pump := service.NewEventPump(a.cfg.Escrow.EventBuffer, service.EventPumpOpts{
		Events:    deps.EventStore,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
		Broadcast: hub,
		Archiver:  archiver,
	}, a.logger)

	registry, err := escrow.NewRegistry(operator, escrow.Deps{
		Ledger: led,
		Clock:  escrow.SystemClock{},
		Sink:   pump,
	})
	if err != nil {
		return fmt.Errorf("app: registry: %w", err)
	}

	listingSvc := service.NewListingService(registry, service.ListingServiceOpts{
		Locks:   deps.LockManager,
		LockTTL: a.cfg.Escrow.LockTTL.Duration,
		Store:   deps.ListingStore,
		Events:  deps.EventStore,
		Cache:   deps.ListingCache,
	}, a.logger)
	registrySvc := service.NewRegistryService(registry, deps.ListingStore, deps.ListingCache, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pump.Run(gctx)
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:   handler.NewHealthHandler(mode, a.logger),
			Registry: handler.NewRegistryHandler(registrySvc, a.logger),
			Listings: handler.NewListingHandler(listingSvc, a.logger),
			Accounts: handler.NewAccountHandler(led, led, a.logger),
			Archive:  handler.NewArchiveHandler(deps.Archiver, a.logger),
		}, hub, a.logger)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
