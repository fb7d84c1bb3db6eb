// Package app provides the top-level lifecycle of the settlement engine. It
// wires the store, cache, blob storage, services and pipelines and starts the
// goroutines the configured mode asks for.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polybet/internal/config"
	"github.com/alanyoungcy/polybet/internal/crypto"
	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/service"
	"github.com/alanyoungcy/polybet/internal/settlement"
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

// engine is the settlement write path plus its read model.
type engine struct {
	coord *settlement.Coordinator
	reads *service.MarketService
}

// Run wires all dependencies, starts the components of the configured mode
// and blocks until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store.Backend),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	eng := a.buildEngine(deps)
	if a.cfg.Protocol.Bootstrap {
		if err := a.bootstrapProtocol(ctx, eng.coord, deps.Store); err != nil {
			return err
		}
	}

	switch a.cfg.Mode {
	case "server":
		return a.ServerMode(ctx, deps, eng)
	case "relayer":
		return a.RelayerMode(ctx, deps, eng)
	case "scheduler":
		return a.SchedulerMode(ctx, deps, eng)
	case "full":
		return a.FullMode(ctx, deps, eng)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
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

func (a *App) buildEngine(deps *Dependencies) engine {
	events := service.NewEventPublisher(deps.Bus, deps.Store.Markets(), deps.MarketCache, deps.Notifier, a.logger)
	coord := settlement.NewCoordinator(settlement.Deps{
		Store:              deps.Store,
		Clock:              domain.SystemClock{},
		Verifier:           crypto.NewVerifier(a.cfg.Protocol.ChainID),
		Events:             events,
		Audit:              deps.Audit,
		Observer:           deps.Metrics,
		Logger:             a.logger,
		BootstrapAuthority: domain.Identity(a.cfg.Protocol.Authority),
	})
	reads := service.NewMarketService(deps.Store, deps.Journal, deps.MarketCache, a.cfg.Token.Decimals, a.logger)
	return engine{coord: coord, reads: reads}
}

// bootstrapProtocol creates the protocol config from the [protocol] section
// when none exists yet. A concurrent bootstrap by another process is not an
// error.
func (a *App) bootstrapProtocol(ctx context.Context, coord *settlement.Coordinator, store domain.SettlementStore) error {
	if _, err := store.Protocol().Get(ctx); err == nil {
		a.logger.DebugContext(ctx, "protocol already initialized")
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("app: bootstrap protocol: %w", err)
	}

	p := a.cfg.Protocol
	_, err := coord.InitProtocol(ctx, domain.Identity(p.Authority), settlement.ProtocolInit{
		DevAccount:      domain.Account(p.DevAccount),
		TreasuryAccount: domain.Account(p.TreasuryAccount),
		BurnMint:        a.cfg.Token.BurnMint,
		Fees: domain.FeeSchedule{
			CreatorBps: p.CreatorBps,
			DevBps:     p.DevBps,
			BurnBps:    p.BurnBps,
		},
		LockedPayoutBps: p.LockedPayoutBps,
		LockedFeeBps:    p.LockedFeeBps,
		EarlyExitBps:    p.EarlyExitBps,
		SweepCooldown:   p.SweepCooldown.Duration,
	})
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		return nil
	case err != nil:
		return fmt.Errorf("app: bootstrap protocol: %w", err)
	}
	a.logger.InfoContext(ctx, "protocol initialized",
		slog.String("authority", p.Authority),
		slog.String("burn_mint", a.cfg.Token.BurnMint),
	)
	return nil
}
