package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polybet/internal/crypto"
	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/oracle"
	"github.com/alanyoungcy/polybet/internal/pipeline"
	"github.com/alanyoungcy/polybet/internal/platform/polymarket"
	"github.com/alanyoungcy/polybet/internal/server"
	"github.com/alanyoungcy/polybet/internal/server/handler"
	"github.com/alanyoungcy/polybet/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the event WebSocket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, eng engine) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, eng, nil)
	return g.Wait()
}

// RelayerMode mirrors upstream resolutions onto attested markets.
func (a *App) RelayerMode(ctx context.Context, deps *Dependencies, eng engine) error {
	a.logger.InfoContext(ctx, "starting relayer mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startRelayer(ctx, g, deps, eng); err != nil {
		return err
	}
	return g.Wait()
}

// SchedulerMode runs the cron jobs that sweep settled markets and archive
// their reports.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies, eng engine) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startScheduler(ctx, g, deps, eng)
	return g.Wait()
}

// FullMode runs the server plus whichever of the relayer and scheduler are
// enabled, in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, eng engine) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("server", a.cfg.RunsServer()),
		slog.Bool("relayer", a.cfg.RunsRelayer()),
		slog.Bool("scheduler", a.cfg.RunsScheduler()),
	)

	g, ctx := errgroup.WithContext(ctx)

	var jobs handler.JobTrigger
	if a.cfg.RunsScheduler() {
		jobs = a.startScheduler(ctx, g, deps, eng)
	}
	if a.cfg.RunsRelayer() {
		if err := a.startRelayer(ctx, g, deps, eng); err != nil {
			return err
		}
	}
	if a.cfg.RunsServer() {
		a.startHTTPServer(ctx, g, deps, eng, jobs)
	}

	return g.Wait()
}

// startHTTPServer registers the API server, the WebSocket hub and the graceful
// shutdown goroutine on g. jobs may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng engine, jobs handler.JobTrigger) {
	hub := ws.NewHub(deps.Bus, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	h := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.cfg.Mode, a.logger),
		Protocol: handler.NewProtocolHandler(eng.coord, eng.reads, a.logger),
		Markets:  handler.NewMarketHandler(eng.coord, eng.reads, deps.Reports, a.logger),
		Bets:     handler.NewBetHandler(eng.coord, eng.reads, a.logger),
	}
	if jobs != nil {
		h.Jobs = handler.NewJobsHandler(jobs, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, server.Deps{
		Hub:      hub,
		Metrics:  deps.Metrics.Handler(),
		Recorder: deps.Metrics,
		Limiter:  deps.RateLimiter,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startRelayer resolves the oracle key and registers the relayer loop on g.
func (a *App) startRelayer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng engine) error {
	rc := a.cfg.Relayer
	key, err := crypto.KeySource{
		Inline:     rc.PrivateKey,
		File:       rc.KeyFile,
		Passphrase: rc.KeyPassphrase,
	}.Resolve()
	if err != nil {
		return fmt.Errorf("app: relayer key: %w", err)
	}
	attester, err := crypto.NewAttester(key, a.cfg.Protocol.ChainID)
	if err != nil {
		return fmt.Errorf("app: relayer attester: %w", err)
	}

	gamma := polymarket.NewGammaClient(rc.GammaHost)
	if deps.RateLimiter != nil {
		gamma = gamma.WithRateLimiter(deps.RateLimiter)
	}

	relayer := oracle.NewRelayer(deps.Store.Markets(), gamma, attester, eng.coord, deps.Locks, domain.SystemClock{}, oracle.Config{
		PollInterval: rc.PollInterval.Duration,
		LockTTL:      rc.LockTTL.Duration,
		RetryAfter:   rc.RetryAfter.Duration,
		BatchSize:    rc.BatchSize,
	}, a.logger)

	g.Go(func() error {
		if err := relayer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return nil
}

// startScheduler builds the cron jobs and registers the orchestrator on g.
// The report job is only scheduled when an archive is configured.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng engine) *pipeline.Orchestrator {
	sc := a.cfg.Scheduler
	clock := domain.SystemClock{}

	schedules := []pipeline.Schedule{{
		Spec: sc.SweepCron,
		Job:  pipeline.NewSweepJob(deps.Store, eng.coord, deps.Reports, clock, sc.BatchSize, a.logger),
	}}
	if deps.Reports != nil && sc.ReportCron != "" {
		schedules = append(schedules, pipeline.Schedule{
			Spec: sc.ReportCron,
			Job:  pipeline.NewReportJob(deps.Store.Markets(), deps.Reports, clock, sc.BatchSize, a.logger),
		})
	} else {
		a.logger.InfoContext(ctx, "report job disabled; no archive configured")
	}

	orch := pipeline.NewOrchestrator(schedules, deps.Locks, sc.LockTTL.Duration, sc.RunOnStart, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	return orch
}
