package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/polybet/internal/blob/s3"
	"github.com/alanyoungcy/polybet/internal/cache/redis"
	"github.com/alanyoungcy/polybet/internal/config"
	"github.com/alanyoungcy/polybet/internal/crypto"
	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/metrics"
	"github.com/alanyoungcy/polybet/internal/notify"
	"github.com/alanyoungcy/polybet/internal/server/handler"
	"github.com/alanyoungcy/polybet/internal/service"
	"github.com/alanyoungcy/polybet/internal/store/memory"
	"github.com/alanyoungcy/polybet/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Optional
// collaborators are nil interfaces when their backend is disabled.
type Dependencies struct {
	// Settlement state
	Store   domain.SettlementStore
	Journal domain.LedgerJournal
	Audit   domain.AuditStore

	// Coordination and caching
	Bus         domain.SignalBus
	MarketCache domain.MarketCache
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter

	// Report archive (nil without S3)
	Reports domain.ReportArchiver

	Notifier service.SettlementNotifier
	Metrics  *metrics.Metrics

	// Checks are the health checks of every external backend.
	Checks map[string]handler.Check
}

// Wire constructs the configured backends and returns them together with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- Settlement store ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		settlementStore := pgClient.Settlement()
		deps.Store = settlementStore
		deps.Journal = settlementStore
		deps.Audit = pgClient.Audit()
		deps.Checks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }
	default:
		mem := memory.New()
		deps.Store = mem
		deps.Journal = mem
		deps.Audit = mem
		logger.WarnContext(ctx, "using in-memory settlement store; state is lost on exit")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Relayer.RequestsPerMinute, time.Minute)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Bus = service.NewLocalBus()
	}

	// --- S3 report archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Reports = s3blob.NewReportArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Store,
			deps.Audit,
			crypto.NewReportMAC(cfg.S3.ReportSecret),
			cfg.Token.Decimals,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Token.Decimals, logger)
	}

	return deps, cleanup, nil
}
