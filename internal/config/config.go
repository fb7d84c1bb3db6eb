// Package config defines the configuration of the settlement engine and its
// validation rules.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by POLYBET_* environment variables.
type Config struct {
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Protocol  ProtocolConfig  `toml:"protocol"`
	Token     TokenConfig     `toml:"token"`
	Relayer   RelayerConfig   `toml:"relayer"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
}

// StoreConfig selects the settlement store backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the process
// uses an in-process event bus and no distributed locks.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds the settlement report bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ReportSecret keys the HMAC attached to every archived report.
	ReportSecret string `toml:"report_secret"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// ProtocolConfig holds the protocol identity and the schedule used when the
// process bootstraps an uninitialized protocol.
type ProtocolConfig struct {
	// Authority is the protocol admin. When set only it may call init_protocol.
	Authority string `toml:"authority"`
	Bootstrap bool   `toml:"bootstrap"`
	// DevAccount defaults to the authority's user account when empty.
	DevAccount      string   `toml:"dev_account"`
	TreasuryAccount string   `toml:"treasury_account"`
	CreatorBps      uint16   `toml:"creator_bps"`
	DevBps          uint16   `toml:"dev_bps"`
	BurnBps         uint16   `toml:"burn_bps"`
	LockedPayoutBps uint16   `toml:"locked_payout_bps"`
	LockedFeeBps    uint16   `toml:"locked_fee_bps"`
	EarlyExitBps    uint16   `toml:"early_exit_bps"`
	SweepCooldown   duration `toml:"sweep_cooldown"`
	// ChainID is bound into the oracle attestation domain.
	ChainID int64 `toml:"chain_id"`
}

// TokenConfig describes the staked asset.
type TokenConfig struct {
	Decimals int32  `toml:"decimals"`
	BurnMint string `toml:"burn_mint"`
}

// RelayerConfig holds the oracle relayer parameters.
type RelayerConfig struct {
	// Enabled starts the relayer in mode full; mode relayer always runs it.
	Enabled      bool     `toml:"enabled"`
	GammaHost    string   `toml:"gamma_host"`
	PollInterval duration `toml:"poll_interval"`
	RetryAfter   duration `toml:"retry_after"`
	LockTTL      duration `toml:"lock_ttl"`
	BatchSize    int      `toml:"batch_size"`
	// RequestsPerMinute throttles Gamma calls across replicas when Redis is enabled.
	RequestsPerMinute int    `toml:"requests_per_minute"`
	PrivateKey        string `toml:"private_key"`
	KeyFile           string `toml:"key_file"`
	KeyPassphrase     string `toml:"key_passphrase"`
}

// SchedulerConfig holds the housekeeping job schedules.
type SchedulerConfig struct {
	// Enabled starts the jobs in mode full; mode scheduler always runs them.
	Enabled    bool     `toml:"enabled"`
	SweepCron  string   `toml:"sweep_cron"`
	ReportCron string   `toml:"report_cron"`
	RunOnStart bool     `toml:"run_on_start"`
	LockTTL    duration `toml:"lock_ttl"`
	BatchSize  int      `toml:"batch_size"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values of config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Store:    StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polybet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "polybet",
			CacheTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polybet-reports",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Protocol: ProtocolConfig{
			TreasuryAccount: "treasury",
			CreatorBps:      100,
			DevBps:          100,
			BurnBps:         0,
			LockedPayoutBps: 9000,
			LockedFeeBps:    1100,
			EarlyExitBps:    9000,
			SweepCooldown:   duration{30 * 24 * time.Hour},
			ChainID:         137,
		},
		Token: TokenConfig{Decimals: 6, BurnMint: "POLY"},
		Relayer: RelayerConfig{
			GammaHost:         "https://gamma-api.polymarket.com",
			PollInterval:      duration{2 * time.Minute},
			RetryAfter:        duration{10 * time.Minute},
			LockTTL:           duration{30 * time.Second},
			BatchSize:         200,
			RequestsPerMinute: 60,
		},
		Scheduler: SchedulerConfig{
			SweepCron:  "15 * * * *",
			ReportCron: "*/10 * * * *",
			LockTTL:    duration{5 * time.Minute},
			BatchSize:  100,
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "market_cancelled", "market_swept", "treasury_swept"},
		},
	}
}

var validModes = map[string]bool{
	"server":    true,
	"relayer":   true,
	"scheduler": true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsServer reports whether the mode serves HTTP.
func (c *Config) RunsServer() bool {
	return (c.Mode == "server" || c.Mode == "full") && c.Server.Enabled
}

// RunsRelayer reports whether the mode runs the oracle relayer.
func (c *Config) RunsRelayer() bool {
	return c.Mode == "relayer" || (c.Mode == "full" && c.Relayer.Enabled)
}

// RunsScheduler reports whether the mode runs the housekeeping jobs.
func (c *Config) RunsScheduler() bool {
	return c.Mode == "scheduler" || (c.Mode == "full" && c.Scheduler.Enabled)
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	c.Mode = strings.ToLower(c.Mode)
	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, relayer, scheduler, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Store.Backend {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		// A memory store is private to its process, so split deployments
		// would each see an empty engine.
		if c.Mode != "full" {
			errs = append(errs, fmt.Sprintf("store: backend memory only supports mode full, got %q", c.Mode))
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if c.Mode != "full" {
		errs = append(errs, fmt.Sprintf("redis: must be enabled for mode %q so events and locks cross processes", c.Mode))
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ReportSecret == "" {
			errs = append(errs, "s3: report_secret is required to sign reports")
		}
	}

	if c.RunsServer() && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	p := c.Protocol
	if int(p.CreatorBps)+int(p.DevBps)+int(p.BurnBps) > 10_000 {
		errs = append(errs, "protocol: creator_bps + dev_bps + burn_bps must not exceed 10000")
	}
	for name, bps := range map[string]uint16{
		"locked_payout_bps": p.LockedPayoutBps,
		"locked_fee_bps":    p.LockedFeeBps,
		"early_exit_bps":    p.EarlyExitBps,
	} {
		if bps > 10_000 {
			errs = append(errs, fmt.Sprintf("protocol: %s must not exceed 10000", name))
		}
	}
	if p.ChainID <= 0 {
		errs = append(errs, "protocol: chain_id must be positive")
	}
	if p.Bootstrap && p.Authority == "" {
		errs = append(errs, "protocol: bootstrap requires authority")
	}

	if c.Token.Decimals < 0 || c.Token.Decimals > 18 {
		errs = append(errs, fmt.Sprintf("token: decimals must be 0-18, got %d", c.Token.Decimals))
	}
	if c.Token.BurnMint == "" {
		errs = append(errs, "token: burn_mint must not be empty")
	}

	if c.RunsRelayer() {
		if c.Relayer.GammaHost == "" {
			errs = append(errs, "relayer: gamma_host must not be empty")
		}
		if c.Relayer.PrivateKey == "" && c.Relayer.KeyFile == "" {
			errs = append(errs, "relayer: either private_key or key_file must be set")
		}
		if c.Relayer.KeyFile != "" && c.Relayer.PrivateKey == "" && c.Relayer.KeyPassphrase == "" {
			errs = append(errs, "relayer: key_passphrase is required when key_file is set")
		}
	}

	if c.RunsScheduler() {
		for name, spec := range map[string]string{"sweep_cron": c.Scheduler.SweepCron, "report_cron": c.Scheduler.ReportCron} {
			if spec == "" {
				continue
			}
			if _, err := cron.ParseStandard(spec); err != nil {
				errs = append(errs, fmt.Sprintf("scheduler: %s %q: %v", name, spec, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
