package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path over the built-in defaults,
// applies POLYBET_* environment overrides (a .env file in the working
// directory is loaded first when present), and returns the result. The
// returned Config has NOT been validated; call Config.Validate after Load.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from POLYBET_* environment
// variables that are set and non-empty, so secrets can be injected at deploy
// time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "POLYBET_MODE")
	setStr(&cfg.LogLevel, "POLYBET_LOG_LEVEL")
	setStr(&cfg.Store.Backend, "POLYBET_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYBET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POLYBET_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "POLYBET_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYBET_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.ReportSecret, "POLYBET_S3_REPORT_SECRET")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYBET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYBET_SERVER_RATE_WINDOW")

	// ── Protocol ──
	setStr(&cfg.Protocol.Authority, "POLYBET_PROTOCOL_AUTHORITY")
	setBool(&cfg.Protocol.Bootstrap, "POLYBET_PROTOCOL_BOOTSTRAP")
	setStr(&cfg.Protocol.DevAccount, "POLYBET_PROTOCOL_DEV_ACCOUNT")
	setStr(&cfg.Protocol.TreasuryAccount, "POLYBET_PROTOCOL_TREASURY_ACCOUNT")
	setUint16(&cfg.Protocol.CreatorBps, "POLYBET_PROTOCOL_CREATOR_BPS")
	setUint16(&cfg.Protocol.DevBps, "POLYBET_PROTOCOL_DEV_BPS")
	setUint16(&cfg.Protocol.BurnBps, "POLYBET_PROTOCOL_BURN_BPS")
	setDuration(&cfg.Protocol.SweepCooldown, "POLYBET_PROTOCOL_SWEEP_COOLDOWN")
	setInt64(&cfg.Protocol.ChainID, "POLYBET_PROTOCOL_CHAIN_ID")

	// ── Token ──
	setInt32(&cfg.Token.Decimals, "POLYBET_TOKEN_DECIMALS")
	setStr(&cfg.Token.BurnMint, "POLYBET_TOKEN_BURN_MINT")

	// ── Relayer ──
	setBool(&cfg.Relayer.Enabled, "POLYBET_RELAYER_ENABLED")
	setStr(&cfg.Relayer.GammaHost, "POLYBET_RELAYER_GAMMA_HOST")
	setDuration(&cfg.Relayer.PollInterval, "POLYBET_RELAYER_POLL_INTERVAL")
	setInt(&cfg.Relayer.BatchSize, "POLYBET_RELAYER_BATCH_SIZE")
	setInt(&cfg.Relayer.RequestsPerMinute, "POLYBET_RELAYER_REQUESTS_PER_MINUTE")
	setStr(&cfg.Relayer.PrivateKey, "POLYBET_RELAYER_PRIVATE_KEY")
	setStr(&cfg.Relayer.KeyFile, "POLYBET_RELAYER_KEY_FILE")
	setStr(&cfg.Relayer.KeyPassphrase, "POLYBET_RELAYER_KEY_PASSPHRASE")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "POLYBET_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.SweepCron, "POLYBET_SCHEDULER_SWEEP_CRON")
	setStr(&cfg.Scheduler.ReportCron, "POLYBET_SCHEDULER_REPORT_CRON")
	setBool(&cfg.Scheduler.RunOnStart, "POLYBET_SCHEDULER_RUN_ON_START")
	setDuration(&cfg.Scheduler.LockTTL, "POLYBET_SCHEDULER_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYBET_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setUint16(dst *uint16, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			*dst = uint16(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
