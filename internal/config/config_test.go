package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*24*time.Hour, cfg.Protocol.SweepCooldown.Duration)
	assert.False(t, cfg.RunsRelayer())
	assert.False(t, cfg.RunsScheduler())
	assert.True(t, cfg.RunsServer())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeTOML(t, `
mode = "scheduler"
log_level = "debug"

[store]
backend = "postgres"

[redis]
enabled = true

[s3]
enabled = true
bucket = "reports"
report_secret = "hmac"

[protocol]
authority = "admin"
creator_bps = 500
sweep_cooldown = "72h"

[scheduler]
sweep_cron = "0 * * * *"
lock_ttl = "90s"
`)
	t.Setenv("POLYBET_POSTGRES_PASSWORD", "from-env")
	t.Setenv("POLYBET_PROTOCOL_DEV_BPS", "250")
	t.Setenv("POLYBET_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "scheduler", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "from-env", cfg.Postgres.Password)
	assert.Equal(t, uint16(500), cfg.Protocol.CreatorBps)
	assert.Equal(t, uint16(250), cfg.Protocol.DevBps)
	assert.Equal(t, 72*time.Hour, cfg.Protocol.SweepCooldown.Duration)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.LockTTL.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.RunsScheduler())
	assert.False(t, cfg.RunsServer())
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeTOML(t, `
[server]
rate_window = "soon"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "relayer"
	cfg.LogLevel = "loud"
	cfg.Protocol.CreatorBps = 6000
	cfg.Protocol.DevBps = 5000
	cfg.Protocol.ChainID = 0
	cfg.Token.Decimals = 40
	cfg.Relayer.KeyFile = "/keys/oracle.json"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"log_level",
		"backend memory only supports mode full",
		"redis: must be enabled",
		"must not exceed 10000",
		"chain_id",
		"decimals",
		"key_passphrase",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_Scheduler(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.SweepCron = "every hour"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep_cron")

	cfg.Scheduler.SweepCron = "@hourly"
	assert.NoError(t, cfg.Validate())
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Relayer.PrivateKey = "0xabc"
	cfg.S3.ReportSecret = "hmac"
	cfg.Server.APIKey = ""

	out := cfg.Redacted()
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Relayer.PrivateKey)
	assert.Equal(t, redacted, out.S3.ReportSecret)
	assert.Empty(t, out.Server.APIKey)
	assert.Equal(t, "pw", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}
