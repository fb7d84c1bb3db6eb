package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/config"
	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/service"
	"github.com/alanyoungcy/polybet/internal/store/memory"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWire_MemoryDefaults(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.Store{}, deps.Store)
	assert.IsType(t, &service.LocalBus{}, deps.Bus)
	assert.Nil(t, deps.Reports)
	assert.Nil(t, deps.Locks)
	assert.Nil(t, deps.MarketCache)
	assert.Nil(t, deps.Notifier)
	assert.Empty(t, deps.Checks)
	assert.NotNil(t, deps.Metrics)
}

func TestBootstrapProtocol(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Protocol.Authority = "admin"
	cfg.Protocol.Bootstrap = true
	cfg.Protocol.BurnBps = 50

	a := New(&cfg, discard())
	deps, cleanup, err := Wire(ctx, &cfg, discard())
	require.NoError(t, err)
	defer cleanup()
	eng := a.buildEngine(deps)

	require.NoError(t, a.bootstrapProtocol(ctx, eng.coord, deps.Store))
	p, err := deps.Store.Protocol().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("admin"), p.Authority)
	assert.Equal(t, domain.UserAccount("admin"), p.DevAccount)
	assert.Equal(t, domain.TreasuryAccount, p.TreasuryAccount)
	assert.Equal(t, uint16(50), p.Fees.BurnBps)
	assert.Equal(t, "POLY", p.BurnMint)
	assert.Equal(t, 30*24*time.Hour, p.SweepCooldown)

	// A second bootstrap leaves the existing config alone.
	cfg.Protocol.BurnBps = 75
	require.NoError(t, a.bootstrapProtocol(ctx, eng.coord, deps.Store))
	p, err = deps.Store.Protocol().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(50), p.Fees.BurnBps)
}

func TestRun_FullModeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Port = 0
	cfg.Scheduler.Enabled = true
	cfg.Protocol.Authority = "admin"
	cfg.Protocol.Bootstrap = true

	a := New(&cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancellation")
	}
}

func TestRun_RelayerNeedsKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Relayer.Enabled = true

	a := New(&cfg, discard())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relayer key")
}
