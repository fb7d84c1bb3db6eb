package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/polybet?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "polybet", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestAppendListOpts(t *testing.T) {
	since := time.Unix(0, 0)
	q, args := appendListOpts("SELECT 1 WHERE a = $1", []any{"x"}, "created_at",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 5})
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"x", since, 10, 5}, args)
}

func TestParseU64(t *testing.T) {
	v, err := parseU64("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<64-1), v)

	_, err = parseU64("18446744073709551616")
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

// newTestStore connects to POLYBET_TEST_POSTGRES_DSN, skipping when unset.
func newTestStore(t *testing.T) (*Client, *SettlementStore) {
	t.Helper()
	dsn := os.Getenv("POLYBET_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POLYBET_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	_, err = c.Pool().Exec(ctx, `TRUNCATE votes, markets, protocol_config, ledger_balances, ledger_entries, audit_log`)
	require.NoError(t, err)
	return c, c.Settlement()
}

func TestSettlementStore_MarketRoundTrip(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	w := uint8(1)

	m := domain.Market{
		ID: "m1", Authority: "auth", Creator: "creator", Question: "q?",
		OutcomeNames: []string{"Yes", "No"}, OutcomeCount: 2,
		TotalPool: 1<<64 - 1, EndTime: now.Add(time.Hour), State: domain.MarketResolved,
		WinningOutcome: &w, Policy: domain.PayoutPolicy{Kind: domain.PolicyFeeSchedule},
		Fees: domain.FeeSchedule{CreatorBps: 500}, Custody: domain.VaultAccount("m1"),
		EarlyExitBps: 8500, SweepCooldown: 72 * time.Hour,
		CreatedAt: now, UpdatedAt: now,
	}
	m.OutcomeTotals[0], m.SeedTotals[1] = 150, 7
	require.NoError(t, s.Markets().Create(ctx, m))
	assert.ErrorIs(t, s.Markets().Create(ctx, m), domain.ErrAlreadyExists)

	got, err := s.Markets().GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.TotalPool, got.TotalPool)
	assert.Equal(t, m.OutcomeTotals, got.OutcomeTotals)
	assert.Equal(t, m.SeedTotals, got.SeedTotals)
	require.NotNil(t, got.WinningOutcome)
	assert.Equal(t, w, *got.WinningOutcome)
	assert.Equal(t, uint16(8500), got.EarlyExitBps)
	assert.Equal(t, 72*time.Hour, got.SweepCooldown)

	locked := m
	locked.ID, locked.Policy = "m2", domain.PayoutPolicy{Kind: domain.PolicyLocked}
	require.NoError(t, s.Markets().Create(ctx, locked))
	list, err := s.Markets().List(ctx, domain.MarketFilter{Policy: domain.PolicyLocked})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "m2", list[0].ID)

	_, err = s.Markets().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettlementStore_AtomicLedger(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()
	alice := domain.UserAccount("alice")
	vault := domain.VaultAccount("m1")
	require.NoError(t, s.Credit(ctx, alice, 100))

	err := s.Atomic(ctx, domain.MarketScope("m1"), func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Ledger().Transfer(ctx, alice, vault, "alice", 60))
		err := tx.Ledger().Transfer(ctx, alice, vault, "alice", 60)
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, err := s.Ledger().Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)

	require.NoError(t, s.Ledger().Transfer(ctx, alice, vault, "alice", 40))
	assert.ErrorIs(t, s.Ledger().Transfer(ctx, vault, alice, "alice", 1), domain.ErrUnauthorized)

	entries, err := s.Entries(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EntryTransfer, entries[0].Kind)
}
