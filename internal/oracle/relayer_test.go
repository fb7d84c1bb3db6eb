package oracle

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/crypto"
	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/market"
	"github.com/alanyoungcy/polybet/internal/platform/polymarket"
	"github.com/alanyoungcy/polybet/internal/settlement"
	"github.com/alanyoungcy/polybet/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeSource struct {
	mu    sync.Mutex
	res   map[string]polymarket.Resolution
	calls int
}

func (f *fakeSource) GetResolution(_ context.Context, ref string) (polymarket.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r, ok := f.res[ref]
	if !ok {
		return polymarket.Resolution{}, domain.ErrNotFound
	}
	return r, nil
}

type heldLocks struct{ held map[string]bool }

func (l heldLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	coord    *settlement.Coordinator
	attester *crypto.Attester
	source   *fakeSource
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	attester, err := crypto.NewAttester(hex.EncodeToString(ethcrypto.FromECDSA(pk)), 137)
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	st := memory.New()
	coord := settlement.NewCoordinator(settlement.Deps{
		Store:    st,
		Clock:    fixedClock{now: now},
		Verifier: crypto.NewVerifier(137),
		Audit:    st,
	})
	ctx := context.Background()
	_, err = coord.InitProtocol(ctx, "admin", settlement.ProtocolInit{
		BurnMint: "POLY",
		Fees:     domain.FeeSchedule{CreatorBps: 500, DevBps: 200, BurnBps: 300},
	})
	require.NoError(t, err)

	return &fixture{
		ctx:      ctx,
		store:    st,
		coord:    coord,
		attester: attester,
		source:   &fakeSource{res: map[string]polymarket.Resolution{}},
		now:      now,
	}
}

func (f *fixture) market(t *testing.T, ref string, oracle domain.Identity, names ...string) domain.Market {
	t.Helper()
	count := uint8(len(names))
	if count == 0 {
		count = 2
	}
	m, err := f.coord.InitMarket(f.ctx, "creator", market.Params{
		Question:     "Mirror " + ref,
		OutcomeNames: names,
		OutcomeCount: count,
		EndTime:      f.now.Add(24 * time.Hour),
		Oracle:       oracle,
		ExternalRef:  ref,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) relayer(locks domain.LockManager) *Relayer {
	return f.relayerWith(locks, Config{})
}

func (f *fixture) relayerWith(locks domain.LockManager, cfg Config) *Relayer {
	return NewRelayer(f.store.Markets(), f.source, f.attester, f.coord, locks,
		fixedClock{now: f.now}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTickResolvesClosedMarkets(t *testing.T) {
	f := newFixture(t)
	named := f.market(t, "pm-1", f.attester.Identity(), "Yes", "No")
	positional := f.market(t, "pm-2", f.attester.Identity())
	pending := f.market(t, "pm-3", f.attester.Identity(), "Yes", "No")
	foreign := f.market(t, "pm-4", "0x000000000000000000000000000000000000dEaD", "Yes", "No")

	f.source.res["pm-1"] = polymarket.Resolution{Closed: true, Outcomes: []string{"no", "yes"}, Winner: 1}
	f.source.res["pm-2"] = polymarket.Resolution{Closed: true, Outcomes: []string{"A", "B"}, Winner: 1}
	f.source.res["pm-3"] = polymarket.Resolution{Closed: false, Outcomes: []string{"Yes", "No"}, Winner: -1}
	f.source.res["pm-4"] = polymarket.Resolution{Closed: true, Outcomes: []string{"Yes", "No"}, Winner: 0}

	n, err := f.relayer(nil).Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := f.store.Markets().GetByID(f.ctx, named.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WinningOutcome)
	assert.Equal(t, uint8(0), *got.WinningOutcome)

	got, err = f.store.Markets().GetByID(f.ctx, positional.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WinningOutcome)
	assert.Equal(t, uint8(1), *got.WinningOutcome)

	for _, id := range []string{pending.ID, foreign.ID} {
		got, err = f.store.Markets().GetByID(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.MarketOpen, got.State)
	}
}

func TestTickSkipsLockedMarkets(t *testing.T) {
	f := newFixture(t)
	m := f.market(t, "pm-1", f.attester.Identity(), "Yes", "No")
	f.source.res["pm-1"] = polymarket.Resolution{Closed: true, Outcomes: []string{"Yes", "No"}, Winner: 0}

	n, err := f.relayer(heldLocks{held: map[string]bool{"oracle:" + m.ID: true}}).Tick(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.source.calls)
}

func TestTickContinuesPastUnknownOutcome(t *testing.T) {
	f := newFixture(t)
	f.market(t, "pm-1", f.attester.Identity(), "Yes", "No")
	ok := f.market(t, "pm-2", f.attester.Identity(), "Yes", "No")
	f.source.res["pm-1"] = polymarket.Resolution{Closed: true, Outcomes: []string{"Maybe"}, Winner: 0}
	f.source.res["pm-2"] = polymarket.Resolution{Closed: true, Outcomes: []string{"Yes", "No"}, Winner: 1}

	n, err := f.relayer(nil).Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.Markets().GetByID(f.ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, got.State)
}

func TestTickPagesPastBatchSize(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 1; i <= 5; i++ {
		ref := fmt.Sprintf("pm-%d", i)
		ids = append(ids, f.market(t, ref, f.attester.Identity(), "Yes", "No").ID)
		f.source.res[ref] = polymarket.Resolution{Closed: true, Outcomes: []string{"Yes", "No"}, Winner: 0}
	}

	n, err := f.relayerWith(nil, Config{BatchSize: 2}).Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, f.source.calls)

	for _, id := range ids {
		got, err := f.store.Markets().GetByID(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.MarketResolved, got.State)
	}
}

func TestMapOutcome(t *testing.T) {
	m := domain.Market{ID: "m", OutcomeCount: 3, OutcomeNames: []string{"Red", "Green", "Blue"}}
	idx, err := MapOutcome(m, polymarket.Resolution{Closed: true, Outcomes: []string{"blue "}, Winner: 0})
	require.NoError(t, err)
	assert.Equal(t, uint8(2), idx)

	m.OutcomeNames = nil
	_, err = MapOutcome(m, polymarket.Resolution{Closed: true, Outcomes: []string{"a", "b", "c", "d"}, Winner: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestDedup(t *testing.T) {
	clock := &fixedClock{now: time.Unix(0, 0)}
	d := NewDedup(time.Minute, clock)
	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("a"))

	clock.now = clock.now.Add(2 * time.Minute)
	d.Cleanup()
	assert.False(t, d.Seen("a"))

	d.Forget("a")
	assert.False(t, d.Seen("a"))
}
