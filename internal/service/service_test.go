package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/market"
	"github.com/alanyoungcy/polybet/internal/settlement"
	"github.com/alanyoungcy/polybet/internal/store/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mapCache struct {
	mu sync.Mutex
	m  map[string]domain.Market
}

func (c *mapCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[m.ID] = m
	return nil
}

func (c *mapCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

type chanNotifier chan domain.SettlementEvent

func (n chanNotifier) NotifySettlement(_ context.Context, ev domain.SettlementEvent) error {
	n <- ev
	return nil
}

type env struct {
	ctx   context.Context
	store *memory.Store
	coord *settlement.Coordinator
	bus   *LocalBus
	cache *mapCache
	notes chanNotifier
	svc   *MarketService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		ctx:   context.Background(),
		store: memory.New(),
		bus:   NewLocalBus(),
		cache: &mapCache{m: map[string]domain.Market{}},
		notes: make(chanNotifier, 64),
	}
	pub := NewEventPublisher(e.bus, e.store.Markets(), e.cache, e.notes, discard)
	e.coord = settlement.NewCoordinator(settlement.Deps{Store: e.store, Events: pub, Audit: e.store})
	e.svc = NewMarketService(e.store, e.store, e.cache, 6, discard)

	_, err := e.coord.InitProtocol(e.ctx, "admin", settlement.ProtocolInit{
		BurnMint: "POLY",
		Fees:     domain.FeeSchedule{CreatorBps: 500, DevBps: 200, BurnBps: 300},
	})
	require.NoError(t, err)
	for _, u := range []domain.Identity{"alice", "bob"} {
		require.NoError(t, e.store.Credit(e.ctx, domain.UserAccount(u), 1_000))
	}
	return e
}

func (e *env) market(t *testing.T) domain.Market {
	t.Helper()
	m, err := e.coord.InitMarket(e.ctx, "creator", market.Params{
		Question:     "Rain tomorrow?",
		OutcomeNames: []string{"Yes", "No"},
		OutcomeCount: 2,
		EndTime:      time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return m
}

func TestEventPublisher_FansOut(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	live, err := e.bus.Subscribe(ctx, domain.SettlementChannelPattern)
	require.NoError(t, err)

	m := e.market(t)
	_, err = e.coord.PlaceBet(e.ctx, "alice", m.ID, 0, 100)
	require.NoError(t, err)

	var got domain.SettlementEvent
	for got.Type != domain.EventBetPlaced {
		select {
		case raw := <-live:
			require.NoError(t, json.Unmarshal(raw, &got))
		case <-time.After(time.Second):
			t.Fatal("no bet_placed event on the bus")
		}
	}
	assert.Equal(t, m.ID, got.MarketID)
	assert.Equal(t, uint64(100), got.Amount)

	cached, err := e.cache.Get(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cached.TotalPool)

	stream, err := e.bus.StreamRead(e.ctx, domain.SettlementStream, "0", 100)
	require.NoError(t, err)
	require.Len(t, stream, 3)

	seen := map[domain.EventType]bool{}
	for len(seen) < 3 {
		select {
		case ev := <-e.notes:
			seen[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatalf("notifications missing, got %v", seen)
		}
	}
}

func TestMarketService_Reads(t *testing.T) {
	e := newEnv(t)
	m := e.market(t)
	_, err := e.coord.PlaceBet(e.ctx, "alice", m.ID, 0, 100)
	require.NoError(t, err)
	_, err = e.coord.PlaceBet(e.ctx, "bob", m.ID, 1, 100)
	require.NoError(t, err)

	q, err := e.svc.Quote(e.ctx, m.ID, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(135), q.Payout)
	assert.Equal(t, "0.000135", q.Display)

	_, err = e.svc.Quote(e.ctx, m.ID, 5, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	votes, err := e.svc.Votes(e.ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, votes, 2)

	v, err := e.svc.Vote(e.ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v.OutcomeIndex)

	_, err = e.svc.Votes(e.ctx, "missing", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	acct, err := e.svc.Account(e.ctx, domain.UserAccount("alice"), domain.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, uint64(900), acct.Balance)
	assert.Len(t, acct.Entries, 2)

	view := e.svc.View(m)
	assert.Equal(t, []string{"0.000000", "0.000000"}, view.TotalsDisplay)
}

func TestLocalBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewLocalBus()
	exact, err := b.Subscribe(ctx, "settlement:protocol")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "settlement:market:m1", []byte("a")))
	require.NoError(t, b.Publish(ctx, "settlement:protocol", []byte("b")))
	assert.Equal(t, []byte("b"), <-exact)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.StreamAppend(ctx, "s", []byte{byte(i)}))
	}
	msgs, err := b.StreamRead(ctx, "s", "1-0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "3-0", msgs[1].ID)

	cancel()
	_, open := <-exact
	assert.False(t, open)
}
