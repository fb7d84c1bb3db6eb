package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/domain"
)

func TestAtomic_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := domain.UserAccount("alice")
	require.NoError(t, s.Credit(ctx, alice, 100))

	boom := errors.New("boom")
	err := s.Atomic(ctx, domain.MarketScope("m1"), func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Markets().Create(ctx, domain.Market{ID: "m1"}))
		require.NoError(t, tx.Ledger().Transfer(ctx, alice, domain.VaultAccount("m1"), "alice", 60))
		bal, err := tx.Ledger().Balance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), bal)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Markets().GetByID(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	bal, err := s.Ledger().Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)
	assert.Len(t, s.Journal(), 1)
}

func TestLedger_Guards(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := domain.UserAccount("alice")
	require.NoError(t, s.Credit(ctx, alice, 10))

	err := s.Ledger().Transfer(ctx, alice, domain.TreasuryAccount, "mallory", 5)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = s.Ledger().Transfer(ctx, alice, domain.TreasuryAccount, "alice", 11)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, s.Ledger().Transfer(ctx, alice, domain.TreasuryAccount, "alice", 10))
	require.NoError(t, s.Ledger().Burn(ctx, "mint", domain.TreasuryAccount, domain.ProgramAuthority, 4))
	assert.Equal(t, uint64(4), s.Burned("mint"))

	bal, err := s.Ledger().Balance(ctx, domain.TreasuryAccount)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), bal)
}

func TestAtomic_CommitRechecksSharedBalances(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := domain.UserAccount("alice")
	require.NoError(t, s.Credit(ctx, alice, 100))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []string{"m1", "m2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			results <- s.Atomic(ctx, domain.MarketScope(id), func(ctx context.Context, tx domain.Tx) error {
				return tx.Ledger().Transfer(ctx, alice, domain.VaultAccount(id), "alice", 70)
			})
		}(id)
	}
	wg.Wait()
	close(results)

	var ok, failed int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)
		failed++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)

	bal, err := s.Ledger().Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), bal)
}

func TestProtocol_CreateOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Protocol().Get(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	cfg := domain.ProtocolConfig{Authority: "admin", DevAccount: "dev"}
	require.NoError(t, s.Protocol().Create(ctx, cfg))
	require.ErrorIs(t, s.Protocol().Create(ctx, cfg), domain.ErrAlreadyExists)

	got, err := s.Protocol().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestVotes_ListSeesStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Votes().Upsert(ctx, domain.VoteRecord{MarketID: "m1", User: "alice", Amount: 1}))

	err := s.Atomic(ctx, domain.MarketScope("m1"), func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Votes().Upsert(ctx, domain.VoteRecord{MarketID: "m1", User: "bob", Amount: 2}))
		votes, err := tx.Votes().ListByMarket(ctx, "m1", domain.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, votes, 2)
		return nil
	})
	require.NoError(t, err)

	votes, err := s.Votes().ListByUser(ctx, "bob", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, uint64(2), votes[0].Amount)
}

func TestEntries_FiltersByAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice, bob := domain.UserAccount("alice"), domain.UserAccount("bob")
	require.NoError(t, s.Credit(ctx, alice, 100))
	require.NoError(t, s.Credit(ctx, bob, 100))
	require.NoError(t, s.Ledger().Transfer(ctx, alice, bob, "alice", 30))

	got, err := s.Entries(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EntryTransfer, got[0].Kind)
	assert.Equal(t, domain.EntryCredit, got[1].Kind)

	got, err = s.Entries(ctx, bob, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(30), got[0].Amount)
}

func TestMarkets_ListFiltersByPolicy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Markets().Create(ctx, domain.Market{ID: "pool", Policy: domain.PayoutPolicy{Kind: domain.PolicyLosingPool}}))
	require.NoError(t, s.Markets().Create(ctx, domain.Market{ID: "locked", Policy: domain.PayoutPolicy{Kind: domain.PolicyLocked}}))

	got, err := s.Markets().List(ctx, domain.MarketFilter{Policy: domain.PolicyLocked})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "locked", got[0].ID)

	got, err = s.Markets().List(ctx, domain.MarketFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
