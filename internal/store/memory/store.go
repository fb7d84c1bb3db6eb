// Package memory is an in-process SettlementStore used by tests and the
// single-node dev mode. Each Atomic call stages its writes and ledger
// movements and applies them in one step at commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
)

type voteKey struct {
	market string
	user   domain.Identity
}

// Store keeps every record in maps guarded by one mutex; scopes serialize
// units of work on the same market.
type Store struct {
	mu       sync.Mutex
	protocol *domain.ProtocolConfig
	markets  map[string]domain.Market
	votes    map[voteKey]domain.VoteRecord
	balances map[domain.Account]uint64
	burned   map[string]uint64
	journal  []domain.LedgerEntry
	audit    []domain.AuditEntry
	scopes   *keyedMutex
	now      func() time.Time
}

var (
	_ domain.SettlementStore = (*Store)(nil)
	_ domain.Funder          = (*Store)(nil)
	_ domain.AuditStore      = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		markets:  make(map[string]domain.Market),
		votes:    make(map[voteKey]domain.VoteRecord),
		balances: make(map[domain.Account]uint64),
		burned:   make(map[string]uint64),
		scopes:   newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Protocol() domain.ProtocolStore { return &protocolRepo{s: s} }
func (s *Store) Markets() domain.MarketStore    { return &marketRepo{s: s} }
func (s *Store) Votes() domain.VoteStore        { return &voteRepo{s: s} }
func (s *Store) Ledger() domain.Ledger          { return &ledger{s: s} }

// Atomic runs fn against a staged transaction and commits it if fn succeeds.
func (s *Store) Atomic(ctx context.Context, scope string, fn func(ctx context.Context, tx domain.Tx) error) error {
	unlock := s.scopes.Lock(scope)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTxState(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// single runs one write outside a caller-provided unit of work.
func (s *Store) single(scope string, fn func(tx *txState) error) error {
	return s.Atomic(context.Background(), scope, func(_ context.Context, t domain.Tx) error {
		return fn(t.(*txState))
	})
}

// Journal returns every applied ledger movement in order.
func (s *Store) Journal() []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LedgerEntry, len(s.journal))
	copy(out, s.journal)
	return out
}

// Burned returns the total burned under mint.
func (s *Store) Burned(mint string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burned[mint]
}

// Credit mints amount into account.
func (s *Store) Credit(ctx context.Context, account domain.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return s.single("ledger:"+string(account), func(tx *txState) error {
		tx.ops = append(tx.ops, domain.LedgerEntry{Kind: domain.EntryCredit, To: account, Amount: amount})
		tx.credit(account, amount)
		return nil
	})
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts), nil
}

// Entries returns journal rows touching account, newest first.
func (s *Store) Entries(_ context.Context, account domain.Account, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(s.journal) - 1; i >= 0; i-- {
		e := s.journal[i]
		if e.From != account && e.To != account {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

func sortVotes(votes []domain.VoteRecord) {
	sort.Slice(votes, func(i, j int) bool {
		if !votes[i].CreatedAt.Equal(votes[j].CreatedAt) {
			return votes[i].CreatedAt.Before(votes[j].CreatedAt)
		}
		if votes[i].MarketID != votes[j].MarketID {
			return votes[i].MarketID < votes[j].MarketID
		}
		return votes[i].User < votes[j].User
	})
}

func errNotFound(what string, key any) error {
	return fmt.Errorf("memory: %s %v: %w", what, key, domain.ErrNotFound)
}
