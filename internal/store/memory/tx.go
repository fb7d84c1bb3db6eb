package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// txState stages writes until commit. Reads fall through to committed state.
type txState struct {
	s        *Store
	protocol *domain.ProtocolConfig
	created  bool
	markets  map[string]domain.Market
	newIDs   map[string]bool
	votes    map[voteKey]domain.VoteRecord
	debits   map[domain.Account]uint64
	credits  map[domain.Account]uint64
	ops      []domain.LedgerEntry
}

var _ domain.Tx = (*txState)(nil)

func newTxState(s *Store) *txState {
	return &txState{
		s:       s,
		markets: make(map[string]domain.Market),
		newIDs:  make(map[string]bool),
		votes:   make(map[voteKey]domain.VoteRecord),
		debits:  make(map[domain.Account]uint64),
		credits: make(map[domain.Account]uint64),
	}
}

func (t *txState) Protocol() domain.ProtocolStore { return &protocolRepo{s: t.s, tx: t} }
func (t *txState) Markets() domain.MarketStore    { return &marketRepo{s: t.s, tx: t} }
func (t *txState) Votes() domain.VoteStore        { return &voteRepo{s: t.s, tx: t} }
func (t *txState) Ledger() domain.Ledger          { return &ledger{s: t.s, tx: t} }

func (t *txState) credit(a domain.Account, amount uint64) { t.credits[a] += amount }

// available is the committed balance plus staged movements.
func (t *txState) available(a domain.Account) uint64 {
	t.s.mu.Lock()
	base := t.s.balances[a]
	t.s.mu.Unlock()
	return base + t.credits[a] - t.debits[a]
}

// commit re-checks every balance against current committed state and then
// applies all staged writes, or nothing.
func (t *txState) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.created && s.protocol != nil {
		return fmt.Errorf("memory: protocol: %w", domain.ErrAlreadyExists)
	}
	for id := range t.newIDs {
		if _, ok := s.markets[id]; ok {
			return fmt.Errorf("memory: market %s: %w", id, domain.ErrAlreadyExists)
		}
	}

	next := make(map[domain.Account]uint64)
	get := func(a domain.Account) uint64 {
		if v, ok := next[a]; ok {
			return v
		}
		return s.balances[a]
	}
	for _, op := range t.ops {
		if op.From != "" {
			bal := get(op.From)
			if bal < op.Amount {
				return fmt.Errorf("memory: %s has %d, needs %d: %w", op.From, bal, op.Amount, domain.ErrInsufficientFunds)
			}
			next[op.From] = bal - op.Amount
		}
		if op.To != "" {
			next[op.To] = get(op.To) + op.Amount
		}
	}

	for a, v := range next {
		s.balances[a] = v
	}
	now := s.now()
	for _, op := range t.ops {
		op.ID = int64(len(s.journal) + 1)
		op.CreatedAt = now
		s.journal = append(s.journal, op)
		if op.Kind == domain.EntryBurn {
			s.burned[op.Mint] += op.Amount
		}
	}
	if t.protocol != nil {
		cfg := *t.protocol
		s.protocol = &cfg
	}
	for id, m := range t.markets {
		s.markets[id] = m
	}
	for k, v := range t.votes {
		s.votes[k] = v
	}
	return nil
}

type ledger struct {
	s  *Store
	tx *txState
}

var _ domain.Ledger = (*ledger)(nil)

func (l *ledger) Transfer(ctx context.Context, from, to domain.Account, authority domain.Identity, amount uint64) error {
	if l.tx == nil {
		return l.s.single("ledger:"+string(from), func(tx *txState) error {
			return (&ledger{s: l.s, tx: tx}).Transfer(ctx, from, to, authority, amount)
		})
	}
	if err := l.debit(from, authority, amount); err != nil {
		return err
	}
	l.tx.credit(to, amount)
	l.tx.ops = append(l.tx.ops, domain.LedgerEntry{Kind: domain.EntryTransfer, From: from, To: to, Authority: authority, Amount: amount})
	return nil
}

func (l *ledger) Burn(ctx context.Context, mint string, from domain.Account, authority domain.Identity, amount uint64) error {
	if l.tx == nil {
		return l.s.single("ledger:"+string(from), func(tx *txState) error {
			return (&ledger{s: l.s, tx: tx}).Burn(ctx, mint, from, authority, amount)
		})
	}
	if err := l.debit(from, authority, amount); err != nil {
		return err
	}
	l.tx.ops = append(l.tx.ops, domain.LedgerEntry{Kind: domain.EntryBurn, From: from, Mint: mint, Authority: authority, Amount: amount})
	return nil
}

func (l *ledger) debit(from domain.Account, authority domain.Identity, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("memory: ledger debit of zero: %w", domain.ErrZeroAmount)
	}
	if from.Owner() != authority {
		return fmt.Errorf("memory: %s cannot debit %s: %w", authority, from, domain.ErrUnauthorized)
	}
	if bal := l.tx.available(from); bal < amount {
		return fmt.Errorf("memory: %s has %d, needs %d: %w", from, bal, amount, domain.ErrInsufficientFunds)
	}
	l.tx.debits[from] += amount
	return nil
}

func (l *ledger) Balance(_ context.Context, account domain.Account) (uint64, error) {
	if l.tx != nil {
		return l.tx.available(account), nil
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.balances[account], nil
}
