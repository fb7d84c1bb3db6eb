package domain

import (
	"context"
	"time"
)

// Ledger custodies staked assets. Implementations must apply each call
// atomically with the unit of work that handed them out.
type Ledger interface {
	Transfer(ctx context.Context, from, to Account, authority Identity, amount uint64) error
	Burn(ctx context.Context, mint string, from Account, authority Identity, amount uint64) error
	Balance(ctx context.Context, account Account) (uint64, error)
}

// Funder credits accounts from outside the settlement flow (dev faucet, fixtures).
type Funder interface {
	Credit(ctx context.Context, account Account, amount uint64) error
}

// EntryKind tags a ledger journal row.
type EntryKind string

const (
	EntryTransfer EntryKind = "transfer"
	EntryBurn     EntryKind = "burn"
	EntryCredit   EntryKind = "credit"
)

// LedgerEntry is one applied ledger movement.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	Kind      EntryKind `json:"kind"`
	From      Account   `json:"from,omitempty"`
	To        Account   `json:"to,omitempty"`
	Mint      string    `json:"mint,omitempty"`
	Authority Identity  `json:"authority,omitempty"`
	Amount    uint64    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerJournal reads applied ledger movements touching an account, newest first.
type LedgerJournal interface {
	Entries(ctx context.Context, account Account, opts ListOpts) ([]LedgerEntry, error)
}
