package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	States         []MarketState
	Policy         PolicyKind
	HasExternalRef bool
	EndedBefore    *time.Time
	ListOpts
}

// ProtocolStore persists the singleton ProtocolConfig.
type ProtocolStore interface {
	Get(ctx context.Context) (ProtocolConfig, error)
	Create(ctx context.Context, cfg ProtocolConfig) error
	Update(ctx context.Context, cfg ProtocolConfig) error
}

// MarketStore persists markets.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	Update(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, filter MarketFilter) ([]Market, error)
}

// VoteStore persists vote records keyed by (market, user).
type VoteStore interface {
	Get(ctx context.Context, marketID string, user Identity) (VoteRecord, error)
	Upsert(ctx context.Context, vote VoteRecord) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]VoteRecord, error)
	ListByUser(ctx context.Context, user Identity, opts ListOpts) ([]VoteRecord, error)
}

// Tx is the set of stores visible inside one unit of work.
type Tx interface {
	Protocol() ProtocolStore
	Markets() MarketStore
	Votes() VoteStore
	Ledger() Ledger
}

// SettlementStore is the state substrate of the settlement engine. Reads made
// through the embedded Tx outside Atomic see committed state only.
type SettlementStore interface {
	Tx
	// Atomic runs fn serialized against every other Atomic call with the same
	// scope. Either all writes and ledger movements made through tx take
	// effect or none do.
	Atomic(ctx context.Context, scope string, fn func(ctx context.Context, tx Tx) error) error
}

// ProtocolScope is the Atomic scope used for protocol-level operations.
const ProtocolScope = "protocol"

// MarketScope is the Atomic scope serializing operations on one market.
func MarketScope(marketID string) string { return "market:" + marketID }

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
