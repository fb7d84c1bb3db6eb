// Package settlement orchestrates every cross-entity operation of the engine.
// Each operation runs inside one SettlementStore unit of work scoped to its
// market: guards are checked, state is mutated through the market package and
// ledger movements are issued in the same transaction, so a failure anywhere
// leaves no trace. Side effects (events, audit, metrics) run after commit.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// AttestationVerifier recovers the identity that signed an oracle resolution.
type AttestationVerifier interface {
	Recover(marketID string, outcome uint8, signature []byte) (domain.Identity, error)
	Normalize(id domain.Identity) (domain.Identity, error)
}

// EventSink receives events of committed operations.
type EventSink interface {
	Emit(ctx context.Context, events ...domain.SettlementEvent)
}

// Observer records operation outcomes and asset movements.
type Observer interface {
	Operation(op string, err error, elapsed time.Duration)
	Moved(kind string, amount uint64)
}

// Deps are the collaborators of a Coordinator. Only Store is required.
type Deps struct {
	Store    domain.SettlementStore
	Clock    domain.Clock
	Verifier AttestationVerifier
	Events   EventSink
	Audit    domain.AuditStore
	Observer Observer
	Logger   *slog.Logger

	// BootstrapAuthority, when set, is the only identity allowed to run InitProtocol.
	BootstrapAuthority domain.Identity
}

// Coordinator is the settlement engine entry point.
type Coordinator struct {
	store     domain.SettlementStore
	clock     domain.Clock
	verifier  AttestationVerifier
	events    EventSink
	audit     domain.AuditStore
	observer  Observer
	bootstrap domain.Identity
	logger    *slog.Logger
}

// NewCoordinator wires a Coordinator, defaulting optional collaborators to no-ops.
func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		store:     d.Store,
		clock:     d.Clock,
		verifier:  d.Verifier,
		events:    d.Events,
		audit:     d.Audit,
		observer:  d.Observer,
		bootstrap: d.BootstrapAuthority,
		logger:    d.Logger,
	}
	if c.clock == nil {
		c.clock = domain.SystemClock{}
	}
	if c.events == nil {
		c.events = nopSink{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "settlement")
	return c
}

type nopSink struct{}

func (nopSink) Emit(context.Context, ...domain.SettlementEvent) {}

type nopObserver struct{}

func (nopObserver) Operation(string, error, time.Duration) {}
func (nopObserver) Moved(string, uint64)                   {}

// op is the body of one unit of work. It returns the events to emit on commit.
type op func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error)

func (c *Coordinator) run(ctx context.Context, name, scope string, body op) error {
	start := time.Now()
	now := c.clock.Now()

	var events []domain.SettlementEvent
	moves := &flows{}
	err := c.store.Atomic(context.WithValue(ctx, flowKey{}, moves), scope, func(ctx context.Context, tx domain.Tx) error {
		evs, err := body(ctx, tx, now)
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	c.observer.Operation(name, err, time.Since(start))
	if err != nil {
		level := slog.LevelInfo
		if domain.KindOf(err) == domain.KindUnknown {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "settlement: operation rejected",
			slog.String("op", name),
			slog.String("scope", scope),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("settlement: %s: %w", name, err)
	}

	for i := range events {
		events[i].ID = uuid.NewString()
		events[i].At = now
	}
	c.logger.InfoContext(ctx, "settlement: operation committed",
		slog.String("op", name),
		slog.String("scope", scope),
		slog.Int("events", len(events)),
		slog.Duration("elapsed", time.Since(start)),
	)
	for _, f := range *moves {
		c.observer.Moved(f.kind, f.amount)
	}
	c.events.Emit(ctx, events...)
	c.recordAudit(ctx, events)
	return nil
}

type flowKey struct{}

// flows collects ledger movements of a unit of work so they are only
// observed once it commits.
type flows []flow

type flow struct {
	kind   string
	amount uint64
}

func (c *Coordinator) moved(ctx context.Context, kind string, amount uint64) {
	if fl, ok := ctx.Value(flowKey{}).(*flows); ok {
		*fl = append(*fl, flow{kind: kind, amount: amount})
	}
}

func (c *Coordinator) recordAudit(ctx context.Context, events []domain.SettlementEvent) {
	if c.audit == nil {
		return
	}
	for _, ev := range events {
		detail := map[string]any{"event_id": ev.ID, "amount": ev.Amount}
		if ev.MarketID != "" {
			detail["market_id"] = ev.MarketID
		}
		if ev.User != "" {
			detail["user"] = string(ev.User)
		}
		if ev.Outcome != nil {
			detail["outcome"] = *ev.Outcome
		}
		for k, v := range ev.Detail {
			detail[k] = v
		}
		if err := c.audit.Log(ctx, string(ev.Type), detail); err != nil {
			c.logger.WarnContext(ctx, "settlement: audit log failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Coordinator) protocol(ctx context.Context, tx domain.Tx) (domain.ProtocolConfig, error) {
	cfg, err := tx.Protocol().Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ProtocolConfig{}, domain.ErrProtocolNotReady
	}
	return cfg, err
}

func (c *Coordinator) requireAuthority(caller, authority domain.Identity) error {
	if caller.IsZero() || caller != authority {
		return fmt.Errorf("%q is not %q: %w", caller, authority, domain.ErrUnauthorized)
	}
	return nil
}

// move transfers amount out of custody, skipping zero amounts.
func (c *Coordinator) move(ctx context.Context, tx domain.Tx, kind string, from, to domain.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := tx.Ledger().Transfer(ctx, from, to, from.Owner(), amount); err != nil {
		return fmt.Errorf("%s transfer %s -> %s: %w", kind, from, to, err)
	}
	c.moved(ctx, kind, amount)
	return nil
}

func outcomePtr(w uint8) *uint8 { return &w }
