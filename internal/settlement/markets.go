package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/market"
)

// InitMarket creates a market. The caller becomes its authority unless
// p.Authority names another identity. Locked markets settle from the shared
// treasury, so only the protocol authority may create them.
func (c *Coordinator) InitMarket(ctx context.Context, caller domain.Identity, p market.Params) (domain.Market, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Authority.IsZero() {
		p.Authority = caller
	}
	if p.Creator.IsZero() {
		p.Creator = caller
	}
	if !p.Oracle.IsZero() {
		if c.verifier == nil {
			return domain.Market{}, fmt.Errorf("settlement: init_market: oracle markets disabled: %w", domain.ErrInvalidMarket)
		}
		oracle, err := c.verifier.Normalize(p.Oracle)
		if err != nil {
			return domain.Market{}, fmt.Errorf("settlement: init_market: oracle %q: %w", p.Oracle, err)
		}
		p.Oracle = oracle
	}

	var out domain.Market
	err := c.run(ctx, "init_market", domain.MarketScope(p.ID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		if caller.IsZero() {
			return nil, domain.ErrUnauthorized
		}
		cfg, err := c.protocol(ctx, tx)
		if err != nil {
			return nil, err
		}
		if p.Policy.Kind == domain.PolicyLocked {
			if err := c.requireAuthority(caller, cfg.Authority); err != nil {
				return nil, err
			}
		}
		m, err := market.New(p, cfg, now)
		if err != nil {
			return nil, err
		}
		if err := tx.Markets().Create(ctx, m); err != nil {
			return nil, err
		}
		out = m
		return []domain.SettlementEvent{{
			Type:     domain.EventMarketCreated,
			MarketID: m.ID,
			User:     caller,
			Amount:   m.VirtualSeed,
			Detail: map[string]any{
				"policy":   string(m.Policy.Kind),
				"outcomes": m.OutcomeCount,
				"end_time": m.EndTime,
			},
		}}, nil
	})
	return out, err
}

// Resolve sets the winning outcome on behalf of the market authority.
func (c *Coordinator) Resolve(ctx context.Context, caller domain.Identity, marketID string, outcome uint8) (domain.Market, error) {
	return c.resolve(ctx, "resolve", marketID, outcome, func(m domain.Market) error {
		return c.requireAuthority(caller, m.Authority)
	})
}

// ResolveWithAttestation sets the winning outcome from an oracle signature
// over (marketID, outcome).
func (c *Coordinator) ResolveWithAttestation(ctx context.Context, marketID string, outcome uint8, signature []byte) (domain.Market, error) {
	return c.resolve(ctx, "resolve_oracle", marketID, outcome, func(m domain.Market) error {
		if m.Oracle.IsZero() || c.verifier == nil {
			return fmt.Errorf("market %s has no oracle: %w", m.ID, domain.ErrUnauthorized)
		}
		signer, err := c.verifier.Recover(m.ID, outcome, signature)
		if err != nil {
			return err
		}
		if signer != m.Oracle {
			return fmt.Errorf("signed by %s, oracle is %s: %w", signer, m.Oracle, domain.ErrUnauthorized)
		}
		return nil
	})
}

func (c *Coordinator) resolve(ctx context.Context, name, marketID string, outcome uint8, authorize func(domain.Market) error) (domain.Market, error) {
	var out domain.Market
	err := c.run(ctx, name, domain.MarketScope(marketID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		m, err := tx.Markets().GetByID(ctx, marketID)
		if err != nil {
			return nil, err
		}
		if err := authorize(m); err != nil {
			return nil, err
		}
		if err := market.Resolve(&m, outcome, now); err != nil {
			return nil, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return nil, err
		}
		out = m
		return []domain.SettlementEvent{{
			Type:     domain.EventMarketResolved,
			MarketID: m.ID,
			Outcome:  outcomePtr(outcome),
			Amount:   m.TotalPool,
			Detail:   map[string]any{"via": name},
		}}, nil
	})
	return out, err
}

// Cancel cancels an unresolved market; every vote becomes refundable.
func (c *Coordinator) Cancel(ctx context.Context, caller domain.Identity, marketID string) (domain.Market, error) {
	var out domain.Market
	err := c.run(ctx, "cancel", domain.MarketScope(marketID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		m, err := tx.Markets().GetByID(ctx, marketID)
		if err != nil {
			return nil, err
		}
		if err := c.requireAuthority(caller, m.Authority); err != nil {
			return nil, err
		}
		if err := market.Cancel(&m, now); err != nil {
			return nil, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return nil, err
		}
		out = m
		return []domain.SettlementEvent{{Type: domain.EventMarketCancelled, MarketID: m.ID, Amount: m.TotalPool}}, nil
	})
	return out, err
}

// SetPaused pauses or unpauses betting and early exits.
func (c *Coordinator) SetPaused(ctx context.Context, caller domain.Identity, marketID string, paused bool) (domain.Market, error) {
	name, evType := "unpause", domain.EventMarketUnpaused
	if paused {
		name, evType = "pause", domain.EventMarketPaused
	}
	var out domain.Market
	err := c.run(ctx, name, domain.MarketScope(marketID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		m, err := tx.Markets().GetByID(ctx, marketID)
		if err != nil {
			return nil, err
		}
		if err := c.requireAuthority(caller, m.Authority); err != nil {
			return nil, err
		}
		if err := market.SetPaused(&m, paused, now); err != nil {
			return nil, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return nil, err
		}
		out = m
		return []domain.SettlementEvent{{Type: evType, MarketID: m.ID}}, nil
	})
	return out, err
}
