package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/market"
	"github.com/alanyoungcy/polybet/internal/payout"
)

// ClaimResult describes a settled claim.
type ClaimResult struct {
	Vote   domain.VoteRecord `json:"vote"`
	Payout uint64            `json:"payout"`
	Fee    uint64            `json:"fee"`
	Refund bool              `json:"refund"`
	// Fees is set when this claim triggered the market's fee distribution.
	Fees *payout.FeeSplit `json:"fees,omitempty"`
}

// DistributeFees runs the single-shot fee distribution of a resolved market.
// Destinations are fixed by the market and protocol, so any caller may trigger
// it. This is wider than a market-authority-only rule: claims auto-distribute
// on behalf of any winner, and the standalone call must not be stricter.
func (c *Coordinator) DistributeFees(ctx context.Context, marketID string) (payout.FeeSplit, error) {
	var split payout.FeeSplit
	err := c.run(ctx, "distribute_fees", domain.MarketScope(marketID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		cfg, err := c.protocol(ctx, tx)
		if err != nil {
			return nil, err
		}
		m, err := tx.Markets().GetByID(ctx, marketID)
		if err != nil {
			return nil, err
		}
		s, ev, err := c.distributeFees(ctx, tx, &m, cfg, now)
		if err != nil {
			return nil, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return nil, err
		}
		split = s
		return []domain.SettlementEvent{ev}, nil
	})
	return split, err
}

// distributeFees moves the fee split out of custody and marks m distributed.
// The caller persists m.
func (c *Coordinator) distributeFees(ctx context.Context, tx domain.Tx, m *domain.Market, cfg domain.ProtocolConfig, now time.Time) (payout.FeeSplit, domain.SettlementEvent, error) {
	if err := market.CheckDistribute(*m); err != nil {
		return payout.FeeSplit{}, domain.SettlementEvent{}, err
	}
	split, err := payout.Fees(*m)
	if err != nil {
		return payout.FeeSplit{}, domain.SettlementEvent{}, err
	}
	if err := c.move(ctx, tx, "creator_fee", m.Custody, domain.UserAccount(m.Creator), split.Creator); err != nil {
		return payout.FeeSplit{}, domain.SettlementEvent{}, err
	}
	if err := c.move(ctx, tx, "dev_fee", m.Custody, cfg.DevAccount, split.Dev); err != nil {
		return payout.FeeSplit{}, domain.SettlementEvent{}, err
	}
	if split.Burn > 0 {
		if err := tx.Ledger().Burn(ctx, cfg.BurnMint, m.Custody, m.Custody.Owner(), split.Burn); err != nil {
			return payout.FeeSplit{}, domain.SettlementEvent{}, fmt.Errorf("burn from %s: %w", m.Custody, err)
		}
		c.moved(ctx, "burn", split.Burn)
	}
	if err := market.MarkFeesDistributed(m, split.Total(), now); err != nil {
		return payout.FeeSplit{}, domain.SettlementEvent{}, err
	}
	ev := domain.SettlementEvent{
		Type:     domain.EventFeesDistributed,
		MarketID: m.ID,
		Amount:   split.Total(),
		Detail: map[string]any{
			"creator": split.Creator,
			"dev":     split.Dev,
			"burn":    split.Burn,
		},
	}
	return split, ev, nil
}

// Claim settles user's vote. On a cancelled market the full stake is
// refunded. Otherwise the market's fees are distributed first if nobody has
// done so yet; a failure there fails the claim.
func (c *Coordinator) Claim(ctx context.Context, user domain.Identity, marketID string) (ClaimResult, error) {
	var res ClaimResult
	err := c.run(ctx, "claim", domain.MarketScope(marketID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		m, err := tx.Markets().GetByID(ctx, marketID)
		if err != nil {
			return nil, err
		}
		v, err := tx.Votes().Get(ctx, marketID, user)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoActiveBet
		}
		if err != nil {
			return nil, err
		}
		if !m.Resolved() {
			return nil, domain.ErrNotResolved
		}
		if v.Claimed {
			return nil, domain.ErrAlreadyClaimed
		}

		var events []domain.SettlementEvent
		cfg, err := c.protocol(ctx, tx)
		if err != nil {
			return nil, err
		}
		if !m.Cancelled() && !m.FeesDistributed() {
			split, ev, err := c.distributeFees(ctx, tx, &m, cfg, now)
			if err != nil {
				return nil, fmt.Errorf("auto distribute fees: %w", err)
			}
			res.Fees = &split
			events = append(events, ev)
		}

		claim, err := market.ApplyClaim(m, &v, now)
		if err != nil {
			return nil, err
		}
		kind := "payout"
		if m.Cancelled() {
			kind = "refund"
		}
		if err := c.move(ctx, tx, kind, m.Custody, domain.UserAccount(user), claim.Payout); err != nil {
			return nil, err
		}
		if err := c.move(ctx, tx, "locked_fee", m.Custody, cfg.DevAccount, claim.Fee); err != nil {
			return nil, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return nil, err
		}
		if err := tx.Votes().Upsert(ctx, v); err != nil {
			return nil, err
		}

		res.Vote = v
		res.Payout = claim.Payout
		res.Fee = claim.Fee
		res.Refund = m.Cancelled()
		events = append(events, domain.SettlementEvent{
			Type:     domain.EventClaimed,
			MarketID: marketID,
			User:     user,
			Outcome:  outcomePtr(v.OutcomeIndex),
			Amount:   claim.Payout,
			Detail:   map[string]any{"refund": res.Refund, "fee": claim.Fee},
		})
		return events, nil
	})
	return res, err
}

// Sweep moves the residual custody of a settled market to the dev account
// once the cooldown has elapsed. Stakes still claimable are left in place.
func (c *Coordinator) Sweep(ctx context.Context, caller domain.Identity, marketID string) (uint64, error) {
	var swept uint64
	err := c.run(ctx, "sweep", domain.MarketScope(marketID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		cfg, err := c.protocol(ctx, tx)
		if err != nil {
			return nil, err
		}
		if err := c.requireAuthority(caller, cfg.Authority); err != nil {
			return nil, err
		}
		m, err := tx.Markets().GetByID(ctx, marketID)
		if err != nil {
			return nil, err
		}
		cooldown := m.Cooldown(cfg.SweepCooldown)
		if err := market.CheckSweep(m, cooldown, now); err != nil {
			return nil, err
		}

		var events []domain.SettlementEvent
		if !m.Cancelled() && !m.FeesDistributed() {
			_, ev, err := c.distributeFees(ctx, tx, &m, cfg, now)
			if err != nil {
				return nil, fmt.Errorf("distribute fees before sweep: %w", err)
			}
			events = append(events, ev)
		}

		votes, err := tx.Votes().ListByMarket(ctx, marketID, domain.ListOpts{})
		if err != nil {
			return nil, err
		}
		owed, err := payout.Outstanding(m, votes)
		if err != nil {
			return nil, err
		}
		balance, err := tx.Ledger().Balance(ctx, m.Custody)
		if err != nil {
			return nil, err
		}
		if balance <= owed {
			return nil, fmt.Errorf("custody %d, owed %d: %w", balance, owed, domain.ErrNoDustToSweep)
		}
		residual := balance - owed

		if err := c.move(ctx, tx, "sweep", m.Custody, cfg.DevAccount, residual); err != nil {
			return nil, err
		}
		if err := market.MarkSwept(&m, residual, cooldown, now); err != nil {
			return nil, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return nil, err
		}
		swept = residual
		events = append(events, domain.SettlementEvent{
			Type:     domain.EventMarketSwept,
			MarketID: marketID,
			User:     caller,
			Amount:   residual,
			Detail:   map[string]any{"outstanding": owed},
		})
		return events, nil
	})
	return swept, err
}
