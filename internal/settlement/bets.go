package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/market"
)

// PlaceBet stakes amount on outcome for user, moving the funds into the
// market's custody in the same unit of work.
func (c *Coordinator) PlaceBet(ctx context.Context, user domain.Identity, marketID string, outcome uint8, amount uint64) (domain.VoteRecord, error) {
	var out domain.VoteRecord
	err := c.run(ctx, "place_bet", domain.MarketScope(marketID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		if user.IsZero() {
			return nil, domain.ErrUnauthorized
		}
		m, err := tx.Markets().GetByID(ctx, marketID)
		if err != nil {
			return nil, err
		}
		v, err := tx.Votes().Get(ctx, marketID, user)
		isNew := errors.Is(err, domain.ErrNotFound)
		if err != nil && !isNew {
			return nil, err
		}
		v.User = user

		if err := market.ApplyBet(&m, &v, isNew, outcome, amount, now); err != nil {
			return nil, err
		}
		if err := tx.Ledger().Transfer(ctx, domain.UserAccount(user), m.Custody, user, amount); err != nil {
			return nil, err
		}
		c.moved(ctx, "stake", amount)
		if err := tx.Markets().Update(ctx, m); err != nil {
			return nil, err
		}
		if err := tx.Votes().Upsert(ctx, v); err != nil {
			return nil, err
		}
		out = v
		return []domain.SettlementEvent{{
			Type:     domain.EventBetPlaced,
			MarketID: marketID,
			User:     user,
			Outcome:  outcomePtr(outcome),
			Amount:   amount,
			Detail: map[string]any{
				"stake":         v.Amount,
				"outcome_total": m.OutcomeTotals[outcome],
				"total_pool":    m.TotalPool,
			},
		}}, nil
	})
	return out, err
}

// EarlyExit withdraws user's whole stake before resolution at the early-exit
// rate the market was created with.
func (c *Coordinator) EarlyExit(ctx context.Context, user domain.Identity, marketID string) (uint64, error) {
	var refund uint64
	err := c.run(ctx, "early_exit", domain.MarketScope(marketID), func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		cfg, err := c.protocol(ctx, tx)
		if err != nil {
			return nil, err
		}
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
		stake, outcome := v.Amount, v.OutcomeIndex

		r, err := market.ApplyExit(&m, &v, m.ExitBps(cfg.EarlyExitBps), now)
		if err != nil {
			return nil, err
		}
		if err := c.move(ctx, tx, "exit_refund", m.Custody, domain.UserAccount(user), r); err != nil {
			return nil, err
		}
		if err := tx.Markets().Update(ctx, m); err != nil {
			return nil, err
		}
		if err := tx.Votes().Upsert(ctx, v); err != nil {
			return nil, err
		}
		refund = r
		return []domain.SettlementEvent{{
			Type:     domain.EventEarlyExit,
			MarketID: marketID,
			User:     user,
			Outcome:  outcomePtr(outcome),
			Amount:   r,
			Detail:   map[string]any{"stake": stake},
		}}, nil
	})
	return refund, err
}
