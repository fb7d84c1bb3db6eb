package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/payout"
)

// ProtocolInit configures the singleton protocol.
type ProtocolInit struct {
	DevAccount      domain.Account
	TreasuryAccount domain.Account
	BurnMint        string
	Fees            domain.FeeSchedule
	LockedPayoutBps uint16
	LockedFeeBps    uint16
	EarlyExitBps    uint16
	SweepCooldown   time.Duration
}

// InitProtocol creates the ProtocolConfig with caller as its authority.
func (c *Coordinator) InitProtocol(ctx context.Context, caller domain.Identity, in ProtocolInit) (domain.ProtocolConfig, error) {
	var out domain.ProtocolConfig
	err := c.run(ctx, "init_protocol", domain.ProtocolScope, func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		if c.bootstrap != "" {
			if err := c.requireAuthority(caller, c.bootstrap); err != nil {
				return nil, err
			}
		}
		if caller.IsZero() {
			return nil, domain.ErrUnauthorized
		}
		cfg := domain.ProtocolConfig{
			Authority:       caller,
			DevAccount:      in.DevAccount,
			TreasuryAccount: in.TreasuryAccount,
			BurnMint:        in.BurnMint,
			Fees:            in.Fees,
			LockedPayoutBps: in.LockedPayoutBps,
			LockedFeeBps:    in.LockedFeeBps,
			EarlyExitBps:    in.EarlyExitBps,
			SweepCooldown:   in.SweepCooldown,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if cfg.DevAccount == "" {
			cfg.DevAccount = domain.UserAccount(caller)
		}
		if cfg.TreasuryAccount == "" {
			cfg.TreasuryAccount = domain.TreasuryAccount
		}
		if cfg.LockedPayoutBps == 0 {
			cfg.LockedPayoutBps = domain.DefaultLockedPayoutBps
		}
		if cfg.LockedFeeBps == 0 {
			cfg.LockedFeeBps = domain.DefaultLockedFeeBps
		}
		if cfg.EarlyExitBps == 0 {
			cfg.EarlyExitBps = domain.DefaultEarlyExitBps
		}
		if cfg.SweepCooldown == 0 {
			cfg.SweepCooldown = domain.DefaultSweepCooldown
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if err := tx.Protocol().Create(ctx, cfg); err != nil {
			return nil, err
		}
		out = cfg
		return []domain.SettlementEvent{{
			Type: domain.EventProtocolInitialized,
			User: caller,
			Detail: map[string]any{
				"creator_bps": cfg.Fees.CreatorBps,
				"dev_bps":     cfg.Fees.DevBps,
				"burn_bps":    cfg.Fees.BurnBps,
			},
		}}, nil
	})
	return out, err
}

// UpdateProtocol applies upd on behalf of the protocol authority.
func (c *Coordinator) UpdateProtocol(ctx context.Context, caller domain.Identity, upd domain.ProtocolUpdate) (domain.ProtocolConfig, error) {
	var out domain.ProtocolConfig
	err := c.run(ctx, "update_protocol", domain.ProtocolScope, func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		cfg, err := c.protocol(ctx, tx)
		if err != nil {
			return nil, err
		}
		if err := c.requireAuthority(caller, cfg.Authority); err != nil {
			return nil, err
		}
		next := upd.Apply(cfg)
		next.UpdatedAt = now
		if err := next.Validate(); err != nil {
			return nil, err
		}
		if err := tx.Protocol().Update(ctx, next); err != nil {
			return nil, err
		}
		out = next
		return []domain.SettlementEvent{{Type: domain.EventProtocolUpdated, User: caller}}, nil
	})
	return out, err
}

// SweepTreasury withdraws amount from the shared treasury to dest, or to the
// dev account when dest is empty. The treasury backs every locked market, so
// only the balance above their outstanding liabilities can leave it.
func (c *Coordinator) SweepTreasury(ctx context.Context, caller domain.Identity, amount uint64, dest domain.Account) error {
	return c.run(ctx, "sweep_treasury", domain.ProtocolScope, func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.SettlementEvent, error) {
		cfg, err := c.protocol(ctx, tx)
		if err != nil {
			return nil, err
		}
		if err := c.requireAuthority(caller, cfg.Authority); err != nil {
			return nil, err
		}
		if amount == 0 {
			return nil, domain.ErrZeroAmount
		}
		if dest == "" {
			dest = cfg.DevAccount
		}

		// Move first: the transfer holds the treasury balance until commit, so
		// bets and claims landing meanwhile are visible to the check below.
		if err := c.move(ctx, tx, "treasury_sweep", cfg.TreasuryAccount, dest, amount); err != nil {
			return nil, err
		}
		left, err := tx.Ledger().Balance(ctx, cfg.TreasuryAccount)
		if err != nil {
			return nil, err
		}
		owed, err := c.treasuryLiabilities(ctx, tx)
		if err != nil {
			return nil, err
		}
		if left < owed {
			before, err := payout.Add(left, amount)
			if err != nil {
				return nil, err
			}
			if before <= owed {
				return nil, fmt.Errorf("treasury %d, owed %d: %w", before, owed, domain.ErrNoDustToSweep)
			}
			return nil, fmt.Errorf("sweep %d, available %d: %w", amount, before-owed, domain.ErrInsufficientFunds)
		}
		return []domain.SettlementEvent{{
			Type:   domain.EventTreasurySwept,
			User:   caller,
			Amount: amount,
			Detail: map[string]any{"destination": string(dest), "outstanding": owed},
		}}, nil
	})
}

// treasuryLiabilities sums what locked markets can still draw from the shared
// treasury. Locked markets are authority-created, so one listing covers them.
func (c *Coordinator) treasuryLiabilities(ctx context.Context, tx domain.Tx) (uint64, error) {
	markets, err := tx.Markets().List(ctx, domain.MarketFilter{Policy: domain.PolicyLocked})
	if err != nil {
		return 0, fmt.Errorf("list locked markets: %w", err)
	}
	var owed uint64
	for _, m := range markets {
		votes, err := tx.Votes().ListByMarket(ctx, m.ID, domain.ListOpts{})
		if err != nil {
			return 0, err
		}
		due, err := payout.Outstanding(m, votes)
		if err != nil {
			return 0, err
		}
		if owed, err = payout.Add(owed, due); err != nil {
			return 0, err
		}
	}
	return owed, nil
}
