package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
)

type protocolRepo struct{ q querier }

const protocolColumns = `
	authority, dev_account, treasury_account, burn_mint,
	creator_bps, dev_bps, burn_bps,
	locked_payout_bps, locked_fee_bps, early_exit_bps,
	sweep_cooldown_ms, created_at, updated_at`

func (r protocolRepo) Get(ctx context.Context) (domain.ProtocolConfig, error) {
	var (
		cfg                         domain.ProtocolConfig
		authority, dev, treasury    string
		creatorBps, devBps, burnBps int32
		lockedPay, lockedFee, exit  int32
		cooldownMs                  int64
	)
	err := r.q.QueryRow(ctx, `SELECT `+protocolColumns+` FROM protocol_config WHERE id = 1`).Scan(
		&authority, &dev, &treasury, &cfg.BurnMint,
		&creatorBps, &devBps, &burnBps,
		&lockedPay, &lockedFee, &exit,
		&cooldownMs, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return domain.ProtocolConfig{}, notFound(err, "get protocol")
	}
	cfg.Authority = domain.Identity(authority)
	cfg.DevAccount = domain.Account(dev)
	cfg.TreasuryAccount = domain.Account(treasury)
	cfg.Fees = domain.FeeSchedule{CreatorBps: uint16(creatorBps), DevBps: uint16(devBps), BurnBps: uint16(burnBps)}
	cfg.LockedPayoutBps = uint16(lockedPay)
	cfg.LockedFeeBps = uint16(lockedFee)
	cfg.EarlyExitBps = uint16(exit)
	cfg.SweepCooldown = time.Duration(cooldownMs) * time.Millisecond
	return cfg, nil
}

func (r protocolRepo) Create(ctx context.Context, cfg domain.ProtocolConfig) error {
	_, err := r.q.Exec(ctx, `INSERT INTO protocol_config (`+protocolColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, protocolArgs(cfg)...)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("postgres: create protocol: %w", domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create protocol: %w", err)
	}
	return nil
}

func (r protocolRepo) Update(ctx context.Context, cfg domain.ProtocolConfig) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE protocol_config SET
			authority = $1, dev_account = $2, treasury_account = $3, burn_mint = $4,
			creator_bps = $5, dev_bps = $6, burn_bps = $7,
			locked_payout_bps = $8, locked_fee_bps = $9, early_exit_bps = $10,
			sweep_cooldown_ms = $11, created_at = $12, updated_at = $13
		WHERE id = 1`, protocolArgs(cfg)...)
	if err != nil {
		return fmt.Errorf("postgres: update protocol: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update protocol: %w", domain.ErrNotFound)
	}
	return nil
}

func protocolArgs(cfg domain.ProtocolConfig) []any {
	return []any{
		string(cfg.Authority), string(cfg.DevAccount), string(cfg.TreasuryAccount), cfg.BurnMint,
		int32(cfg.Fees.CreatorBps), int32(cfg.Fees.DevBps), int32(cfg.Fees.BurnBps),
		int32(cfg.LockedPayoutBps), int32(cfg.LockedFeeBps), int32(cfg.EarlyExitBps),
		cfg.SweepCooldown.Milliseconds(), cfg.CreatedAt, cfg.UpdatedAt,
	}
}
