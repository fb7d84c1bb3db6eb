package domain

import (
	"fmt"
	"time"
)

// MaxBps is the basis-point denominator.
const MaxBps = 10000

const (
	DefaultCreatorBps      = 500
	DefaultDevBps          = 200
	DefaultBurnBps         = 300
	DefaultLockedPayoutBps = 9000
	DefaultLockedFeeBps    = 1100
	DefaultEarlyExitBps    = 9000
	DefaultSweepCooldown   = 30 * 24 * time.Hour
)

// FeeSchedule is a set of named basis-point fees taken from a market pool.
type FeeSchedule struct {
	CreatorBps uint16 `json:"creator_bps"`
	DevBps     uint16 `json:"dev_bps"`
	BurnBps    uint16 `json:"burn_bps"`
}

// Total is the combined basis points of every fee.
func (f FeeSchedule) Total() uint32 {
	return uint32(f.CreatorBps) + uint32(f.DevBps) + uint32(f.BurnBps)
}

func (f FeeSchedule) Validate() error {
	if f.Total() > MaxBps {
		return fmt.Errorf("fee schedule sums to %d bps: %w", f.Total(), ErrInvalidFees)
	}
	return nil
}

// ProtocolConfig is the process-wide fee schedule and administrative authority.
type ProtocolConfig struct {
	Authority       Identity      `json:"authority"`
	DevAccount      Account       `json:"dev_account"`
	TreasuryAccount Account       `json:"treasury_account"`
	BurnMint        string        `json:"burn_mint"`
	Fees            FeeSchedule   `json:"fees"`
	LockedPayoutBps uint16        `json:"locked_payout_bps"`
	LockedFeeBps    uint16        `json:"locked_fee_bps"`
	EarlyExitBps    uint16        `json:"early_exit_bps"`
	SweepCooldown   time.Duration `json:"sweep_cooldown"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (c ProtocolConfig) Validate() error {
	if c.Authority.IsZero() {
		return fmt.Errorf("protocol authority is empty: %w", ErrUnauthorized)
	}
	if c.DevAccount == "" {
		return fmt.Errorf("dev account is empty: %w", ErrInvalidFees)
	}
	if err := c.Fees.Validate(); err != nil {
		return err
	}
	if c.LockedPayoutBps > MaxBps || c.LockedFeeBps > MaxBps || c.EarlyExitBps > MaxBps {
		return fmt.Errorf("locked/exit bps above %d: %w", MaxBps, ErrInvalidFees)
	}
	if c.SweepCooldown < 0 {
		return fmt.Errorf("negative sweep cooldown: %w", ErrInvalidFees)
	}
	return nil
}

// ProtocolUpdate carries optional changes to a ProtocolConfig. Nil fields are left as is.
type ProtocolUpdate struct {
	DevAccount      *Account       `json:"dev_account,omitempty"`
	BurnMint        *string        `json:"burn_mint,omitempty"`
	CreatorBps      *uint16        `json:"creator_bps,omitempty"`
	DevBps          *uint16        `json:"dev_bps,omitempty"`
	BurnBps         *uint16        `json:"burn_bps,omitempty"`
	LockedPayoutBps *uint16        `json:"locked_payout_bps,omitempty"`
	LockedFeeBps    *uint16        `json:"locked_fee_bps,omitempty"`
	EarlyExitBps    *uint16        `json:"early_exit_bps,omitempty"`
	SweepCooldown   *time.Duration `json:"sweep_cooldown,omitempty"`
}

// Apply returns a copy of c with u applied.
func (u ProtocolUpdate) Apply(c ProtocolConfig) ProtocolConfig {
	if u.DevAccount != nil {
		c.DevAccount = *u.DevAccount
	}
	if u.BurnMint != nil {
		c.BurnMint = *u.BurnMint
	}
	if u.CreatorBps != nil {
		c.Fees.CreatorBps = *u.CreatorBps
	}
	if u.DevBps != nil {
		c.Fees.DevBps = *u.DevBps
	}
	if u.BurnBps != nil {
		c.Fees.BurnBps = *u.BurnBps
	}
	if u.LockedPayoutBps != nil {
		c.LockedPayoutBps = *u.LockedPayoutBps
	}
	if u.LockedFeeBps != nil {
		c.LockedFeeBps = *u.LockedFeeBps
	}
	if u.EarlyExitBps != nil {
		c.EarlyExitBps = *u.EarlyExitBps
	}
	if u.SweepCooldown != nil {
		c.SweepCooldown = *u.SweepCooldown
	}
	return c
}
