package domain

import (
	"fmt"
	"time"
)

// MaxOutcomes is the largest number of outcomes a market can carry.
const MaxOutcomes = 8

// MarketState is the exclusive lifecycle state of a market. Paused is tracked
// separately because it can be toggled while the market is Open.
type MarketState string

const (
	MarketOpen            MarketState = "open"
	MarketResolved        MarketState = "resolved"
	MarketCancelled       MarketState = "cancelled"
	MarketFeesDistributed MarketState = "fees_distributed"
	MarketSwept           MarketState = "swept"
)

// PolicyKind selects the payout formula of a market.
type PolicyKind string

const (
	// PolicyFeeSchedule splits the whole pool, net of the bps fee schedule, among winners.
	PolicyFeeSchedule PolicyKind = "fee_schedule"
	// PolicyLosingPool returns winners their stake plus a share of the losing pools.
	PolicyLosingPool PolicyKind = "losing_pool"
	// PolicyLocked fixes each bet's payout at bet time and settles from the shared treasury.
	PolicyLocked PolicyKind = "locked"
)

const (
	DefaultLosingPayoutBps  = 8500
	DefaultLosingCreatorBps = 1000
	DefaultLosingBurnBps    = 500
)

// PayoutPolicy is the tagged payout variant chosen at market creation.
type PayoutPolicy struct {
	Kind PolicyKind `json:"kind"`

	// Losing-pool split.
	PayoutBps  uint16 `json:"payout_bps,omitempty"`
	CreatorBps uint16 `json:"creator_bps,omitempty"`
	BurnBps    uint16 `json:"burn_bps,omitempty"`

	// Bet-time-locked.
	LockedPayoutBps uint16 `json:"locked_payout_bps,omitempty"`
	LockedFeeBps    uint16 `json:"locked_fee_bps,omitempty"`
}

func (p PayoutPolicy) Validate(outcomeCount uint8) error {
	switch p.Kind {
	case PolicyFeeSchedule:
		return nil
	case PolicyLosingPool:
		if outcomeCount < 2 {
			return fmt.Errorf("losing pool needs at least 2 outcomes: %w", ErrInvalidPolicy)
		}
		if uint32(p.PayoutBps)+uint32(p.CreatorBps)+uint32(p.BurnBps) > MaxBps {
			return fmt.Errorf("losing pool bps exceed %d: %w", MaxBps, ErrInvalidPolicy)
		}
		return nil
	case PolicyLocked:
		if p.LockedPayoutBps > MaxBps || p.LockedFeeBps > MaxBps {
			return fmt.Errorf("locked bps exceed %d: %w", MaxBps, ErrInvalidPolicy)
		}
		return nil
	default:
		return fmt.Errorf("unknown policy %q: %w", p.Kind, ErrInvalidPolicy)
	}
}

// Market is the per-event settlement state machine.
type Market struct {
	ID             string               `json:"id"`
	Authority      Identity             `json:"authority"`
	Creator        Identity             `json:"creator"`
	Question       string               `json:"question"`
	OutcomeNames   []string             `json:"outcome_names,omitempty"`
	OutcomeCount   uint8                `json:"outcome_count"`
	OutcomeTotals  [MaxOutcomes]uint64  `json:"outcome_totals"`
	SeedTotals     [MaxOutcomes]uint64  `json:"seed_totals"`
	TotalPool      uint64               `json:"total_pool"`
	VirtualSeed    uint64               `json:"virtual_seed"`
	EndTime        time.Time            `json:"end_time"`
	State          MarketState          `json:"state"`
	Paused         bool                 `json:"paused"`
	WinningOutcome *uint8               `json:"winning_outcome,omitempty"`
	MinBet         uint64               `json:"min_bet"`
	MaxBet         uint64               `json:"max_bet"`
	Oracle         Identity             `json:"oracle,omitempty"`
	ExternalRef    string               `json:"external_ref,omitempty"`
	MetadataURL    string               `json:"metadata_url,omitempty"`
	Policy         PayoutPolicy         `json:"policy"`
	Fees           FeeSchedule          `json:"fees"`
	EarlyExitBps   uint16               `json:"early_exit_bps"`
	SweepCooldown  time.Duration        `json:"sweep_cooldown"`
	Custody        Account              `json:"custody"`
	FeesPaid       uint64               `json:"fees_paid"`
	Swept          uint64               `json:"swept"`
	ResolvedAt     *time.Time           `json:"resolved_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Resolved reports whether betting is settled, including by cancellation.
func (m Market) Resolved() bool { return m.State != MarketOpen }

// Cancelled reports whether the market was cancelled, before or after a sweep.
func (m Market) Cancelled() bool {
	return m.State == MarketCancelled || (m.State == MarketSwept && m.WinningOutcome == nil)
}

// FeesDistributed reports whether the single-shot fee distribution has run.
func (m Market) FeesDistributed() bool {
	return m.State == MarketFeesDistributed || (m.State == MarketSwept && m.WinningOutcome != nil)
}

// RealTotal is the real (non-seeded) stake on outcome i.
func (m Market) RealTotal(i uint8) uint64 { return m.OutcomeTotals[i] - m.SeedTotals[i] }

// ExitBps is the early-exit rate fixed at creation. Markets stored before the
// rate was snapshotted report fallback.
func (m Market) ExitBps(fallback uint16) uint16 {
	if m.EarlyExitBps == 0 {
		return fallback
	}
	return m.EarlyExitBps
}

// Cooldown is the sweep cooldown fixed at creation, or fallback when unset.
func (m Market) Cooldown(fallback time.Duration) time.Duration {
	if m.SweepCooldown == 0 {
		return fallback
	}
	return m.SweepCooldown
}

// UsesTreasury reports whether stakes are held in the shared treasury.
func (m Market) UsesTreasury() bool { return m.Policy.Kind == PolicyLocked }

// Outcome returns the display name of outcome i.
func (m Market) Outcome(i uint8) string {
	if int(i) < len(m.OutcomeNames) && m.OutcomeNames[i] != "" {
		return m.OutcomeNames[i]
	}
	return fmt.Sprintf("outcome-%d", i)
}
