// Package market holds the market state machine: creation, lifecycle
// transitions and the bet, exit and claim mutations. Every function checks
// all of its guards before it touches the market or vote it is given.
package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/payout"
)

// Params describes a market to create.
type Params struct {
	ID               string
	Authority        domain.Identity
	Creator          domain.Identity
	Question         string
	OutcomeNames     []string
	OutcomeCount     uint8
	EndTime          time.Time
	VirtualLiquidity uint64
	Weights          []uint64
	MinBet           uint64
	MaxBet           uint64
	Oracle           domain.Identity
	ExternalRef      string
	MetadataURL      string
	Policy           domain.PayoutPolicy
}

// New validates p and builds an Open market. The protocol fee schedule, exit
// rate and sweep cooldown are snapshotted so later protocol updates never
// change this market's terms.
func New(p Params, cfg domain.ProtocolConfig, now time.Time) (domain.Market, error) {
	if p.OutcomeCount < 1 || p.OutcomeCount > domain.MaxOutcomes {
		return domain.Market{}, fmt.Errorf("market: %d outcomes: %w", p.OutcomeCount, domain.ErrInvalidOutcomeCount)
	}
	if len(p.OutcomeNames) != 0 && len(p.OutcomeNames) != int(p.OutcomeCount) {
		return domain.Market{}, fmt.Errorf("market: %d names for %d outcomes: %w", len(p.OutcomeNames), p.OutcomeCount, domain.ErrInvalidMarket)
	}
	if strings.TrimSpace(p.Question) == "" {
		return domain.Market{}, fmt.Errorf("market: empty question: %w", domain.ErrInvalidMarket)
	}
	if p.ID == "" || p.Authority.IsZero() {
		return domain.Market{}, fmt.Errorf("market: missing id or authority: %w", domain.ErrInvalidMarket)
	}
	if !p.EndTime.After(now) {
		return domain.Market{}, fmt.Errorf("market: end %s: %w", p.EndTime.Format(time.RFC3339), domain.ErrEndTimeInPast)
	}
	if p.MaxBet > 0 && p.MinBet > p.MaxBet {
		return domain.Market{}, fmt.Errorf("market: min %d max %d: %w", p.MinBet, p.MaxBet, domain.ErrInvalidBounds)
	}

	policy := withDefaults(p.Policy, cfg)
	if err := policy.Validate(p.OutcomeCount); err != nil {
		return domain.Market{}, fmt.Errorf("market: %w", err)
	}

	seeds, seeded, err := payout.Seed(p.VirtualLiquidity, p.Weights, p.OutcomeCount)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market: seed: %w", err)
	}

	creator := p.Creator
	if creator.IsZero() {
		creator = p.Authority
	}
	custody := domain.VaultAccount(p.ID)
	if policy.Kind == domain.PolicyLocked {
		custody = cfg.TreasuryAccount
		if custody == "" {
			custody = domain.TreasuryAccount
		}
	}

	m := domain.Market{
		ID:            p.ID,
		Authority:     p.Authority,
		Creator:       creator,
		Question:      strings.TrimSpace(p.Question),
		OutcomeNames:  p.OutcomeNames,
		OutcomeCount:  p.OutcomeCount,
		OutcomeTotals: seeds,
		SeedTotals:    seeds,
		VirtualSeed:   seeded,
		EndTime:       p.EndTime.UTC(),
		State:         domain.MarketOpen,
		MinBet:        p.MinBet,
		MaxBet:        p.MaxBet,
		Oracle:        p.Oracle,
		ExternalRef:   p.ExternalRef,
		MetadataURL:   p.MetadataURL,
		Policy:        policy,
		Fees:          cfg.Fees,
		EarlyExitBps:  cfg.EarlyExitBps,
		SweepCooldown: cfg.SweepCooldown,
		Custody:       custody,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return m, nil
}

func withDefaults(p domain.PayoutPolicy, cfg domain.ProtocolConfig) domain.PayoutPolicy {
	switch p.Kind {
	case "":
		p.Kind = domain.PolicyFeeSchedule
	case domain.PolicyLosingPool:
		if p.PayoutBps == 0 && p.CreatorBps == 0 && p.BurnBps == 0 {
			p.PayoutBps = domain.DefaultLosingPayoutBps
			p.CreatorBps = domain.DefaultLosingCreatorBps
			p.BurnBps = domain.DefaultLosingBurnBps
		}
	case domain.PolicyLocked:
		if p.LockedPayoutBps == 0 {
			p.LockedPayoutBps = cfg.LockedPayoutBps
		}
		if p.LockedFeeBps == 0 {
			p.LockedFeeBps = cfg.LockedFeeBps
		}
	}
	return p
}

// CheckInvariant verifies total_pool == Σ outcome_totals − virtual_seed.
func CheckInvariant(m domain.Market) error {
	sum, err := payout.Sum(m.OutcomeTotals[:m.OutcomeCount]...)
	if err != nil {
		return err
	}
	seed, err := payout.Sum(m.SeedTotals[:m.OutcomeCount]...)
	if err != nil {
		return err
	}
	if seed != m.VirtualSeed || sum < seed || sum-seed != m.TotalPool {
		return fmt.Errorf("market %s: pool %d totals %d seed %d: %w", m.ID, m.TotalPool, sum, m.VirtualSeed, domain.ErrOverflow)
	}
	return nil
}
