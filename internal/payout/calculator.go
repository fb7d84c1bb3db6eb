// Package payout converts market pool state into fee and payout amounts.
// Every function is pure; callers decide what to transfer.
package payout

import (
	"fmt"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// FeeSplit is the single-shot fee distribution of a resolved market.
type FeeSplit struct {
	Creator uint64 `json:"creator"`
	Dev     uint64 `json:"dev"`
	Burn    uint64 `json:"burn"`
}

// Total is the amount leaving the pool as fees.
func (f FeeSplit) Total() uint64 { return f.Creator + f.Dev + f.Burn }

// Claim is what a winning vote is owed.
type Claim struct {
	// Payout goes to the voter.
	Payout uint64 `json:"payout"`
	// Fee goes to the dev account alongside the payout (locked policy only).
	Fee uint64 `json:"fee"`
}

func winner(m domain.Market) (uint8, error) {
	if m.WinningOutcome == nil {
		return 0, fmt.Errorf("payout: market %s: %w", m.ID, domain.ErrOutcomeNotSet)
	}
	w := *m.WinningOutcome
	if w >= m.OutcomeCount {
		return 0, fmt.Errorf("payout: market %s winner %d: %w", m.ID, w, domain.ErrInvalidOutcome)
	}
	return w, nil
}

// LosingTotal sums the real stake on every outcome except w.
func LosingTotal(m domain.Market, w uint8) (uint64, error) {
	var losing uint64
	for i := uint8(0); i < m.OutcomeCount; i++ {
		if i == w {
			continue
		}
		var err error
		if losing, err = Add(losing, m.RealTotal(i)); err != nil {
			return 0, err
		}
	}
	return losing, nil
}

// Fees computes the fee distribution owed by a resolved market.
func Fees(m domain.Market) (FeeSplit, error) {
	switch m.Policy.Kind {
	case domain.PolicyFeeSchedule:
		return scheduleFees(m.TotalPool, m.Fees)
	case domain.PolicyLosingPool:
		w, err := winner(m)
		if err != nil {
			return FeeSplit{}, err
		}
		losing, err := LosingTotal(m, w)
		if err != nil {
			return FeeSplit{}, err
		}
		var split FeeSplit
		if split.Creator, err = Bps(losing, m.Policy.CreatorBps); err != nil {
			return FeeSplit{}, err
		}
		if split.Burn, err = Bps(losing, m.Policy.BurnBps); err != nil {
			return FeeSplit{}, err
		}
		return split, nil
	case domain.PolicyLocked:
		// Locked markets pay their fee per claim.
		return FeeSplit{}, nil
	default:
		return FeeSplit{}, fmt.Errorf("payout: fees for %q: %w", m.Policy.Kind, domain.ErrInvalidPolicy)
	}
}

func scheduleFees(pool uint64, fees domain.FeeSchedule) (FeeSplit, error) {
	if err := fees.Validate(); err != nil {
		return FeeSplit{}, err
	}
	var (
		split FeeSplit
		err   error
	)
	if split.Creator, err = Bps(pool, fees.CreatorBps); err != nil {
		return FeeSplit{}, err
	}
	if split.Dev, err = Bps(pool, fees.DevBps); err != nil {
		return FeeSplit{}, err
	}
	if split.Burn, err = Bps(pool, fees.BurnBps); err != nil {
		return FeeSplit{}, err
	}
	return split, nil
}

// Distributable is the part of a fee-schedule pool shared among winners.
func Distributable(pool uint64, fees domain.FeeSchedule) (uint64, error) {
	if err := fees.Validate(); err != nil {
		return 0, err
	}
	return MulDiv(pool, uint64(domain.MaxBps-fees.Total()), domain.MaxBps)
}

// Payout computes the claim owed to v on a resolved, non-cancelled market.
func Payout(m domain.Market, v domain.VoteRecord) (Claim, error) {
	w, err := winner(m)
	if err != nil {
		return Claim{}, err
	}
	if v.OutcomeIndex != w {
		return Claim{}, fmt.Errorf("payout: vote on %d, winner %d: %w", v.OutcomeIndex, w, domain.ErrLoser)
	}

	switch m.Policy.Kind {
	case domain.PolicyFeeSchedule:
		winningTotal := m.OutcomeTotals[w]
		if winningTotal == 0 {
			return Claim{}, fmt.Errorf("payout: market %s: %w", m.ID, domain.ErrNoWinners)
		}
		distributable, err := Distributable(m.TotalPool, m.Fees)
		if err != nil {
			return Claim{}, err
		}
		amount, err := MulDiv(v.Amount, distributable, winningTotal)
		if err != nil {
			return Claim{}, err
		}
		return Claim{Payout: amount}, nil

	case domain.PolicyLosingPool:
		winningTotal := m.OutcomeTotals[w]
		if winningTotal == 0 {
			return Claim{}, fmt.Errorf("payout: market %s: %w", m.ID, domain.ErrNoWinners)
		}
		losing, err := LosingTotal(m, w)
		if err != nil {
			return Claim{}, err
		}
		winnerPool, err := Bps(losing, m.Policy.PayoutBps)
		if err != nil {
			return Claim{}, err
		}
		shareBps, err := MulDiv(v.Amount, domain.MaxBps, winningTotal)
		if err != nil {
			return Claim{}, err
		}
		winnings, err := MulDiv(winnerPool, shareBps, domain.MaxBps)
		if err != nil {
			return Claim{}, err
		}
		amount, err := Add(v.Amount, winnings)
		if err != nil {
			return Claim{}, err
		}
		return Claim{Payout: amount}, nil

	case domain.PolicyLocked:
		return Claim{Payout: v.LockedPayout, Fee: v.LockedFee}, nil

	default:
		return Claim{}, fmt.Errorf("payout: claim for %q: %w", m.Policy.Kind, domain.ErrInvalidPolicy)
	}
}

// Lock computes the bet-time-locked payout and fee for a new stake of amount
// on outcome idx, priced against the pool before the stake is added.
func Lock(m domain.Market, idx uint8, amount uint64) (payout, fee uint64, err error) {
	if idx >= m.OutcomeCount {
		return 0, 0, fmt.Errorf("payout: lock outcome %d: %w", idx, domain.ErrInvalidOutcome)
	}
	outcomeTotal := m.OutcomeTotals[idx]
	if outcomeTotal == 0 {
		payout = amount
	} else {
		pot, err := Sum(m.OutcomeTotals[:m.OutcomeCount]...)
		if err != nil {
			return 0, 0, err
		}
		payout, err = Ratio(
			[]uint64{amount, uint64(m.Policy.LockedPayoutBps), pot},
			[]uint64{domain.MaxBps, outcomeTotal},
		)
		if err != nil {
			return 0, 0, err
		}
	}
	fee, err = Bps(payout, m.Policy.LockedFeeBps)
	if err != nil {
		return 0, 0, err
	}
	return payout, fee, nil
}

// ExitRefund is the early-exit refund for a stake.
func ExitRefund(stake uint64, exitBps uint16) (uint64, error) {
	return Bps(stake, exitBps)
}

// Outstanding sums what unclaimed votes can still withdraw from the market's
// custody. Sweeps never touch this amount. On an open market every stake can
// still be refunded, and a locked stake can still win its locked payout, so
// each vote counts the larger of the two.
func Outstanding(m domain.Market, votes []domain.VoteRecord) (uint64, error) {
	var owed uint64
	for _, v := range votes {
		if v.Claimed || v.Amount == 0 {
			continue
		}
		var due uint64
		switch {
		case m.Cancelled():
			due = v.Amount
		case m.State == domain.MarketOpen:
			due = v.Amount
			if m.Policy.Kind == domain.PolicyLocked {
				locked, err := Add(v.LockedPayout, v.LockedFee)
				if err != nil {
					return 0, err
				}
				due = max(due, locked)
			}
		case m.WinningOutcome != nil && v.OutcomeIndex == *m.WinningOutcome:
			c, err := Payout(m, v)
			if err != nil {
				return 0, err
			}
			due = c.Payout + c.Fee
		default:
			continue
		}
		var err error
		if owed, err = Add(owed, due); err != nil {
			return 0, err
		}
	}
	return owed, nil
}

// Quote projects the payout of a hypothetical stake on idx if idx wins,
// assuming no further bets.
func Quote(m domain.Market, idx uint8, amount uint64) (Claim, error) {
	if idx >= m.OutcomeCount {
		return Claim{}, fmt.Errorf("payout: quote outcome %d: %w", idx, domain.ErrInvalidOutcome)
	}
	v := domain.VoteRecord{MarketID: m.ID, OutcomeIndex: idx, Amount: amount}
	if m.Policy.Kind == domain.PolicyLocked {
		p, f, err := Lock(m, idx, amount)
		if err != nil {
			return Claim{}, err
		}
		return Claim{Payout: p, Fee: f}, nil
	}
	var err error
	if m.OutcomeTotals[idx], err = Add(m.OutcomeTotals[idx], amount); err != nil {
		return Claim{}, err
	}
	if m.TotalPool, err = Add(m.TotalPool, amount); err != nil {
		return Claim{}, err
	}
	w := idx
	m.WinningOutcome = &w
	return Payout(m, v)
}
