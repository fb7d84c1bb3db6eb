package market

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/payout"
)

// CheckBet validates a stake of amount on idx against m and the caller's
// existing vote, if any.
func CheckBet(m domain.Market, existing *domain.VoteRecord, idx uint8, amount uint64, now time.Time) error {
	switch {
	case m.Cancelled():
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrMarketCancelled)
	case m.Resolved():
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyResolved)
	case m.Paused:
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrMarketPaused)
	case !now.Before(m.EndTime):
		return fmt.Errorf("market %s: ended %s: %w", m.ID, m.EndTime.Format(time.RFC3339), domain.ErrMarketClosed)
	case amount == 0:
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrZeroAmount)
	case idx >= m.OutcomeCount:
		return fmt.Errorf("market %s: outcome %d of %d: %w", m.ID, idx, m.OutcomeCount, domain.ErrInvalidOutcome)
	case amount < m.MinBet:
		return fmt.Errorf("market %s: %d < %d: %w", m.ID, amount, m.MinBet, domain.ErrBetTooSmall)
	case m.MaxBet > 0 && amount > m.MaxBet:
		return fmt.Errorf("market %s: %d > %d: %w", m.ID, amount, m.MaxBet, domain.ErrBetTooLarge)
	}
	if existing != nil {
		if existing.Claimed {
			return fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyClaimed)
		}
		if existing.OutcomeIndex != idx {
			return fmt.Errorf("market %s: vote on %d, bet on %d: %w", m.ID, existing.OutcomeIndex, idx, domain.ErrOutcomeSwitch)
		}
	}
	return nil
}

// ApplyBet adds amount on idx to m and v. isNew marks v as a fresh record.
// Under the locked policy the payout is priced before the stake is added.
func ApplyBet(m *domain.Market, v *domain.VoteRecord, isNew bool, idx uint8, amount uint64, now time.Time) error {
	var existing *domain.VoteRecord
	if !isNew {
		existing = v
	}
	if err := CheckBet(*m, existing, idx, amount, now); err != nil {
		return err
	}

	outcomeTotal, err := payout.Add(m.OutcomeTotals[idx], amount)
	if err != nil {
		return err
	}
	pool, err := payout.Add(m.TotalPool, amount)
	if err != nil {
		return err
	}
	stake, err := payout.Add(v.Amount, amount)
	if err != nil {
		return err
	}
	lockedPayout, lockedFee := v.LockedPayout, v.LockedFee
	if m.Policy.Kind == domain.PolicyLocked {
		p, f, err := payout.Lock(*m, idx, amount)
		if err != nil {
			return err
		}
		if lockedPayout, err = payout.Add(lockedPayout, p); err != nil {
			return err
		}
		if lockedFee, err = payout.Add(lockedFee, f); err != nil {
			return err
		}
	}

	m.OutcomeTotals[idx] = outcomeTotal
	m.TotalPool = pool
	m.UpdatedAt = now
	if isNew {
		v.MarketID = m.ID
		v.OutcomeIndex = idx
		v.CreatedAt = now
	}
	v.Amount = stake
	v.LockedPayout = lockedPayout
	v.LockedFee = lockedFee
	v.UpdatedAt = now
	return nil
}

// ApplyExit withdraws v from an unresolved market. The pool shrinks by the
// full stake while the returned refund is reduced by exitBps.
func ApplyExit(m *domain.Market, v *domain.VoteRecord, exitBps uint16, now time.Time) (uint64, error) {
	switch {
	case m.Resolved():
		return 0, fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyResolved)
	case m.Paused:
		return 0, fmt.Errorf("market %s: %w", m.ID, domain.ErrMarketPaused)
	case v.Claimed:
		return 0, fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyClaimed)
	case v.Amount == 0:
		return 0, fmt.Errorf("market %s: %w", m.ID, domain.ErrNoActiveBet)
	}

	refund, err := payout.ExitRefund(v.Amount, exitBps)
	if err != nil {
		return 0, err
	}
	outcomeTotal, err := payout.Sub(m.OutcomeTotals[v.OutcomeIndex], v.Amount)
	if err != nil {
		return 0, err
	}
	pool, err := payout.Sub(m.TotalPool, v.Amount)
	if err != nil {
		return 0, err
	}

	m.OutcomeTotals[v.OutcomeIndex] = outcomeTotal
	m.TotalPool = pool
	m.UpdatedAt = now
	v.Amount = 0
	v.LockedPayout = 0
	v.LockedFee = 0
	v.Claimed = true
	v.Payout = refund
	v.ClaimedAt = &now
	v.UpdatedAt = now
	return refund, nil
}

// ApplyClaim settles v against a resolved market. Cancelled markets refund
// the full stake regardless of outcome.
func ApplyClaim(m domain.Market, v *domain.VoteRecord, now time.Time) (payout.Claim, error) {
	if !m.Resolved() {
		return payout.Claim{}, fmt.Errorf("market %s: %w", m.ID, domain.ErrNotResolved)
	}
	if v.Claimed {
		return payout.Claim{}, fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyClaimed)
	}

	var claim payout.Claim
	if m.Cancelled() {
		if v.Amount == 0 {
			return payout.Claim{}, fmt.Errorf("market %s: %w", m.ID, domain.ErrNoActiveBet)
		}
		claim = payout.Claim{Payout: v.Amount}
	} else {
		var err error
		if claim, err = payout.Payout(m, *v); err != nil {
			return payout.Claim{}, err
		}
	}

	v.Claimed = true
	v.Payout = claim.Payout
	v.ClaimedAt = &now
	v.UpdatedAt = now
	return claim, nil
}
