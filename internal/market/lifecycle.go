package market

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// Resolve moves an Open (or paused) market to Resolved with winner w.
func Resolve(m *domain.Market, w uint8, now time.Time) error {
	if m.Resolved() {
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyResolved)
	}
	if w >= m.OutcomeCount {
		return fmt.Errorf("market %s: winner %d of %d: %w", m.ID, w, m.OutcomeCount, domain.ErrInvalidOutcome)
	}
	m.State = domain.MarketResolved
	m.WinningOutcome = &w
	m.ResolvedAt = &now
	m.UpdatedAt = now
	return nil
}

// Cancel moves an Open market to Cancelled, unlocking full refunds.
func Cancel(m *domain.Market, now time.Time) error {
	if m.Resolved() {
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyResolved)
	}
	m.State = domain.MarketCancelled
	m.Paused = false
	m.ResolvedAt = &now
	m.UpdatedAt = now
	return nil
}

// SetPaused toggles the paused flag of an Open market.
func SetPaused(m *domain.Market, paused bool, now time.Time) error {
	if m.Resolved() {
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyResolved)
	}
	if m.Paused == paused {
		if paused {
			return fmt.Errorf("market %s: %w", m.ID, domain.ErrMarketPaused)
		}
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrMarketNotPaused)
	}
	m.Paused = paused
	m.UpdatedAt = now
	return nil
}

// CheckDistribute reports whether the single-shot fee distribution may run.
func CheckDistribute(m domain.Market) error {
	switch {
	case m.Cancelled():
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrMarketCancelled)
	case !m.Resolved():
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrNotResolved)
	case m.FeesDistributed():
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrFeesAlreadyDistributed)
	}
	return nil
}

// MarkFeesDistributed records a completed fee distribution of paid units.
func MarkFeesDistributed(m *domain.Market, paid uint64, now time.Time) error {
	if err := CheckDistribute(*m); err != nil {
		return err
	}
	m.State = domain.MarketFeesDistributed
	m.FeesPaid = paid
	m.UpdatedAt = now
	return nil
}

// CheckSweep reports whether residual custody may be swept at now.
func CheckSweep(m domain.Market, cooldown time.Duration, now time.Time) error {
	switch {
	case !m.Resolved():
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrNotResolved)
	case m.State == domain.MarketSwept:
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadySwept)
	case m.UsesTreasury():
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrSharedCustody)
	case !now.After(m.EndTime.Add(cooldown)):
		return fmt.Errorf("market %s: eligible after %s: %w", m.ID, m.EndTime.Add(cooldown).Format(time.RFC3339), domain.ErrSweepTooEarly)
	}
	return nil
}

// MarkSwept records a sweep of amount. Resolved markets must have distributed
// their fees first.
func MarkSwept(m *domain.Market, amount uint64, cooldown time.Duration, now time.Time) error {
	if err := CheckSweep(*m, cooldown, now); err != nil {
		return err
	}
	if !m.Cancelled() && !m.FeesDistributed() {
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrFeesNotDistributed)
	}
	if amount == 0 {
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrNoDustToSweep)
	}
	m.State = domain.MarketSwept
	m.Swept = amount
	m.UpdatedAt = now
	return nil
}
