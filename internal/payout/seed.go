package payout

import (
	"fmt"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// Seed splits virtual liquidity across outcomes proportionally to weights,
// rounding each share down. Empty weights mean a uniform split. The returned
// total is the sum actually seeded, which can be below liquidity.
func Seed(liquidity uint64, weights []uint64, outcomeCount uint8) (seeds [domain.MaxOutcomes]uint64, total uint64, err error) {
	if liquidity == 0 {
		return seeds, 0, nil
	}
	if outcomeCount == 0 || outcomeCount > domain.MaxOutcomes {
		return seeds, 0, domain.ErrInvalidOutcomeCount
	}
	if len(weights) == 0 {
		weights = make([]uint64, outcomeCount)
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != int(outcomeCount) {
		return seeds, 0, fmt.Errorf("payout: %d weights for %d outcomes: %w", len(weights), outcomeCount, domain.ErrInvalidWeights)
	}
	weightSum, err := Sum(weights...)
	if err != nil {
		return seeds, 0, err
	}
	if weightSum == 0 {
		return seeds, 0, fmt.Errorf("payout: zero weight sum: %w", domain.ErrInvalidWeights)
	}
	for i, w := range weights {
		if seeds[i], err = MulDiv(liquidity, w, weightSum); err != nil {
			return seeds, 0, err
		}
		total += seeds[i]
	}
	return seeds, total, nil
}
