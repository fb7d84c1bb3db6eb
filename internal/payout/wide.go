package payout

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// maxFactors bounds each side of a ratio so the product always fits in 256 bits.
const maxFactors = 4

// Ratio computes floor(Π nums / Π dens) in 256-bit arithmetic. Every
// multiplication happens before the single division.
func Ratio(nums []uint64, dens []uint64) (uint64, error) {
	if len(nums) > maxFactors || len(dens) > maxFactors {
		return 0, fmt.Errorf("payout: ratio with %d/%d factors: %w", len(nums), len(dens), domain.ErrOverflow)
	}
	n := uint256.NewInt(1)
	for _, x := range nums {
		n.Mul(n, uint256.NewInt(x))
	}
	d := uint256.NewInt(1)
	for _, x := range dens {
		d.Mul(d, uint256.NewInt(x))
	}
	if d.IsZero() {
		return 0, fmt.Errorf("payout: division by zero: %w", domain.ErrOverflow)
	}
	q := new(uint256.Int).Div(n, d)
	if !q.IsUint64() {
		return 0, fmt.Errorf("payout: result exceeds 64 bits: %w", domain.ErrOverflow)
	}
	return q.Uint64(), nil
}

// MulDiv computes floor(a*b/d).
func MulDiv(a, b, d uint64) (uint64, error) {
	return Ratio([]uint64{a, b}, []uint64{d})
}

// Bps applies a basis-point rate to amount, rounding down.
func Bps(amount uint64, bps uint16) (uint64, error) {
	return MulDiv(amount, uint64(bps), domain.MaxBps)
}

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("payout: %d + %d: %w", a, b, domain.ErrOverflow)
	}
	return sum, nil
}

// Sub returns a-b or ErrOverflow when b > a.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("payout: %d - %d: %w", a, b, domain.ErrOverflow)
	}
	return diff, nil
}

// Sum adds every value, failing on overflow.
func Sum(values ...uint64) (uint64, error) {
	var total uint64
	for _, v := range values {
		var err error
		if total, err = Add(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}
