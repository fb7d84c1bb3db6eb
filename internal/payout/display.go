package payout

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Display renders a base-unit amount as a fixed-point string with the
// token's decimals, e.g. Display(1_500_000, 6) == "1.500000".
func Display(amount uint64, decimals int32) string {
	return DisplayDecimal(amount, decimals).StringFixed(decimals)
}

// DisplayDecimal is the decimal value of amount at the token's decimals.
func DisplayDecimal(amount uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals)
}
