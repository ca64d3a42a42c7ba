package calculator

import (
	"math"

	"github.com/shopspring/decimal"
)

// Bounds on the amounts a table accepts. Every unit price, line total, tax
// and tip must stay at or below MaxAmount, so sums of cents never come close
// to overflowing int64 or losing float64 precision.
const (
	MaxAmount   = 1_000_000_000
	MaxQuantity = 1_000_000
)

var hundred = decimal.NewFromInt(100)

// Cents converts an amount to integer minor units, rounding half away from
// zero. Amounts must be within MaxAmount.
func Cents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Round(2).Mul(hundred).IntPart()
}

// Amount converts minor units back to a float amount with two decimals.
func Amount(cents int64) float64 {
	f, _ := decimal.New(cents, -2).Float64()
	return f
}

// RoundCents rounds an amount to two decimals.
func RoundCents(amount float64) float64 {
	return Amount(Cents(amount))
}

// InRange reports whether amount is finite and within [0, MaxAmount].
func InRange(amount float64) bool {
	return !math.IsNaN(amount) && !math.IsInf(amount, 0) && amount >= 0 && amount <= MaxAmount
}

// LineInRange reports whether a line of qty units at price stays within the
// bounds: price in range, qty in [1, MaxQuantity], line total <= MaxAmount.
func LineInRange(price float64, qty int) bool {
	if !InRange(price) || qty < 1 || qty > MaxQuantity {
		return false
	}
	return Cents(price)*int64(qty) <= MaxAmount*100
}
