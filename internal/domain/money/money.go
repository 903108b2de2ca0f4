// Package money converts currency amounts between decimal values and integer
// minor units (cents). Every calculation past the system boundary runs on
// Cents; decimals appear only where values enter or leave the service
// (request payloads, NUMERIC columns, gateway form fields).
package money

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when an amount is not a finite number.
var ErrInvalidAmount = errors.New("invalid money value")

// Cents is a currency amount in integer minor units.
type Cents int64

// FromFloat converts a decimal currency amount to Cents, rounding half away
// from zero. NaN and ±Inf are rejected with ErrInvalidAmount.
func FromFloat(v float64) (Cents, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidAmount
	}
	return Cents(math.Round(v * 100)), nil
}

// FromDecimal converts a decimal amount to Cents, rounding half away from
// zero to two decimal places first.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Round(2).Shift(2).IntPart())
}

// Decimal returns the amount as a decimal with two decimal places.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formats the amount with exactly two decimal places, e.g. "6.90".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}
