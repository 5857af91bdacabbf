package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// Money is a monetary amount in nano-dollars (1e-9 USD). Integer units keep
// accrual exact regardless of the order in which costs are added.
type Money int64

const nanosPerDollar = 1e9

// FromDollars converts a dollar amount, rounding to the nearest nano-dollar.
// Amounts beyond the int64 range saturate; NaN converts to zero.
func FromDollars(d float64) Money {
	n := math.Round(d * nanosPerDollar)
	switch {
	case math.IsNaN(n):
		return 0
	case n >= math.MaxInt64:
		return math.MaxInt64
	case n <= math.MinInt64:
		return math.MinInt64
	}
	return Money(n)
}

// Dollars returns the amount as floating-point dollars.
func (m Money) Dollars() float64 {
	return float64(m) / nanosPerDollar
}

func (m Money) String() string {
	return fmt.Sprintf("$%.6f", m.Dollars())
}

// MarshalJSON encodes the amount as dollars.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Dollars())
}

// UnmarshalJSON decodes a dollar amount.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d float64
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	*m = FromDollars(d)
	return nil
}
