// Package money provides the decimal-backed monetary type shared by the
// decision core's pure packages. Prices, costs, fees and profit are never
// represented as float64 here — the core does financial arithmetic and
// floats invite silent drift across thousands of transitions.
package money

import (
	"github.com/shopspring/decimal"
)

// Amount wraps decimal.Decimal with the handful of helpers the decision
// core actually needs. It is a thin value type, not an abstraction layer:
// callers that need the full decimal API can call Dec() and use it directly.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a float64. Used at the boundary where external
// data (scenario fixtures, JSON payloads) enters the core.
func New(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f)}
}

// NewFromString parses a decimal string exactly, with no float round-trip.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, err
	}
	return Amount{d: d}, nil
}

// Dec exposes the underlying decimal.Decimal for callers that need it.
func (a Amount) Dec() decimal.Decimal { return a.d }

// Float64 converts back to float64 for legacy call sites and JSON output
// where full decimal precision isn't required (status payloads, logging).
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Mul(b Amount) Amount { return Amount{d: a.d.Mul(b.d)} }

// Div divides by b, returning Zero if b is zero (callers in this domain
// always guard zero-division explicitly upstream; this is a safe fallback,
// not a substitute for that guard).
func (a Amount) Div(b Amount) Amount {
	if b.d.IsZero() {
		return Zero
	}
	return Amount{d: a.d.Div(b.d)}
}

func (a Amount) Neg() Amount { return Amount{d: a.d.Neg()} }
func (a Amount) Abs() Amount { return Amount{d: a.d.Abs()} }

func (a Amount) IsZero() bool         { return a.d.IsZero() }
func (a Amount) IsPositive() bool     { return a.d.Sign() > 0 }
func (a Amount) IsNegative() bool     { return a.d.Sign() < 0 }
func (a Amount) GreaterThan(b Amount) bool    { return a.d.Cmp(b.d) > 0 }
func (a Amount) GreaterOrEqual(b Amount) bool { return a.d.Cmp(b.d) >= 0 }
func (a Amount) LessThan(b Amount) bool       { return a.d.Cmp(b.d) < 0 }
func (a Amount) LessOrEqual(b Amount) bool    { return a.d.Cmp(b.d) <= 0 }
func (a Amount) Equal(b Amount) bool          { return a.d.Equal(b.d) }

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Clamp restricts v to [lo, hi], tolerating an inverted bound pair.
func Clamp(v, lo, hi Amount) Amount {
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	return Max(lo, Min(v, hi))
}

func (a Amount) String() string { return a.d.String() }

// MarshalJSON emits the amount as a decimal-precision JSON number.
func (a Amount) MarshalJSON() ([]byte, error) { return a.d.MarshalJSON() }

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	a.d = d
	return nil
}
