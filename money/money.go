/*
Package money provides fixed-precision decimal arithmetic for quota and
price quantities.

PURPOSE:
  Every quantity that crosses a tenant boundary in this service — a
  bundle's quota, an enrollment's price, a usage amount — is money in the
  sense that it must never lose precision to floating point. This package
  wraps shopspring/decimal with the rounding and parsing rules the rest of
  the service relies on.

PRECISION:
  Values carry at least 9 fractional digits. Comparisons and subtractions
  are exact (decimal, never float64). Rounding, where needed, is
  half-even (banker's rounding) to avoid systematic bias across many
  small debits.

DESIGN PRINCIPLES:
  1. Immutability: every operation returns a new Amount.
  2. Parseable from either a JSON number or a JSON string, since many
     client SDKs serialize decimals as strings to avoid float round-trip
     loss.

SEE ALSO:
  - bundle/bundle.go: Amount is the quota type backing Bundle.
*/
package money

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Precision is the minimum number of fractional digits preserved by
// RoundHalfEven.
const Precision = 9

// Amount is a decimal quantity. The zero value is zero.
type Amount struct {
	decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{decimal.Zero}

// New wraps a decimal.Decimal as an Amount.
func New(d decimal.Decimal) Amount { return Amount{d} }

// NewFromInt builds an Amount from an integer quantity.
func NewFromInt(v int64) Amount { return Amount{decimal.NewFromInt(v)} }

// Parse parses a decimal from its string form, e.g. "12.500000000".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{d}, nil
}

func (a Amount) Add(b Amount) Amount { return Amount{a.Decimal.Add(b.Decimal)} }
func (a Amount) Sub(b Amount) Amount { return Amount{a.Decimal.Sub(b.Decimal)} }

// RoundHalfEven rounds to Precision fractional digits using banker's
// rounding, matching spec.md's half-even requirement.
func (a Amount) RoundHalfEven() Amount {
	return Amount{a.Decimal.RoundBank(Precision)}
}

func (a Amount) IsZero() bool     { return a.Decimal.IsZero() }
func (a Amount) IsNegative() bool { return a.Decimal.IsNegative() }
func (a Amount) IsPositive() bool { return a.Decimal.IsPositive() }

func (a Amount) GreaterThan(b Amount) bool      { return a.Decimal.GreaterThan(b.Decimal) }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.Decimal.GreaterThanOrEqual(b.Decimal) }
func (a Amount) LessThan(b Amount) bool         { return a.Decimal.LessThan(b.Decimal) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MarshalJSON emits the amount as a JSON number string-safe form: a plain
// decimal literal, never scientific notation, never a float64 round-trip.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// UnmarshalJSON accepts either a bare JSON number (12.5) or a quoted
// string ("12.500000000"), since client SDKs differ on which they emit.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		a.Decimal = d
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return err
		}
		a.Decimal = d
	case float64:
		a.Decimal = decimal.NewFromFloat(v)
	default:
		a.Decimal = decimal.Zero
	}
	return nil
}
