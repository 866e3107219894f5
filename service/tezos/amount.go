package tezos

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// XTZDecimals is the number of decimal places of the native currency (1 XTZ = 1,000,000 mutez).
const XTZDecimals int32 = 6

// TokenAmount is a fixed-point amount: an integer number of the token's
// smallest unit plus the number of decimal places that unit represents.
type TokenAmount struct {
	Raw      decimal.Decimal `json:"raw"`
	Decimals int32           `json:"decimals"`
}

// NewTokenAmount builds an amount from an integer string in the smallest unit.
func NewTokenAmount(raw string, decimals int32) (TokenAmount, error) {
	if raw == "" {
		return ZeroAmount(decimals), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return TokenAmount{}, fmt.Errorf("invalid raw amount %q: %w", raw, err)
	}
	if !d.IsInteger() {
		return TokenAmount{}, fmt.Errorf("raw amount %q is not an integer", raw)
	}
	return TokenAmount{Raw: d, Decimals: decimals}, nil
}

// MustTokenAmount is like NewTokenAmount but panics on malformed input.
func MustTokenAmount(raw string, decimals int32) TokenAmount {
	a, err := NewTokenAmount(raw, decimals)
	if err != nil {
		panic(err)
	}
	return a
}

// Mutez returns an XTZ amount from an integer mutez value.
func Mutez(v int64) TokenAmount {
	return TokenAmount{Raw: decimal.NewFromInt(v), Decimals: XTZDecimals}
}

// XTZ returns an XTZ amount from a whole/fractional XTZ value, truncating
// anything smaller than one mutez.
func XTZ(v decimal.Decimal) TokenAmount {
	return FromNormalised(v, XTZDecimals)
}

// FromNormalised converts a human-readable value into a TokenAmount.
func FromNormalised(v decimal.Decimal, decimals int32) TokenAmount {
	return TokenAmount{Raw: v.Shift(decimals).Truncate(0), Decimals: decimals}
}

// ZeroAmount returns a zero amount with the given precision.
func ZeroAmount(decimals int32) TokenAmount {
	return TokenAmount{Raw: decimal.Zero, Decimals: decimals}
}

// Normalised returns the human-readable value (raw shifted by the decimals).
func (a TokenAmount) Normalised() decimal.Decimal {
	return a.Raw.Shift(-a.Decimals)
}

// IsZero reports whether the amount is zero.
func (a TokenAmount) IsZero() bool {
	return a.Raw.IsZero()
}

// Add returns a+b. Both amounts must share the same precision.
func (a TokenAmount) Add(b TokenAmount) TokenAmount {
	if a.Decimals != b.Decimals {
		return FromNormalised(a.Normalised().Add(b.Normalised()), max(a.Decimals, b.Decimals))
	}
	return TokenAmount{Raw: a.Raw.Add(b.Raw), Decimals: a.Decimals}
}

// Equal compares amounts by value, independent of internal representation.
func (a TokenAmount) Equal(b TokenAmount) bool {
	return a.Normalised().Equal(b.Normalised())
}

// String renders the normalised value.
func (a TokenAmount) String() string {
	return a.Normalised().String()
}
