package token

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ParseUnits converts a human amount ("98.9") into base units for the given decimals.
// Fractions finer than the token's precision are rejected rather than rounded.
func ParseUnits(amount string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: negative", amount)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", amount, decimals)
	}

	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("invalid amount %q: exceeds 256 bits", amount)
	}
	return v, nil
}

// MustParseUnits is ParseUnits for constants and fixtures
func MustParseUnits(amount string, decimals uint8) *uint256.Int {
	v, err := ParseUnits(amount, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders base units as a human amount without trailing zeros
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}

// Ether is shorthand for an 18-decimal amount
func Ether(amount string) *uint256.Int {
	return MustParseUnits(amount, 18)
}
