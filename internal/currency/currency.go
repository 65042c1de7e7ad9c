// Package currency converts between the mirror store's cents (2 decimal
// places) and the ledger's octas (8 decimal places). Every conversion in the
// codebase goes through here.
package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CentsDecimals = 2
	OctasDecimals = 8

	// OctasPerCent is the scale factor between the two minor units.
	OctasPerCent int64 = 1_000_000
)

// CentsToOctas is exact: every cent amount has an octa representation.
func CentsToOctas(cents int64) (int64, error) {
	if cents < 0 {
		return 0, fmt.Errorf("negative amount: %d", cents)
	}
	d := decimal.NewFromInt(cents).Shift(OctasDecimals - CentsDecimals)
	if !d.IsInteger() || d.GreaterThan(decimal.NewFromInt(maxInt64)) {
		return 0, fmt.Errorf("amount out of range: %d cents", cents)
	}
	return d.IntPart(), nil
}

// OctasToCents rounds half away from zero to the nearest cent.
func OctasToCents(octas int64) int64 {
	return decimal.NewFromInt(octas).Shift(CentsDecimals - OctasDecimals).Round(0).IntPart()
}

// FormatCents renders cents as a major-unit string, e.g. 1500 -> "15.00".
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Shift(-CentsDecimals).StringFixed(CentsDecimals)
}

// ParseMajor parses a major-unit string ("15", "15.5", "15.50") into cents.
// More than two fractional digits is rejected rather than rounded.
func ParseMajor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	cents := d.Shift(CentsDecimals)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, CentsDecimals)
	}
	return cents.IntPart(), nil
}

// RoundDiv returns round(num/den) with halves rounded up, for non-negative
// operands. Used for the average tip aggregate.
func RoundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(num).Div(decimal.NewFromInt(den)).Round(0).IntPart()
}

const maxInt64 = int64(^uint64(0) >> 1)
