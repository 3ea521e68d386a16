package x402

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MicroSTXPerSTX is the number of micro-STX in one STX.
const MicroSTXPerSTX = 1_000_000

var microPerSTX = decimal.NewFromInt(MicroSTXPerSTX)

// STXToMicroSTX converts a display price to micro-STX, rounding half away from zero.
func STXToMicroSTX(stx float64) decimal.Decimal {
	return decimal.NewFromFloat(stx).Mul(microPerSTX).Round(0)
}

// MicroSTXString renders STXToMicroSTX as an integer string.
func MicroSTXString(stx float64) string {
	return STXToMicroSTX(stx).StringFixed(0)
}

// ParseMicroSTX parses an integer micro-STX amount.
func ParseMicroSTX(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid micro-STX amount %q: %w", amount, err)
	}
	if !d.IsInteger() {
		return decimal.Decimal{}, fmt.Errorf("micro-STX amount %q is not an integer", amount)
	}
	return d, nil
}
