// Package money centralizes decimal arithmetic for monetary amounts.
// Floating point never touches ledger or balance math.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Parse converts a decimal string ("0.001") into an amount.
func Parse(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return d, nil
}

// ClampFloor returns value, raised to floor when it falls below it.
func ClampFloor(value, floor decimal.Decimal) decimal.Decimal {
	if value.LessThan(floor) {
		return floor
	}
	return value
}
