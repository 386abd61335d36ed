package handlers

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	domain "github.com/nanacafe/api/internal/domain"
)

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minorExponent = int32(2)
)

// minorFromMajor converts a major-unit amount such as 150.5 into minor units.
// Amounts with more than two significant fractional digits are rejected.
func minorFromMajor(field string, amount decimal.Decimal) (domain.Money, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	if !amount.Equal(amount.Round(minorExponent)) {
		return 0, fmt.Errorf("%s must have at most two decimal places", field)
	}
	minor := amount.Shift(minorExponent)
	if minor.GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("%s is too large", field)
	}
	return domain.Money(minor.IntPart()), nil
}

// optionalMinor converts amount when present.
func optionalMinor(field string, amount *decimal.Decimal) (*domain.Money, error) {
	if amount == nil {
		return nil, nil
	}
	minor, err := minorFromMajor(field, *amount)
	if err != nil {
		return nil, err
	}
	return &minor, nil
}
