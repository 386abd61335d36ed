package domain

import (
	"math"
	"strconv"
)

// MinorUnitsPerMajor is the number of minor units (centavos) in one major unit.
const MinorUnitsPerMajor = 100

// DefaultCurrency is the ISO 4217 code orders are priced in.
const DefaultCurrency = "PHP"

// Money is an amount expressed in minor currency units.
type Money int64

// Add returns m+other and false when the result overflows.
func (m Money) Add(other Money) (Money, bool) {
	if (other > 0 && m > math.MaxInt64-other) || (other < 0 && m < math.MinInt64-other) {
		return 0, false
	}
	return m + other, true
}

// Times returns m*quantity and false when the result overflows.
func (m Money) Times(quantity int) (Money, bool) {
	if quantity == 0 || m == 0 {
		return 0, true
	}
	q := int64(quantity)
	product := int64(m) * q
	if product/q != int64(m) {
		return 0, false
	}
	return Money(product), true
}

// Major formats m as a major-unit decimal string with two fractional digits.
func (m Money) Major() string {
	value := int64(m)
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	whole := value / MinorUnitsPerMajor
	frac := value % MinorUnitsPerMajor
	fracStr := strconv.FormatInt(frac, 10)
	if frac < 10 {
		fracStr = "0" + fracStr
	}
	return sign + strconv.FormatInt(whole, 10) + "." + fracStr
}

// String implements fmt.Stringer.
func (m Money) String() string { return m.Major() }

// Major converts a whole number of major units into Money.
func Major(units int64) Money { return Money(units * MinorUnitsPerMajor) }
