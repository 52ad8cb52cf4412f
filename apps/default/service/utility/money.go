package utility

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// decimalPrecision defines the precision for decimal truncation.
	decimalPrecision = 9

	// amountKeyPlaces is the number of places used when correlating
	// till payments by amount.
	amountKeyPlaces = 2
)

// maxDecimalValue returns the maximum decimal value supported
func maxDecimalValue() decimal.Decimal {
	return decimal.NewFromInt(math.MaxInt64).Add(decimal.New(999999999, -9))
}

func CleanDecimal(d decimal.Decimal) decimal.Decimal {
	truncatedStr := d.StringFixed(decimalPrecision)

	rounded, _ := decimal.NewFromString(truncatedStr)

	// NUMERIC(28,9) bounds
	minValue := maxDecimalValue().Neg()

	if rounded.GreaterThan(maxDecimalValue()) {
		return maxDecimalValue()
	} else if rounded.LessThan(minValue) {
		return minValue
	}

	return rounded
}

// AmountKey renders amount with a fixed number of places so that 100,
// 100.0 and 100.00 correlate to the same till payment.
func AmountKey(amount decimal.Decimal) string {
	return amount.StringFixed(amountKeyPlaces)
}

// IsValidTime reports whether t is set.
func IsValidTime(t *time.Time) bool {
	return t != nil && !t.IsZero()
}
