package normalize

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Hundredths converts a device count of 0.01 U steps to units.
func Hundredths(raw int64) decimal.Decimal {
	return decimal.New(raw, -2)
}

// FixedPlaces rounds a device float32 to the given decimal places, dropping
// the binary noise of the single-precision value.
func FixedPlaces(f float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat32(float32(f)).Round(places)
}

// Float returns d as a JSON-ready float.
func Float(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// CheckRange fails with ErrFieldRange when v is outside [lo, hi].
func CheckRange(name string, v, lo, hi int64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s = %d not in [%d, %d]", ErrFieldRange, name, v, lo, hi)
	}
	return nil
}
