package normalize

import "github.com/shopspring/decimal"

// Reading is a glucose reading that may be absent.
type Reading struct {
	Value int
	Valid bool
}

func ReadingOf(v int) Reading { return Reading{Value: v, Valid: true} }

// NoReading means the user entered no reading.
func NoReading() Reading { return Reading{} }

// OptionalReading maps a raw device value to a Reading, treating sentinel as
// absent.
func OptionalReading(raw, sentinel int64) Reading {
	if raw == sentinel {
		return NoReading()
	}
	return ReadingOf(int(raw))
}

// Ptr returns the reading as a nullable int.
func (r Reading) Ptr() *int {
	if !r.Valid {
		return nil
	}
	v := r.Value
	return &v
}

// WizardInputs are the bolus calculator values behind a recommendation.
type WizardInputs struct {
	CarbUnits       decimal.Decimal
	CorrectionUnits decimal.Decimal
	MealIOB         decimal.Decimal
	CorrectionIOB   decimal.Decimal
	CurrentBG       Reading
}

var half = decimal.New(5, -1)

// RoundHundredths rounds half up to two decimal places.
func RoundHundredths(d decimal.Decimal) decimal.Decimal {
	return d.Shift(2).Add(half).Floor().Shift(-2)
}

// NetRecommendation is the net insulin the calculator recommended. Insulin on
// board only counts when a reading was entered, and the result is never
// negative.
func NetRecommendation(in WizardInputs) decimal.Decimal {
	total := in.CarbUnits
	if in.CurrentBG.Valid {
		iob := in.MealIOB.Add(in.CorrectionIOB)
		if iob.LessThan(in.CorrectionUnits) {
			total = total.Add(in.CorrectionUnits.Sub(iob))
		} else {
			total = total.Sub(in.CorrectionIOB)
		}
	}
	total = RoundHundredths(total)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}
