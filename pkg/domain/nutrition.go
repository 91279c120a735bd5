package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// Nutrition carries calories (kcal) and protein (g). It is used both for
// per-100g profiles and for derived totals.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
}

// Validate rejects negative or non-finite values.
func (n Nutrition) Validate(field string) error {
	if !nonNegativeFinite(n.Calories) {
		return ValidationError{Field: field + ".calories", Reason: "must be a finite value >= 0"}
	}
	if !nonNegativeFinite(n.Protein) {
		return ValidationError{Field: field + ".protein", Reason: "must be a finite value >= 0"}
	}
	return nil
}

func nonNegativeFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Add returns the component-wise sum.
func (n Nutrition) Add(o Nutrition) Nutrition {
	return Nutrition{Calories: n.Calories + o.Calories, Protein: n.Protein + o.Protein}
}

// Rounded returns a copy rounded half away from zero to the given number of
// decimal places. Only presentation code should call it.
func (n Nutrition) Rounded(places int32) Nutrition {
	return Nutrition{
		Calories: decimal.NewFromFloat(n.Calories).Round(places).InexactFloat64(),
		Protein:  decimal.NewFromFloat(n.Protein).Round(places).InexactFloat64(),
	}
}

// NutritionLine is one aggregation input: a quantity and the per-100g profile
// it scales.
type NutritionLine struct {
	QuantityInGrams float64
	Per100g         Nutrition
}

// Aggregate sums nutrition*quantity/100 over all lines at full float precision.
// Quantities are expected to be validated by the caller.
func Aggregate(lines []NutritionLine) Nutrition {
	var total Nutrition
	for _, l := range lines {
		total.Calories += l.Per100g.Calories * l.QuantityInGrams / 100
		total.Protein += l.Per100g.Protein * l.QuantityInGrams / 100
	}
	return total
}
