// Package domain defines the persistent entities, nutrition value types, and
// repository ports used by mealcore.
package domain

import (
	"math"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in errors and persistence buckets.
const (
	// EntityIngredient identifies an internal ingredient record.
	EntityIngredient EntityType = "ingredient"
	// EntityExternalIngredientRef identifies a (source, external id) mapping.
	EntityExternalIngredientRef EntityType = "external_ingredient_ref"
	// EntityExternalIngredient identifies an item held by a third-party food database.
	EntityExternalIngredient EntityType = "external_ingredient"
	// EntityRecipe identifies a recipe record.
	EntityRecipe EntityType = "recipe"
	// EntityMeal identifies a meal record.
	EntityMeal EntityType = "meal"
	// EntityDay identifies a per-user calendar day record.
	EntityDay EntityType = "day"
)

// SourceOpenFoodFacts tags descriptors obtained from the Open Food Facts database.
const SourceOpenFoodFacts = "off"

// DayLayout is the calendar date format used to key days.
const DayLayout = "2006-01-02"

// Base captures common fields shared by persisted records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ingredient is an internal food item with per-100g nutrition.
type Ingredient struct {
	Base
	Name             string    `json:"name"`
	NutritionPer100g Nutrition `json:"nutrition_per_100g"`
	ImageURL         string    `json:"image_url,omitempty"`
}

// Validate checks the ingredient shape and nutrition bounds.
func (i Ingredient) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return i.NutritionPer100g.Validate("nutrition_per_100g")
}

// IngredientPatch lists the optional fields an explicit ingredient patch may change.
type IngredientPatch struct {
	Name             *string    `json:"name,omitempty"`
	NutritionPer100g *Nutrition `json:"nutrition_per_100g,omitempty"`
	ImageURL         *string    `json:"image_url,omitempty"`
}

// ApplyPatch updates the ingredient in place. The receiver is left untouched
// when the patched result fails validation.
func (i *Ingredient) ApplyPatch(p IngredientPatch) error {
	next := *i
	if p.Name != nil {
		next.Name = *p.Name
	}
	if p.NutritionPer100g != nil {
		next.NutritionPer100g = *p.NutritionPer100g
	}
	if p.ImageURL != nil {
		next.ImageURL = *p.ImageURL
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*i = next
	return nil
}

// ExternalRefKey is the composite identity of an ExternalIngredientRef.
type ExternalRefKey struct {
	Source     string
	ExternalID string
}

// ExternalIngredientRef maps a third-party item to exactly one internal ingredient.
// (Source, ExternalID) is unique across the store.
type ExternalIngredientRef struct {
	Source       string    `json:"source"`
	ExternalID   string    `json:"external_id"`
	IngredientID string    `json:"ingredient_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key returns the composite identity of the reference.
func (r ExternalIngredientRef) Key() ExternalRefKey {
	return ExternalRefKey{Source: r.Source, ExternalID: r.ExternalID}
}

// ExternalIngredient describes an item sourced from a third-party food database
// together with the quantity requested for it.
type ExternalIngredient struct {
	Source           string    `json:"source"`
	ExternalID       string    `json:"external_id"`
	Name             string    `json:"name"`
	NutritionPer100g Nutrition `json:"nutrition_per_100g"`
	ImageURL         string    `json:"image_url,omitempty"`
	QuantityInGrams  float64   `json:"quantity_in_grams"`
}

// IngredientLine pairs an ingredient with a strictly positive quantity.
type IngredientLine struct {
	Ingredient      Ingredient `json:"ingredient"`
	QuantityInGrams float64    `json:"quantity_in_grams"`
}

// NewIngredientLine validates the quantity and builds a line.
func NewIngredientLine(ingredient Ingredient, quantityInGrams float64) (IngredientLine, error) {
	if err := ValidateQuantity(quantityInGrams); err != nil {
		return IngredientLine{}, err
	}
	return IngredientLine{Ingredient: ingredient, QuantityInGrams: quantityInGrams}, nil
}

// ValidateQuantity rejects zero, negative and non-finite gram quantities.
func ValidateQuantity(quantityInGrams float64) error {
	if math.IsNaN(quantityInGrams) || math.IsInf(quantityInGrams, 0) || quantityInGrams <= 0 {
		return ValidationError{Field: "quantity_in_grams", Reason: "must be greater than zero"}
	}
	return nil
}

// Totals returns the calories and protein contributed by the line.
func (l IngredientLine) Totals() Nutrition {
	return Aggregate([]NutritionLine{l.nutritionLine()})
}

func (l IngredientLine) nutritionLine() NutritionLine {
	return NutritionLine{QuantityInGrams: l.QuantityInGrams, Per100g: l.Ingredient.NutritionPer100g}
}

// IngredientLines is an ordered collection holding at most one line per ingredient.
type IngredientLines []IngredientLine

// Totals sums the nutrition of every line.
func (ls IngredientLines) Totals() Nutrition {
	in := make([]NutritionLine, 0, len(ls))
	for _, l := range ls {
		in = append(in, l.nutritionLine())
	}
	return Aggregate(in)
}

func (ls IngredientLines) indexOf(ingredientID string) int {
	for i, l := range ls {
		if l.Ingredient.ID == ingredientID {
			return i
		}
	}
	return -1
}

// Add appends a line. A second line for the same ingredient is rejected;
// use Replace to change its quantity.
func (ls *IngredientLines) Add(line IngredientLine) error {
	if err := ValidateQuantity(line.QuantityInGrams); err != nil {
		return err
	}
	if ls.indexOf(line.Ingredient.ID) >= 0 {
		return ValidationError{Field: "ingredient_id", Reason: "ingredient " + line.Ingredient.ID + " already present"}
	}
	*ls = append(*ls, line)
	return nil
}

// Remove deletes the line for ingredientID. An absent ingredient is a
// validation error rather than a no-op.
func (ls *IngredientLines) Remove(ingredientID string) error {
	idx := ls.indexOf(ingredientID)
	if idx < 0 {
		return ValidationError{Field: "ingredient_id", Reason: "ingredient " + ingredientID + " not present"}
	}
	out := make(IngredientLines, 0, len(*ls)-1)
	out = append(out, (*ls)[:idx]...)
	out = append(out, (*ls)[idx+1:]...)
	*ls = out
	return nil
}

// Replace swaps the line for ingredientID keeping its position.
func (ls *IngredientLines) Replace(ingredientID string, line IngredientLine) error {
	if err := ValidateQuantity(line.QuantityInGrams); err != nil {
		return err
	}
	idx := ls.indexOf(ingredientID)
	if idx < 0 {
		return ValidationError{Field: "ingredient_id", Reason: "ingredient " + ingredientID + " not present"}
	}
	if line.Ingredient.ID != ingredientID && ls.indexOf(line.Ingredient.ID) >= 0 {
		return ValidationError{Field: "ingredient_id", Reason: "ingredient " + line.Ingredient.ID + " already present"}
	}
	(*ls)[idx] = line
	return nil
}

// Clone returns a deep copy of the collection.
func (ls IngredientLines) Clone() IngredientLines {
	if ls == nil {
		return nil
	}
	return append(IngredientLines(nil), ls...)
}

// Recipe is a named, user-owned list of ingredient lines.
type Recipe struct {
	Base
	UserID string          `json:"user_id"`
	Name   string          `json:"name"`
	Lines  IngredientLines `json:"lines"`
}

// Totals returns the recipe nutrition derived from its lines.
func (r Recipe) Totals() Nutrition { return r.Lines.Totals() }

// Meal is an eaten portion described by ingredient lines.
type Meal struct {
	Base
	UserID string          `json:"user_id"`
	Name   string          `json:"name"`
	Lines  IngredientLines `json:"lines"`
}

// Totals returns the meal nutrition derived from its lines.
func (m Meal) Totals() Nutrition { return m.Lines.Totals() }

// FakeMeal is a flat nutrition entry with no ingredient breakdown.
type FakeMeal struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nutrition Nutrition `json:"nutrition"`
}

// Validate checks the fake meal shape.
func (f FakeMeal) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return f.Nutrition.Validate("nutrition")
}

// Day collects a user's meals and fake meals for one calendar date.
type Day struct {
	Base
	UserID    string     `json:"user_id"`
	Date      string     `json:"date"`
	Meals     []Meal     `json:"meals"`
	FakeMeals []FakeMeal `json:"fake_meals"`
}

// Totals sums meal and fake meal nutrition.
func (d Day) Totals() Nutrition {
	var total Nutrition
	for _, m := range d.Meals {
		total = total.Add(m.Totals())
	}
	for _, f := range d.FakeMeals {
		total = total.Add(f.Nutrition)
	}
	return total
}

// AddMeal attaches a meal snapshot to the day.
func (d *Day) AddMeal(m Meal) error {
	for _, existing := range d.Meals {
		if existing.ID == m.ID {
			return ValidationError{Field: "meal_id", Reason: "meal " + m.ID + " already in day"}
		}
	}
	d.Meals = append(d.Meals, m)
	return nil
}

// RemoveMeal detaches a meal from the day.
func (d *Day) RemoveMeal(mealID string) error {
	for i, existing := range d.Meals {
		if existing.ID == mealID {
			d.Meals = append(append([]Meal(nil), d.Meals[:i]...), d.Meals[i+1:]...)
			return nil
		}
	}
	return ValidationError{Field: "meal_id", Reason: "meal " + mealID + " not in day"}
}

// AddFakeMeal validates and appends a fake meal.
func (d *Day) AddFakeMeal(f FakeMeal) error {
	if err := f.Validate(); err != nil {
		return err
	}
	for _, existing := range d.FakeMeals {
		if existing.ID == f.ID {
			return ValidationError{Field: "fake_meal_id", Reason: "fake meal " + f.ID + " already in day"}
		}
	}
	d.FakeMeals = append(d.FakeMeals, f)
	return nil
}

// RemoveFakeMeal deletes a fake meal by id.
func (d *Day) RemoveFakeMeal(id string) error {
	for i, existing := range d.FakeMeals {
		if existing.ID == id {
			d.FakeMeals = append(append([]FakeMeal(nil), d.FakeMeals[:i]...), d.FakeMeals[i+1:]...)
			return nil
		}
	}
	return ValidationError{Field: "fake_meal_id", Reason: "fake meal " + id + " not in day"}
}

// ParseDay validates a YYYY-MM-DD date string.
func ParseDay(date string) (time.Time, error) {
	t, err := time.Parse(DayLayout, date)
	if err != nil {
		return time.Time{}, ValidationError{Field: "date", Reason: "must use YYYY-MM-DD"}
	}
	return t, nil
}
