package mongo

import (
	"time"

	"mealcore/pkg/domain"
)

type nutritionDoc struct {
	Calories float64 `bson:"calories"`
	Protein  float64 `bson:"protein"`
}

type ingredientDoc struct {
	ID               string       `bson:"_id"`
	Name             string       `bson:"name"`
	NutritionPer100g nutritionDoc `bson:"nutrition_per_100g"`
	ImageURL         string       `bson:"image_url,omitempty"`
	CreatedAt        time.Time    `bson:"created_at"`
	UpdatedAt        time.Time    `bson:"updated_at"`
}

type refDoc struct {
	Source       string    `bson:"source"`
	ExternalID   string    `bson:"external_id"`
	IngredientID string    `bson:"ingredient_id"`
	CreatedAt    time.Time `bson:"created_at"`
}

type lineDoc struct {
	Ingredient      ingredientDoc `bson:"ingredient"`
	QuantityInGrams float64       `bson:"quantity_in_grams"`
}

type linesOwnerDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Name      string    `bson:"name"`
	Lines     []lineDoc `bson:"lines"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type fakeMealDoc struct {
	ID        string       `bson:"id"`
	Name      string       `bson:"name"`
	Nutrition nutritionDoc `bson:"nutrition"`
}

type dayDoc struct {
	ID        string          `bson:"_id"`
	UserID    string          `bson:"user_id"`
	Date      string          `bson:"date"`
	Meals     []linesOwnerDoc `bson:"meals"`
	FakeMeals []fakeMealDoc   `bson:"fake_meals"`
	CreatedAt time.Time       `bson:"created_at"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

func toNutritionDoc(n domain.Nutrition) nutritionDoc {
	return nutritionDoc{Calories: n.Calories, Protein: n.Protein}
}

func (d nutritionDoc) toDomain() domain.Nutrition {
	return domain.Nutrition{Calories: d.Calories, Protein: d.Protein}
}

func toIngredientDoc(i domain.Ingredient) ingredientDoc {
	return ingredientDoc{
		ID:               i.ID,
		Name:             i.Name,
		NutritionPer100g: toNutritionDoc(i.NutritionPer100g),
		ImageURL:         i.ImageURL,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
}

func (d ingredientDoc) toDomain() domain.Ingredient {
	return domain.Ingredient{
		Base:             domain.Base{ID: d.ID, CreatedAt: utc(d.CreatedAt), UpdatedAt: utc(d.UpdatedAt)},
		Name:             d.Name,
		NutritionPer100g: d.NutritionPer100g.toDomain(),
		ImageURL:         d.ImageURL,
	}
}

func toRefDoc(r domain.ExternalIngredientRef) refDoc {
	return refDoc{Source: r.Source, ExternalID: r.ExternalID, IngredientID: r.IngredientID, CreatedAt: r.CreatedAt}
}

func (d refDoc) toDomain() domain.ExternalIngredientRef {
	return domain.ExternalIngredientRef{Source: d.Source, ExternalID: d.ExternalID, IngredientID: d.IngredientID, CreatedAt: utc(d.CreatedAt)}
}

func toLineDocs(lines domain.IngredientLines) []lineDoc {
	out := make([]lineDoc, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineDoc{Ingredient: toIngredientDoc(l.Ingredient), QuantityInGrams: l.QuantityInGrams})
	}
	return out
}

func fromLineDocs(docs []lineDoc) domain.IngredientLines {
	if len(docs) == 0 {
		return nil
	}
	out := make(domain.IngredientLines, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.IngredientLine{Ingredient: d.Ingredient.toDomain(), QuantityInGrams: d.QuantityInGrams})
	}
	return out
}

func toRecipeDoc(r domain.Recipe) linesOwnerDoc {
	return linesOwnerDoc{ID: r.ID, UserID: r.UserID, Name: r.Name, Lines: toLineDocs(r.Lines), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func (d linesOwnerDoc) recipe() domain.Recipe {
	return domain.Recipe{Base: d.base(), UserID: d.UserID, Name: d.Name, Lines: fromLineDocs(d.Lines)}
}

func toMealDoc(m domain.Meal) linesOwnerDoc {
	return linesOwnerDoc{ID: m.ID, UserID: m.UserID, Name: m.Name, Lines: toLineDocs(m.Lines), CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

func (d linesOwnerDoc) meal() domain.Meal {
	return domain.Meal{Base: d.base(), UserID: d.UserID, Name: d.Name, Lines: fromLineDocs(d.Lines)}
}

func (d linesOwnerDoc) base() domain.Base {
	return domain.Base{ID: d.ID, CreatedAt: utc(d.CreatedAt), UpdatedAt: utc(d.UpdatedAt)}
}

func toDayDoc(day domain.Day) dayDoc {
	doc := dayDoc{ID: day.ID, UserID: day.UserID, Date: day.Date, CreatedAt: day.CreatedAt, UpdatedAt: day.UpdatedAt}
	for _, m := range day.Meals {
		doc.Meals = append(doc.Meals, toMealDoc(m))
	}
	for _, f := range day.FakeMeals {
		doc.FakeMeals = append(doc.FakeMeals, fakeMealDoc{ID: f.ID, Name: f.Name, Nutrition: toNutritionDoc(f.Nutrition)})
	}
	return doc
}

func (d dayDoc) toDomain() domain.Day {
	day := domain.Day{
		Base:   domain.Base{ID: d.ID, CreatedAt: utc(d.CreatedAt), UpdatedAt: utc(d.UpdatedAt)},
		UserID: d.UserID,
		Date:   d.Date,
	}
	for _, m := range d.Meals {
		day.Meals = append(day.Meals, m.meal())
	}
	for _, f := range d.FakeMeals {
		day.FakeMeals = append(day.FakeMeals, domain.FakeMeal{ID: f.ID, Name: f.Name, Nutrition: f.Nutrition.toDomain()})
	}
	return day
}

// utc normalises decoded timestamps; the zero value stays zero.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
