// Package storetest holds the behavioural contract every domain.PersistentStore
// implementation must satisfy. Backend packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"mealcore/pkg/domain"
)

// Opener returns a fresh, empty store. Cleanup is the opener's concern.
type Opener func(t *testing.T) domain.PersistentStore

// Run executes the contract suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, domain.PersistentStore)
	}{
		{"IngredientsRoundTrip", testIngredientsRoundTrip},
		{"RefUniqueness", testRefUniqueness},
		{"RefLookupsFilterBySource", testRefLookups},
		{"RefDelete", testRefDelete},
		{"RecipeOwnership", testRecipeOwnership},
		{"MealOwnership", testMealOwnership},
		{"DaysByDate", testDaysByDate},
		{"CommitVisibility", testCommitVisibility},
		{"RollbackDiscards", testRollbackDiscards},
		{"ClosedTransactionRejected", testClosedTransaction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := open(t)
			tc.fn(t, store)
		})
	}
}

// Stamp is a millisecond-precision UTC time every backend round-trips exactly.
var Stamp = time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)

// Ingredient builds a valid ingredient fixture.
func Ingredient(id, name string, cal, protein float64) domain.Ingredient {
	return domain.Ingredient{
		Base:             domain.Base{ID: id, CreatedAt: Stamp, UpdatedAt: Stamp},
		Name:             name,
		NutritionPer100g: domain.Nutrition{Calories: cal, Protein: protein},
	}
}

func testIngredientsRoundTrip(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	repo := store.Ingredients()
	a := Ingredient("ing-a", "Chicken breast", 165, 31)
	a.ImageURL = "memory://ingredients/ing-a/photo.png"
	b := Ingredient("ing-b", "Rice", 130, 2.7)
	if err := repo.Save(ctx, a, b); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.GetByID(ctx, "ing-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != a.Name || got.NutritionPer100g != a.NutritionPer100g || got.ImageURL != a.ImageURL || !got.CreatedAt.Equal(Stamp) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	list, err := repo.GetByIDs(ctx, []string{"ing-b", "missing", "ing-a"})
	if err != nil {
		t.Fatalf("get by ids: %v", err)
	}
	if len(list) != 2 || list[0].ID != "ing-b" || list[1].ID != "ing-a" {
		t.Fatalf("expected [ing-b ing-a], got %+v", list)
	}
	if _, err := repo.GetByID(ctx, "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	a.Name = "Chicken thigh"
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got, _ := repo.GetByID(ctx, "ing-a"); got.Name != "Chicken thigh" {
		t.Fatalf("expected upsert to replace name, got %q", got.Name)
	}
	if empty, err := repo.GetByIDs(ctx, nil); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result, got %v %v", empty, err)
	}
}

func testRefUniqueness(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	refs := store.ExternalIngredientRefs()
	ref := domain.ExternalIngredientRef{Source: "off", ExternalID: "e1", IngredientID: "ing-1", CreatedAt: Stamp}
	if err := refs.Save(ctx, ref); err != nil {
		t.Fatalf("save: %v", err)
	}
	dup := ref
	dup.IngredientID = "ing-2"
	if err := refs.Save(ctx, dup); !errors.Is(err, domain.ErrDuplicateExternalRef) {
		t.Fatalf("expected ErrDuplicateExternalRef, got %v", err)
	}
	got, err := refs.GetByExternalIDAndSource(ctx, "e1", "off")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IngredientID != "ing-1" {
		t.Fatalf("stored ref must not be overwritten, got %s", got.IngredientID)
	}
	other := domain.ExternalIngredientRef{Source: "usda", ExternalID: "e1", IngredientID: "ing-3", CreatedAt: Stamp}
	if err := refs.Save(ctx, other); err != nil {
		t.Fatalf("same external id under another source must be allowed: %v", err)
	}
}

func testRefLookups(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	refs := store.ExternalIngredientRefs()
	if err := refs.Save(ctx,
		domain.ExternalIngredientRef{Source: "off", ExternalID: "e1", IngredientID: "i1", CreatedAt: Stamp},
		domain.ExternalIngredientRef{Source: "off", ExternalID: "e2", IngredientID: "i2", CreatedAt: Stamp},
		domain.ExternalIngredientRef{Source: "usda", ExternalID: "e3", IngredientID: "i3", CreatedAt: Stamp},
	); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := refs.GetByExternalIDsAndSource(ctx, []string{"e1", "e3", "e9"}, "off")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 || got[0].IngredientID != "i1" {
		t.Fatalf("expected only off/e1, got %+v", got)
	}
	if _, err := refs.GetByExternalIDAndSource(ctx, "e3", "off"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testRefDelete(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	refs := store.ExternalIngredientRefs()
	if err := refs.Save(ctx, domain.ExternalIngredientRef{Source: "off", ExternalID: "gone", IngredientID: "i", CreatedAt: Stamp}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := refs.Delete(ctx, "off", "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := refs.Delete(ctx, "off", "gone"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func lines() domain.IngredientLines {
	return domain.IngredientLines{
		{Ingredient: Ingredient("i1", "Oats", 389, 16.9), QuantityInGrams: 80},
		{Ingredient: Ingredient("i2", "Milk", 42, 3.4), QuantityInGrams: 250},
	}
}

func testRecipeOwnership(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	repo := store.Recipes()
	recipe := domain.Recipe{Base: domain.Base{ID: "r1", CreatedAt: Stamp, UpdatedAt: Stamp}, UserID: "u1", Name: "Porridge", Lines: lines()}
	if err := repo.Save(ctx, recipe); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.GetByIDAndUserID(ctx, "r1", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Porridge" || len(got.Lines) != 2 || got.Lines[1].Ingredient.Name != "Milk" || got.Lines[0].QuantityInGrams != 80 {
		t.Fatalf("unexpected recipe %+v", got)
	}
	if got.Totals() != recipe.Totals() {
		t.Fatalf("totals changed through persistence: %+v vs %+v", got.Totals(), recipe.Totals())
	}
	if _, err := repo.GetByIDAndUserID(ctx, "r1", "intruder"); !domain.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := repo.GetByIDAndUserID(ctx, "nope", "u1"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	recipe.Lines = recipe.Lines[:1]
	if err := repo.Save(ctx, recipe); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got, _ := repo.GetByIDAndUserID(ctx, "r1", "u1"); len(got.Lines) != 1 {
		t.Fatalf("expected wholesale replacement, got %d lines", len(got.Lines))
	}
}

func testMealOwnership(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	repo := store.Meals()
	meal := domain.Meal{Base: domain.Base{ID: "m1", CreatedAt: Stamp, UpdatedAt: Stamp}, UserID: "u1", Name: "Breakfast", Lines: lines()}
	if err := repo.Save(ctx, meal); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.GetByIDAndUserID(ctx, "m1", "u1")
	if err != nil || len(got.Lines) != 2 {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := repo.GetByIDAndUserID(ctx, "m1", "u2"); !domain.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func testDaysByDate(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	repo := store.Days()
	meal := domain.Meal{Base: domain.Base{ID: "m1", CreatedAt: Stamp, UpdatedAt: Stamp}, UserID: "u1", Name: "Lunch", Lines: lines()}
	day := domain.Day{
		Base:      domain.Base{ID: "d1", CreatedAt: Stamp, UpdatedAt: Stamp},
		UserID:    "u1",
		Date:      "2026-03-04",
		Meals:     []domain.Meal{meal},
		FakeMeals: []domain.FakeMeal{{ID: "f1", Name: "Coffee", Nutrition: domain.Nutrition{Calories: 5}}},
	}
	if err := repo.Save(ctx, day); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.GetByDateAndUserID(ctx, "2026-03-04", "u1")
	if err != nil {
		t.Fatalf("get by date: %v", err)
	}
	if got.ID != "d1" || len(got.Meals) != 1 || len(got.FakeMeals) != 1 || got.Totals() != day.Totals() {
		t.Fatalf("unexpected day %+v", got)
	}
	if _, err := repo.GetByDateAndUserID(ctx, "2026-03-04", "u2"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	if _, err := repo.GetByIDAndUserID(ctx, "d1", "u2"); !domain.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	clash := day
	clash.ID = "d2"
	if err := repo.Save(ctx, clash); err == nil {
		t.Fatalf("expected second day for same user/date to be rejected")
	}
}

func testCommitVisibility(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	txCtx := tx.Bind(ctx)
	if err := store.Ingredients().Save(txCtx, Ingredient("tx-1", "Egg", 155, 13)); err != nil {
		t.Fatalf("save in tx: %v", err)
	}
	if _, err := store.Ingredients().GetByID(txCtx, "tx-1"); err != nil {
		t.Fatalf("write must be visible inside its transaction: %v", err)
	}
	if _, err := store.Ingredients().GetByID(ctx, "tx-1"); !domain.IsNotFound(err) {
		t.Fatalf("uncommitted write leaked to outside reader: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.Ingredients().GetByID(ctx, "tx-1"); err != nil {
		t.Fatalf("committed write not visible: %v", err)
	}
}

func testRollbackDiscards(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	txCtx := tx.Bind(ctx)
	if err := store.Ingredients().Save(txCtx, Ingredient("rb-1", "Tofu", 76, 8)); err != nil {
		t.Fatalf("save ingredient: %v", err)
	}
	if err := store.ExternalIngredientRefs().Save(txCtx, domain.ExternalIngredientRef{Source: "off", ExternalID: "rb", IngredientID: "rb-1", CreatedAt: Stamp}); err != nil {
		t.Fatalf("save ref: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := store.Ingredients().GetByID(ctx, "rb-1"); !domain.IsNotFound(err) {
		t.Fatalf("rolled back ingredient visible: %v", err)
	}
	if _, err := store.ExternalIngredientRefs().GetByExternalIDAndSource(ctx, "rb", "off"); !domain.IsNotFound(err) {
		t.Fatalf("rolled back ref visible: %v", err)
	}
}

func testClosedTransaction(t *testing.T, store domain.PersistentStore) {
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	txCtx := tx.Bind(ctx)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Ingredients().Save(txCtx, Ingredient("late", "Late", 1, 1)); !errors.Is(err, domain.ErrTransactionClosed) {
		t.Fatalf("expected ErrTransactionClosed, got %v", err)
	}
	if err := tx.Rollback(ctx); !errors.Is(err, domain.ErrTransactionClosed) {
		t.Fatalf("expected ErrTransactionClosed on second close, got %v", err)
	}
}
