package core

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"mealcore/internal/infra/persistence/memory"
	"mealcore/internal/infra/persistence/sqlite"
	"mealcore/pkg/domain"
)

func TestCreateRecipeWithExternalIngredients(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	recipe, err := svc.CreateRecipeWithExternalIngredients(ctx, CreateRecipeInput{
		UserID:      "u1",
		Name:        "Chicken bowl",
		Ingredients: []domain.ExternalIngredient{external("e1", 165, 31, 200)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if recipe.UserID != "u1" || len(recipe.Lines) != 1 || !recipe.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected recipe %+v", recipe)
	}
	totals := recipe.Totals()
	if math.Abs(totals.Calories-330) > 1e-9 || math.Abs(totals.Protein-62) > 1e-9 {
		t.Fatalf("expected 330/62, got %+v", totals)
	}
	counts := store.Counts()
	if counts.Ingredients != 1 || counts.Refs != 1 || counts.Recipes != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	ref, err := store.ExternalIngredientRefs().GetByExternalIDAndSource(ctx, "e1", "off")
	if err != nil || ref.IngredientID != recipe.Lines[0].Ingredient.ID {
		t.Fatalf("ref does not point at the line ingredient: %+v %v", ref, err)
	}
	stored, err := svc.GetRecipe(ctx, "u1", recipe.ID)
	if err != nil || stored.Totals() != totals {
		t.Fatalf("stored recipe mismatch: %+v %v", stored, err)
	}
}

func TestCreateRecipeTwoLineTotals(t *testing.T) {
	svc, _ := newTestService()
	recipe, err := svc.CreateRecipeWithExternalIngredients(context.Background(), CreateRecipeInput{
		UserID: "u1",
		Name:   "Mix",
		Ingredients: []domain.ExternalIngredient{
			external("a", 200, 0, 100),
			external("b", 100, 0, 50),
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := recipe.Totals().Calories; math.Abs(got-250) > 1e-9 {
		t.Fatalf("expected 250 kcal, got %v", got)
	}
	if recipe.Lines[0].Ingredient.Name != "item a" || recipe.Lines[1].Ingredient.Name != "item b" {
		t.Fatalf("lines must follow input order: %+v", recipe.Lines)
	}
}

func TestCreateRecipeReusesIngredientsAcrossCalls(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	in := CreateRecipeInput{UserID: "u1", Name: "First", Ingredients: []domain.ExternalIngredient{external("e1", 165, 31, 100)}}
	first, err := svc.CreateRecipeWithExternalIngredients(ctx, in)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	in.Name = "Second"
	in.Ingredients[0].NutritionPer100g.Calories = 1
	second, err := svc.CreateRecipeWithExternalIngredients(ctx, in)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Lines[0].Ingredient.ID != second.Lines[0].Ingredient.ID {
		t.Fatalf("expected reused ingredient")
	}
	if second.Lines[0].Ingredient.NutritionPer100g.Calories != 165 {
		t.Fatalf("incoming data must not overwrite stored ingredient")
	}
	if c := store.Counts(); c.Ingredients != 1 || c.Refs != 1 || c.Recipes != 2 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestCreateRecipeIsAtomic(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	saveErr := errors.New("recipe table unavailable")
	svc := NewService(failingRecipesStore{Store: mem, err: saveErr}, WithIDGenerator(&sequentialIDs{}))
	before := mem.Counts()
	_, err := svc.CreateRecipeWithExternalIngredients(ctx, CreateRecipeInput{
		UserID:      "u1",
		Name:        "Doomed",
		Ingredients: []domain.ExternalIngredient{external("e1", 165, 31, 200), external("e2", 50, 1, 10)},
	})
	if !errors.Is(err, saveErr) || !domain.IsInfrastructure(err) {
		t.Fatalf("expected save error to propagate as infrastructure, got %v", err)
	}
	if after := mem.Counts(); after != before {
		t.Fatalf("failed create leaked writes: before %+v after %+v", before, after)
	}
}

func TestCreateRecipeValidation(t *testing.T) {
	svc, store := newTestService()
	cases := []CreateRecipeInput{
		{UserID: "u1", Name: " ", Ingredients: []domain.ExternalIngredient{external("e1", 1, 1, 1)}},
		{UserID: "", Name: "x", Ingredients: []domain.ExternalIngredient{external("e1", 1, 1, 1)}},
		{UserID: "u1", Name: "x"},
	}
	for i, in := range cases {
		if _, err := svc.CreateRecipeWithExternalIngredients(context.Background(), in); !domain.IsValidation(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if c := store.Counts(); c != (memory.Counts{}) {
		t.Fatalf("validation failures must not write: %+v", c)
	}
}

func TestConcurrentCreatesShareOneIngredient(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateMealWithExternalIngredients(ctx, CreateMealInput{
				UserID:      "u1",
				Name:        "Lunch",
				Ingredients: []domain.ExternalIngredient{external("shared", 100, 10, 100)},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if c := store.Counts(); c.Ingredients != 1 || c.Refs != 1 || c.Meals != workers {
		t.Fatalf("expected a single shared ingredient, got %+v", c)
	}
}

func TestConcurrentCreatesOnSQLiteShareOneIngredient(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "meals.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })
	svc := NewService(store, WithClock(stubClock{t: fixedNow}), WithIDGenerator(&sequentialIDs{}))

	const workers = 8
	var wg sync.WaitGroup
	recipes := make(chan domain.Recipe, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recipe, err := svc.CreateRecipeWithExternalIngredients(ctx, CreateRecipeInput{
				UserID:      "u1",
				Name:        "Porridge",
				Ingredients: []domain.ExternalIngredient{external("shared", 100, 10, 100)},
			})
			if err != nil {
				errs <- err
				return
			}
			recipes <- recipe
		}()
	}
	wg.Wait()
	close(errs)
	close(recipes)
	for err := range errs {
		t.Fatalf("create: %v", err)
	}

	ref, err := store.ExternalIngredientRefs().GetByExternalIDAndSource(ctx, "shared", domain.SourceOpenFoodFacts)
	if err != nil {
		t.Fatalf("load ref: %v", err)
	}
	n := 0
	for recipe := range recipes {
		n++
		if len(recipe.Lines) != 1 || recipe.Lines[0].Ingredient.ID != ref.IngredientID {
			t.Fatalf("recipe %s does not share ingredient %s: %+v", recipe.ID, ref.IngredientID, recipe.Lines)
		}
		if _, err := svc.GetRecipe(ctx, "u1", recipe.ID); err != nil {
			t.Fatalf("recipe %s not persisted: %v", recipe.ID, err)
		}
	}
	if n != workers {
		t.Fatalf("expected %d recipes, got %d", workers, n)
	}
}

func TestRecipeLineEditing(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	recipe, err := svc.CreateRecipeWithExternalIngredients(ctx, CreateRecipeInput{
		UserID: "u1", Name: "Base", Ingredients: []domain.ExternalIngredient{external("a", 100, 10, 100)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	extra := domain.Ingredient{Base: domain.Base{ID: "rice"}, Name: "Rice", NutritionPer100g: domain.Nutrition{Calories: 130, Protein: 2.7}}
	swap := domain.Ingredient{Base: domain.Base{ID: "quinoa"}, Name: "Quinoa", NutritionPer100g: domain.Nutrition{Calories: 120, Protein: 4.4}}
	if err := store.Ingredients().Save(ctx, extra, swap); err != nil {
		t.Fatalf("seed: %v", err)
	}

	recipe, err = svc.AddRecipeLine(ctx, "u1", recipe.ID, "rice", 200)
	if err != nil || len(recipe.Lines) != 2 {
		t.Fatalf("add line: %+v %v", recipe, err)
	}
	if _, err := svc.AddRecipeLine(ctx, "u1", recipe.ID, "rice", 10); !domain.IsValidation(err) {
		t.Fatalf("expected duplicate line rejection, got %v", err)
	}
	if _, err := svc.AddRecipeLine(ctx, "u1", recipe.ID, "ghost", 10); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.AddRecipeLine(ctx, "u1", recipe.ID, "quinoa", 0); !domain.IsValidation(err) {
		t.Fatalf("expected quantity rejection, got %v", err)
	}

	recipe, err = svc.ReplaceRecipeLine(ctx, "u1", recipe.ID, "rice", "quinoa", 150)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if recipe.Lines[1].Ingredient.ID != "quinoa" || recipe.Lines[1].QuantityInGrams != 150 {
		t.Fatalf("replace must keep position: %+v", recipe.Lines)
	}

	recipe, err = svc.RemoveRecipeLine(ctx, "u1", recipe.ID, "quinoa")
	if err != nil || len(recipe.Lines) != 1 {
		t.Fatalf("remove: %+v %v", recipe, err)
	}
	stored, _ := svc.GetRecipe(ctx, "u1", recipe.ID)
	if len(stored.Lines) != 1 || math.Abs(stored.Totals().Calories-100) > 1e-9 {
		t.Fatalf("edits not persisted: %+v", stored)
	}

	if _, err := svc.RemoveRecipeLine(ctx, "intruder", recipe.ID, "a"); !domain.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := svc.RemoveRecipeLine(ctx, "u1", "missing", "a"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMealLineEditing(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	meal, err := svc.CreateMealWithExternalIngredients(ctx, CreateMealInput{
		UserID: "u1", Name: "Dinner", Ingredients: []domain.ExternalIngredient{external("a", 100, 10, 100)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Ingredients().Save(ctx, domain.Ingredient{Base: domain.Base{ID: "egg"}, Name: "Egg", NutritionPer100g: domain.Nutrition{Calories: 155, Protein: 13}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	meal, err = svc.AddMealLine(ctx, "u1", meal.ID, "egg", 100)
	if err != nil || math.Abs(meal.Totals().Calories-255) > 1e-9 {
		t.Fatalf("add: %+v %v", meal, err)
	}
	aID := meal.Lines[0].Ingredient.ID
	meal, err = svc.ReplaceMealLine(ctx, "u1", meal.ID, aID, aID, 50)
	if err != nil || meal.Lines[0].QuantityInGrams != 50 {
		t.Fatalf("replace quantity: %+v %v", meal, err)
	}
	meal, err = svc.RemoveMealLine(ctx, "u1", meal.ID, "egg")
	if err != nil || len(meal.Lines) != 1 {
		t.Fatalf("remove: %+v %v", meal, err)
	}
	if _, err := svc.GetMeal(ctx, "u2", meal.ID); !domain.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
