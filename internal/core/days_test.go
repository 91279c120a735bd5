package core

import (
	"context"
	"math"
	"testing"

	"mealcore/pkg/domain"
)

func TestDayLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	meal, err := svc.CreateMealWithExternalIngredients(ctx, CreateMealInput{
		UserID: "u1", Name: "Breakfast", Ingredients: []domain.ExternalIngredient{external("oats", 389, 16.9, 100)},
	})
	if err != nil {
		t.Fatalf("create meal: %v", err)
	}
	if _, err := svc.GetDay(ctx, "u1", "2026-05-06"); !domain.IsNotFound(err) {
		t.Fatalf("expected no day yet, got %v", err)
	}

	day, err := svc.AddMealToDay(ctx, "u1", "2026-05-06", meal.ID)
	if err != nil {
		t.Fatalf("add meal: %v", err)
	}
	dayID := day.ID
	day, err = svc.AddFakeMealToDay(ctx, "u1", "2026-05-06", domain.FakeMeal{Name: "Latte", Nutrition: domain.Nutrition{Calories: 120, Protein: 6}})
	if err != nil {
		t.Fatalf("add fake meal: %v", err)
	}
	if day.ID != dayID || len(day.FakeMeals) != 1 || day.FakeMeals[0].ID == "" {
		t.Fatalf("expected the same day with a generated fake meal id: %+v", day)
	}
	if got := day.Totals(); math.Abs(got.Calories-509) > 1e-9 || math.Abs(got.Protein-22.9) > 1e-9 {
		t.Fatalf("unexpected totals %+v", got)
	}
	if store.Counts().Days != 1 {
		t.Fatalf("expected exactly one day")
	}

	if _, err := svc.AddMealToDay(ctx, "u1", "2026-05-06", meal.ID); !domain.IsValidation(err) {
		t.Fatalf("expected duplicate meal rejection, got %v", err)
	}
	if _, err := svc.AddMealToDay(ctx, "u2", "2026-05-06", meal.ID); !domain.IsAuth(err) {
		t.Fatalf("expected auth error for another user's meal, got %v", err)
	}
	if c := store.Counts(); c.Days != 1 {
		t.Fatalf("rejected add must not create a day, got %+v", c)
	}

	day, err = svc.RemoveFakeMealFromDay(ctx, "u1", "2026-05-06", day.FakeMeals[0].ID)
	if err != nil || len(day.FakeMeals) != 0 {
		t.Fatalf("remove fake meal: %+v %v", day, err)
	}
	day, err = svc.RemoveMealFromDay(ctx, "u1", "2026-05-06", meal.ID)
	if err != nil || len(day.Meals) != 0 || day.Totals() != (domain.Nutrition{}) {
		t.Fatalf("remove meal: %+v %v", day, err)
	}
	got, err := svc.GetDay(ctx, "u1", "2026-05-06")
	if err != nil || got.ID != dayID {
		t.Fatalf("get day: %+v %v", got, err)
	}
}

func TestDayValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	if _, err := svc.GetDay(ctx, "u1", "06/05/2026"); !domain.IsValidation(err) {
		t.Fatalf("expected date validation, got %v", err)
	}
	if _, err := svc.AddFakeMealToDay(ctx, "", "2026-05-06", domain.FakeMeal{Name: "x"}); !domain.IsValidation(err) {
		t.Fatalf("expected user validation, got %v", err)
	}
	if _, err := svc.AddFakeMealToDay(ctx, "u1", "2026-05-06", domain.FakeMeal{Name: "x", Nutrition: domain.Nutrition{Calories: -5}}); !domain.IsValidation(err) {
		t.Fatalf("expected nutrition validation, got %v", err)
	}
	if _, err := svc.RemoveMealFromDay(ctx, "u1", "2026-05-07", "m"); !domain.IsNotFound(err) {
		t.Fatalf("removing from a missing day must not create it, got %v", err)
	}
}
