package core

import (
	"context"

	"mealcore/pkg/domain"
)

// lineEdit mutates a line collection loaded from a recipe or meal.
type lineEdit func(ctx context.Context, lines *domain.IngredientLines) error

// editRecipeLines loads the caller's recipe, applies edit and rewrites its
// lines wholesale.
func (s *Service) editRecipeLines(ctx context.Context, op, userID, recipeID string, edit lineEdit) (domain.Recipe, error) {
	var recipe domain.Recipe
	err := s.run(ctx, op, func(ctx context.Context) error {
		return s.uow.RunInTransaction(ctx, func(txCtx context.Context) error {
			var err error
			recipe, err = s.store.Recipes().GetByIDAndUserID(txCtx, recipeID, userID)
			if err != nil {
				return storeFailure("load recipe", err)
			}
			lines := recipe.Lines.Clone()
			if err := edit(txCtx, &lines); err != nil {
				return err
			}
			recipe.Lines = lines
			recipe.UpdatedAt = s.now()
			return storeFailure("save recipe", s.store.Recipes().Save(txCtx, recipe))
		})
	})
	if err != nil {
		return domain.Recipe{}, err
	}
	return recipe, nil
}

func (s *Service) editMealLines(ctx context.Context, op, userID, mealID string, edit lineEdit) (domain.Meal, error) {
	var meal domain.Meal
	err := s.run(ctx, op, func(ctx context.Context) error {
		return s.uow.RunInTransaction(ctx, func(txCtx context.Context) error {
			var err error
			meal, err = s.store.Meals().GetByIDAndUserID(txCtx, mealID, userID)
			if err != nil {
				return storeFailure("load meal", err)
			}
			lines := meal.Lines.Clone()
			if err := edit(txCtx, &lines); err != nil {
				return err
			}
			meal.Lines = lines
			meal.UpdatedAt = s.now()
			return storeFailure("save meal", s.store.Meals().Save(txCtx, meal))
		})
	})
	if err != nil {
		return domain.Meal{}, err
	}
	return meal, nil
}

func (s *Service) addLine(ingredientID string, quantityInGrams float64) lineEdit {
	return func(ctx context.Context, lines *domain.IngredientLines) error {
		if err := domain.ValidateQuantity(quantityInGrams); err != nil {
			return err
		}
		ing, err := s.store.Ingredients().GetByID(ctx, ingredientID)
		if err != nil {
			return storeFailure("load ingredient", err)
		}
		return lines.Add(domain.IngredientLine{Ingredient: ing, QuantityInGrams: quantityInGrams})
	}
}

func removeLine(ingredientID string) lineEdit {
	return func(_ context.Context, lines *domain.IngredientLines) error {
		return lines.Remove(ingredientID)
	}
}

func (s *Service) replaceLine(oldIngredientID, newIngredientID string, quantityInGrams float64) lineEdit {
	return func(ctx context.Context, lines *domain.IngredientLines) error {
		if err := domain.ValidateQuantity(quantityInGrams); err != nil {
			return err
		}
		ing, err := s.store.Ingredients().GetByID(ctx, newIngredientID)
		if err != nil {
			return storeFailure("load ingredient", err)
		}
		return lines.Replace(oldIngredientID, domain.IngredientLine{Ingredient: ing, QuantityInGrams: quantityInGrams})
	}
}

// AddRecipeLine appends an existing ingredient to the caller's recipe.
func (s *Service) AddRecipeLine(ctx context.Context, userID, recipeID, ingredientID string, quantityInGrams float64) (domain.Recipe, error) {
	return s.editRecipeLines(ctx, "add_recipe_line", userID, recipeID, s.addLine(ingredientID, quantityInGrams))
}

// RemoveRecipeLine drops the line for ingredientID.
func (s *Service) RemoveRecipeLine(ctx context.Context, userID, recipeID, ingredientID string) (domain.Recipe, error) {
	return s.editRecipeLines(ctx, "remove_recipe_line", userID, recipeID, removeLine(ingredientID))
}

// ReplaceRecipeLine swaps the line for oldIngredientID, keeping its position.
func (s *Service) ReplaceRecipeLine(ctx context.Context, userID, recipeID, oldIngredientID, newIngredientID string, quantityInGrams float64) (domain.Recipe, error) {
	return s.editRecipeLines(ctx, "replace_recipe_line", userID, recipeID, s.replaceLine(oldIngredientID, newIngredientID, quantityInGrams))
}

// AddMealLine appends an existing ingredient to the caller's meal.
func (s *Service) AddMealLine(ctx context.Context, userID, mealID, ingredientID string, quantityInGrams float64) (domain.Meal, error) {
	return s.editMealLines(ctx, "add_meal_line", userID, mealID, s.addLine(ingredientID, quantityInGrams))
}

// RemoveMealLine drops the line for ingredientID.
func (s *Service) RemoveMealLine(ctx context.Context, userID, mealID, ingredientID string) (domain.Meal, error) {
	return s.editMealLines(ctx, "remove_meal_line", userID, mealID, removeLine(ingredientID))
}

// ReplaceMealLine swaps the line for oldIngredientID, keeping its position.
func (s *Service) ReplaceMealLine(ctx context.Context, userID, mealID, oldIngredientID, newIngredientID string, quantityInGrams float64) (domain.Meal, error) {
	return s.editMealLines(ctx, "replace_meal_line", userID, mealID, s.replaceLine(oldIngredientID, newIngredientID, quantityInGrams))
}
