package core

import (
	"context"
	"strings"

	"mealcore/pkg/domain"
)

// CreateRecipeInput describes a recipe built from external ingredients.
type CreateRecipeInput struct {
	UserID      string                      `json:"user_id"`
	Name        string                      `json:"name"`
	Ingredients []domain.ExternalIngredient `json:"ingredients"`
}

// CreateMealInput describes a meal built from external ingredients.
type CreateMealInput struct {
	UserID      string                      `json:"user_id"`
	Name        string                      `json:"name"`
	Ingredients []domain.ExternalIngredient `json:"ingredients"`
}

func validateOwnedName(userID, name string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(name) == "" {
		return domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// CreateRecipeWithExternalIngredients resolves the external ingredients,
// persists any new ingredients and references, and saves the recipe, all in
// one transaction.
func (s *Service) CreateRecipeWithExternalIngredients(ctx context.Context, in CreateRecipeInput) (domain.Recipe, error) {
	var recipe domain.Recipe
	err := s.run(ctx, "create_recipe_with_external_ingredients", func(ctx context.Context) error {
		if err := validateOwnedName(in.UserID, in.Name); err != nil {
			return err
		}
		return s.uow.RunInTransaction(ctx, func(txCtx context.Context) error {
			lines, err := s.importExternalLines(txCtx, in.Ingredients)
			if err != nil {
				return err
			}
			now := s.now()
			recipe = domain.Recipe{
				Base:   domain.Base{ID: s.ids.NewID(), CreatedAt: now, UpdatedAt: now},
				UserID: in.UserID,
				Name:   strings.TrimSpace(in.Name),
				Lines:  lines,
			}
			return storeFailure("save recipe", s.store.Recipes().Save(txCtx, recipe))
		})
	})
	if err != nil {
		return domain.Recipe{}, err
	}
	return recipe, nil
}

// CreateMealWithExternalIngredients is the meal counterpart of
// CreateRecipeWithExternalIngredients.
func (s *Service) CreateMealWithExternalIngredients(ctx context.Context, in CreateMealInput) (domain.Meal, error) {
	var meal domain.Meal
	err := s.run(ctx, "create_meal_with_external_ingredients", func(ctx context.Context) error {
		if err := validateOwnedName(in.UserID, in.Name); err != nil {
			return err
		}
		return s.uow.RunInTransaction(ctx, func(txCtx context.Context) error {
			lines, err := s.importExternalLines(txCtx, in.Ingredients)
			if err != nil {
				return err
			}
			now := s.now()
			meal = domain.Meal{
				Base:   domain.Base{ID: s.ids.NewID(), CreatedAt: now, UpdatedAt: now},
				UserID: in.UserID,
				Name:   strings.TrimSpace(in.Name),
				Lines:  lines,
			}
			return storeFailure("save meal", s.store.Meals().Save(txCtx, meal))
		})
	})
	if err != nil {
		return domain.Meal{}, err
	}
	return meal, nil
}

// importExternalLines resolves batch, saves the staged references and
// ingredients, then builds lines in batch order. Distinct external ids that
// map to the same ingredient share one line with their quantities summed.
// txCtx must be bound to an open transaction.
func (s *Service) importExternalLines(txCtx context.Context, batch []domain.ExternalIngredient) (domain.IngredientLines, error) {
	resolver := NewIngredientResolver(s.store.ExternalIngredientRefs(), s.ids, s.now)
	res, err := resolver.Resolve(txCtx, batch)
	if err != nil {
		return nil, storeFailure("resolve external ingredients", err)
	}
	if err := s.store.ExternalIngredientRefs().Save(txCtx, res.StagedRefs...); err != nil {
		return nil, storeFailure("save external ingredient refs", err)
	}
	if err := s.store.Ingredients().Save(txCtx, res.StagedIngredients...); err != nil {
		return nil, storeFailure("save ingredients", err)
	}
	ids := res.IngredientIDs()
	found, err := s.store.Ingredients().GetByIDs(txCtx, ids)
	if err != nil {
		return nil, storeFailure("load ingredients", err)
	}
	byID := make(map[string]domain.Ingredient, len(found))
	for _, ing := range found {
		byID[ing.ID] = ing
	}
	lines := make(domain.IngredientLines, 0, len(res.Order))
	grams := make(map[string]float64, len(res.Order))
	for _, extID := range res.Order {
		q := res.Quantities[extID]
		ing, ok := byID[q.IngredientID]
		if !ok {
			return nil, domain.NotFoundError{Entity: domain.EntityIngredient, ID: q.IngredientID}
		}
		line, err := domain.NewIngredientLine(ing, grams[ing.ID]+q.QuantityInGrams)
		if err != nil {
			return nil, err
		}
		if _, seen := grams[ing.ID]; seen {
			err = lines.Replace(ing.ID, line)
		} else {
			err = lines.Add(line)
		}
		if err != nil {
			return nil, err
		}
		grams[ing.ID] = line.QuantityInGrams
	}
	return lines, nil
}

// GetRecipe returns the caller's recipe.
func (s *Service) GetRecipe(ctx context.Context, userID, recipeID string) (domain.Recipe, error) {
	var recipe domain.Recipe
	err := s.run(ctx, "get_recipe", func(ctx context.Context) error {
		var err error
		recipe, err = s.store.Recipes().GetByIDAndUserID(ctx, recipeID, userID)
		return err
	})
	return recipe, err
}

// GetMeal returns the caller's meal.
func (s *Service) GetMeal(ctx context.Context, userID, mealID string) (domain.Meal, error) {
	var meal domain.Meal
	err := s.run(ctx, "get_meal", func(ctx context.Context) error {
		var err error
		meal, err = s.store.Meals().GetByIDAndUserID(ctx, mealID, userID)
		return err
	})
	return meal, err
}
