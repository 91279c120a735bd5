package domain

import "context"

// TxDriver opens atomic write scopes on a concrete storage backend.
type TxDriver interface {
	Begin(ctx context.Context) (TxHandle, error)
}

// TxHandle is an open transaction. Repository calls made with a context
// returned by Bind take part in the transaction; writes become visible to
// other readers only after Commit.
type TxHandle interface {
	Bind(ctx context.Context) context.Context
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// IngredientsRepo persists internal ingredients.
type IngredientsRepo interface {
	GetByID(ctx context.Context, id string) (Ingredient, error)
	// GetByIDs returns the ingredients found, in the order of ids. Missing ids
	// are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Ingredient, error)
	Save(ctx context.Context, ingredients ...Ingredient) error
}

// ExternalIngredientRefsRepo persists (source, external id) mappings.
// Save must fail with ErrDuplicateExternalRef on an existing pair.
type ExternalIngredientRefsRepo interface {
	GetByExternalIDAndSource(ctx context.Context, externalID, source string) (ExternalIngredientRef, error)
	GetByExternalIDsAndSource(ctx context.Context, externalIDs []string, source string) ([]ExternalIngredientRef, error)
	Save(ctx context.Context, refs ...ExternalIngredientRef) error
	Delete(ctx context.Context, source, externalID string) error
}

// RecipesRepo persists recipes. GetByIDAndUserID returns AuthError when the
// recipe exists for another user.
type RecipesRepo interface {
	Save(ctx context.Context, recipe Recipe) error
	GetByIDAndUserID(ctx context.Context, id, userID string) (Recipe, error)
}

// MealsRepo persists meals.
type MealsRepo interface {
	Save(ctx context.Context, meal Meal) error
	GetByIDAndUserID(ctx context.Context, id, userID string) (Meal, error)
}

// DaysRepo persists days. At most one day exists per (user, date).
type DaysRepo interface {
	Save(ctx context.Context, day Day) error
	GetByIDAndUserID(ctx context.Context, id, userID string) (Day, error)
	GetByDateAndUserID(ctx context.Context, date, userID string) (Day, error)
}

// IDGenerator produces identifiers for new records.
type IDGenerator interface {
	NewID() string
}

// PersistentStore bundles the transaction driver with its repositories.
type PersistentStore interface {
	TxDriver
	Ingredients() IngredientsRepo
	ExternalIngredientRefs() ExternalIngredientRefsRepo
	Recipes() RecipesRepo
	Meals() MealsRepo
	Days() DaysRepo
	Close(ctx context.Context) error
}
