// Package memory provides an in-memory implementation of the mealcore
// persistence ports used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mealcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

type dayKey struct {
	userID string
	date   string
}

type memoryState struct {
	ingredients map[string]domain.Ingredient
	refs        map[domain.ExternalRefKey]domain.ExternalIngredientRef
	recipes     map[string]domain.Recipe
	meals       map[string]domain.Meal
	days        map[string]domain.Day
	dayIndex    map[dayKey]string
}

func newMemoryState() memoryState {
	return memoryState{
		ingredients: make(map[string]domain.Ingredient),
		refs:        make(map[domain.ExternalRefKey]domain.ExternalIngredientRef),
		recipes:     make(map[string]domain.Recipe),
		meals:       make(map[string]domain.Meal),
		days:        make(map[string]domain.Day),
		dayIndex:    make(map[dayKey]string),
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.ingredients {
		out.ingredients[k] = v
	}
	for k, v := range s.refs {
		out.refs[k] = v
	}
	for k, v := range s.recipes {
		out.recipes[k] = cloneRecipe(v)
	}
	for k, v := range s.meals {
		out.meals[k] = cloneMeal(v)
	}
	for k, v := range s.days {
		out.days[k] = cloneDay(v)
	}
	for k, v := range s.dayIndex {
		out.dayIndex[k] = v
	}
	return out
}

func cloneRecipe(r domain.Recipe) domain.Recipe {
	r.Lines = r.Lines.Clone()
	return r
}

func cloneMeal(m domain.Meal) domain.Meal {
	m.Lines = m.Lines.Clone()
	return m
}

func cloneDay(d domain.Day) domain.Day {
	if d.Meals != nil {
		meals := make([]domain.Meal, len(d.Meals))
		for i, m := range d.Meals {
			meals[i] = cloneMeal(m)
		}
		d.Meals = meals
	}
	if d.FakeMeals != nil {
		d.FakeMeals = append([]domain.FakeMeal(nil), d.FakeMeals...)
	}
	return d
}

// Store keeps committed state behind an RWMutex. Transactions work on a
// private clone that replaces the committed state on Commit, so uncommitted
// writes are never visible to other readers. Writers (transactions and
// autocommit writes) are serialized by txMu.
type Store struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state memoryState
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

type txKey struct{ store *Store }

type transaction struct {
	store  *Store
	mu     sync.Mutex
	state  memoryState
	closed bool
}

// Begin locks out other writers and snapshots committed state.
func (s *Store) Begin(ctx context.Context) (domain.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return &transaction{store: s, state: snapshot}, nil
}

func (t *transaction) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{store: t.store}, t)
}

func (t *transaction) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.closed = true
	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func (t *transaction) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransactionClosed
	}
	t.closed = true
	t.state = memoryState{}
	t.store.txMu.Unlock()
	return nil
}

func (s *Store) boundTx(ctx context.Context) *transaction {
	tx, _ := ctx.Value(txKey{store: s}).(*transaction)
	return tx
}

// read runs fn against the transaction state when ctx is bound, otherwise
// against committed state.
func (s *Store) read(ctx context.Context, fn func(*memoryState) error) error {
	if tx := s.boundTx(ctx); tx != nil {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		if tx.closed {
			return domain.ErrTransactionClosed
		}
		return fn(&tx.state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.state)
}

// write applies fn to the bound transaction, or as a single autocommit
// change that is discarded entirely when fn fails.
func (s *Store) write(ctx context.Context, fn func(*memoryState) error) error {
	if tx := s.boundTx(ctx); tx != nil {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		if tx.closed {
			return domain.ErrTransactionClosed
		}
		return fn(&tx.state)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.RLock()
	next := s.state.clone()
	s.mu.RUnlock()
	if err := fn(&next); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	return nil
}

// Ingredients returns the ingredient repository.
func (s *Store) Ingredients() domain.IngredientsRepo { return ingredientsRepo{s} }

// ExternalIngredientRefs returns the ref repository.
func (s *Store) ExternalIngredientRefs() domain.ExternalIngredientRefsRepo { return refsRepo{s} }

// Recipes returns the recipe repository.
func (s *Store) Recipes() domain.RecipesRepo { return recipesRepo{s} }

// Meals returns the meal repository.
func (s *Store) Meals() domain.MealsRepo { return mealsRepo{s} }

// Days returns the day repository.
func (s *Store) Days() domain.DaysRepo { return daysRepo{s} }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// Counts reports committed record counts, used by tests and diagnostics.
type Counts struct {
	Ingredients int
	Refs        int
	Recipes     int
	Meals       int
	Days        int
}

// Counts returns committed record counts.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Ingredients: len(s.state.ingredients),
		Refs:        len(s.state.refs),
		Recipes:     len(s.state.recipes),
		Meals:       len(s.state.meals),
		Days:        len(s.state.days),
	}
}

// ListIngredients returns committed ingredients ordered by id.
func (s *Store) ListIngredients() []domain.Ingredient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Ingredient, 0, len(s.state.ingredients))
	for _, ing := range s.state.ingredients {
		out = append(out, ing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type ingredientsRepo struct{ s *Store }

func (r ingredientsRepo) GetByID(ctx context.Context, id string) (domain.Ingredient, error) {
	var out domain.Ingredient
	err := r.s.read(ctx, func(st *memoryState) error {
		ing, ok := st.ingredients[id]
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityIngredient, ID: id}
		}
		out = ing
		return nil
	})
	return out, err
}

func (r ingredientsRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Ingredient, error) {
	var out []domain.Ingredient
	err := r.s.read(ctx, func(st *memoryState) error {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if ing, ok := st.ingredients[id]; ok {
				out = append(out, ing)
			}
		}
		return nil
	})
	return out, err
}

func (r ingredientsRepo) Save(ctx context.Context, ingredients ...domain.Ingredient) error {
	return r.s.write(ctx, func(st *memoryState) error {
		for _, ing := range ingredients {
			if ing.ID == "" {
				return fmt.Errorf("save ingredient: empty id")
			}
			st.ingredients[ing.ID] = ing
		}
		return nil
	})
}

type refsRepo struct{ s *Store }

func (r refsRepo) GetByExternalIDAndSource(ctx context.Context, externalID, source string) (domain.ExternalIngredientRef, error) {
	var out domain.ExternalIngredientRef
	err := r.s.read(ctx, func(st *memoryState) error {
		ref, ok := st.refs[domain.ExternalRefKey{Source: source, ExternalID: externalID}]
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityExternalIngredientRef, ID: source + "/" + externalID}
		}
		out = ref
		return nil
	})
	return out, err
}

func (r refsRepo) GetByExternalIDsAndSource(ctx context.Context, externalIDs []string, source string) ([]domain.ExternalIngredientRef, error) {
	var out []domain.ExternalIngredientRef
	err := r.s.read(ctx, func(st *memoryState) error {
		seen := make(map[string]struct{}, len(externalIDs))
		for _, id := range externalIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if ref, ok := st.refs[domain.ExternalRefKey{Source: source, ExternalID: id}]; ok {
				out = append(out, ref)
			}
		}
		return nil
	})
	return out, err
}

// Save enforces (source, external id) uniqueness against stored refs and
// within the batch.
func (r refsRepo) Save(ctx context.Context, refs ...domain.ExternalIngredientRef) error {
	return r.s.write(ctx, func(st *memoryState) error {
		for _, ref := range refs {
			key := ref.Key()
			if _, exists := st.refs[key]; exists {
				return fmt.Errorf("save external ingredient ref %s/%s: %w", ref.Source, ref.ExternalID, domain.ErrDuplicateExternalRef)
			}
			st.refs[key] = ref
		}
		return nil
	})
}

func (r refsRepo) Delete(ctx context.Context, source, externalID string) error {
	return r.s.write(ctx, func(st *memoryState) error {
		key := domain.ExternalRefKey{Source: source, ExternalID: externalID}
		if _, ok := st.refs[key]; !ok {
			return domain.NotFoundError{Entity: domain.EntityExternalIngredientRef, ID: source + "/" + externalID}
		}
		delete(st.refs, key)
		return nil
	})
}

type recipesRepo struct{ s *Store }

func (r recipesRepo) Save(ctx context.Context, recipe domain.Recipe) error {
	return r.s.write(ctx, func(st *memoryState) error {
		if recipe.ID == "" {
			return fmt.Errorf("save recipe: empty id")
		}
		st.recipes[recipe.ID] = cloneRecipe(recipe)
		return nil
	})
}

func (r recipesRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Recipe, error) {
	var out domain.Recipe
	err := r.s.read(ctx, func(st *memoryState) error {
		rec, ok := st.recipes[id]
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityRecipe, ID: id}
		}
		if rec.UserID != userID {
			return domain.AuthError{Entity: domain.EntityRecipe, ID: id, UserID: userID}
		}
		out = cloneRecipe(rec)
		return nil
	})
	return out, err
}

type mealsRepo struct{ s *Store }

func (r mealsRepo) Save(ctx context.Context, meal domain.Meal) error {
	return r.s.write(ctx, func(st *memoryState) error {
		if meal.ID == "" {
			return fmt.Errorf("save meal: empty id")
		}
		st.meals[meal.ID] = cloneMeal(meal)
		return nil
	})
}

func (r mealsRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Meal, error) {
	var out domain.Meal
	err := r.s.read(ctx, func(st *memoryState) error {
		m, ok := st.meals[id]
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityMeal, ID: id}
		}
		if m.UserID != userID {
			return domain.AuthError{Entity: domain.EntityMeal, ID: id, UserID: userID}
		}
		out = cloneMeal(m)
		return nil
	})
	return out, err
}

type daysRepo struct{ s *Store }

// Save keeps one day per (user, date); a different id for an existing pair
// is rejected.
func (r daysRepo) Save(ctx context.Context, day domain.Day) error {
	return r.s.write(ctx, func(st *memoryState) error {
		if day.ID == "" {
			return fmt.Errorf("save day: empty id")
		}
		key := dayKey{userID: day.UserID, date: day.Date}
		if existing, ok := st.dayIndex[key]; ok && existing != day.ID {
			return fmt.Errorf("save day %s: day for %s on %s already exists", day.ID, day.UserID, day.Date)
		}
		if prev, ok := st.days[day.ID]; ok {
			delete(st.dayIndex, dayKey{userID: prev.UserID, date: prev.Date})
		}
		st.days[day.ID] = cloneDay(day)
		st.dayIndex[key] = day.ID
		return nil
	})
}

func (r daysRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Day, error) {
	var out domain.Day
	err := r.s.read(ctx, func(st *memoryState) error {
		d, ok := st.days[id]
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityDay, ID: id}
		}
		if d.UserID != userID {
			return domain.AuthError{Entity: domain.EntityDay, ID: id, UserID: userID}
		}
		out = cloneDay(d)
		return nil
	})
	return out, err
}

func (r daysRepo) GetByDateAndUserID(ctx context.Context, date, userID string) (domain.Day, error) {
	var out domain.Day
	err := r.s.read(ctx, func(st *memoryState) error {
		id, ok := st.dayIndex[dayKey{userID: userID, date: date}]
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityDay, ID: userID + "/" + date}
		}
		out = cloneDay(st.days[id])
		return nil
	})
	return out, err
}
