package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mealcore/internal/infra/persistence/memory"
	"mealcore/pkg/domain"
)

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

var fixedNow = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:" + msg) }

func (c *captureLogger) has(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

func newTestService(opts ...ServiceOption) (*Service, *memory.Store) {
	store := memory.NewStore()
	base := []ServiceOption{WithClock(stubClock{t: fixedNow}), WithIDGenerator(&sequentialIDs{})}
	return NewService(store, append(base, opts...)...), store
}

func external(id string, cal, protein, grams float64) domain.ExternalIngredient {
	return domain.ExternalIngredient{
		Source:           domain.SourceOpenFoodFacts,
		ExternalID:       id,
		Name:             "item " + id,
		NutritionPer100g: domain.Nutrition{Calories: cal, Protein: protein},
		QuantityInGrams:  grams,
	}
}

// failingRecipesStore fails every recipe save after the rest of the pipeline
// has written through the transaction.
type failingRecipesStore struct {
	*memory.Store
	err error
}

func (f failingRecipesStore) Recipes() domain.RecipesRepo {
	return failingRecipes{RecipesRepo: f.Store.Recipes(), err: f.err}
}

type failingRecipes struct {
	domain.RecipesRepo
	err error
}

func (f failingRecipes) Save(context.Context, domain.Recipe) error { return f.err }

// scriptedDriver lets unit-of-work tests control driver outcomes.
type scriptedDriver struct {
	beginErr    error
	commitErr   error
	rollbackErr error

	mu        sync.Mutex
	begun     int
	committed int
	rolled    int
}

func (d *scriptedDriver) Begin(context.Context) (domain.TxHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.begun++
	return &scriptedTx{d: d}, nil
}

type scriptedTx struct{ d *scriptedDriver }

type scriptedKey struct{}

func (t *scriptedTx) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, scriptedKey{}, t)
}

func (t *scriptedTx) Commit(context.Context) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.committed++
	return t.d.commitErr
}

func (t *scriptedTx) Rollback(context.Context) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.rolled++
	return t.d.rollbackErr
}

// conflictingRefsStore rejects every ref save as a duplicate, the way a unique
// index does when another writer commits the same pair first.
type conflictingRefsStore struct {
	*memory.Store
}

func (c conflictingRefsStore) ExternalIngredientRefs() domain.ExternalIngredientRefsRepo {
	return conflictingRefs{ExternalIngredientRefsRepo: c.Store.ExternalIngredientRefs()}
}

type conflictingRefs struct {
	domain.ExternalIngredientRefsRepo
}

func (conflictingRefs) Save(_ context.Context, refs ...domain.ExternalIngredientRef) error {
	if len(refs) == 0 {
		return nil
	}
	return fmt.Errorf("save external ingredient ref %s/%s: %w", refs[0].Source, refs[0].ExternalID, domain.ErrDuplicateExternalRef)
}
