// Package mongo provides a MongoDB backend. Transactions use driver sessions,
// so the server must run as a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mealcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultServerSelectionTimeout = 5 * time.Second

	collIngredients = "ingredients"
	collRefs        = "external_ingredient_refs"
	collRecipes     = "recipes"
	collMeals       = "meals"
	collDays        = "days"
)

var (
	// ErrEmptyURI is returned when no connection string is configured.
	ErrEmptyURI = errors.New("mongo uri cannot be empty")
	// ErrEmptyDatabaseName is returned when no database is configured.
	ErrEmptyDatabaseName = errors.New("database name cannot be empty")
)

// Config selects the server and database.
type Config struct {
	URI                    string
	Database               string
	ServerSelectionTimeout time.Duration
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.URI) == "" {
		return ErrEmptyURI
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return ErrEmptyDatabaseName
	}
	return nil
}

// Store persists records as documents, one collection per entity.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects, pings, and ensures the unique indexes exist.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	timeout := cfg.ServerSelectionTimeout
	if timeout <= 0 {
		timeout = defaultServerSelectionTimeout
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	store := &Store{client: client, db: client.Database(cfg.Database)}
	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string]mongo.IndexModel{
		collRefs: {
			Keys:    bson.D{{Key: "source", Value: 1}, {Key: "external_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("source_external_id_unique"),
		},
		collDays: {
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("user_date_unique"),
		},
	}
	for coll, model := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("mongo create index on %s: %w", coll, err)
		}
	}
	return nil
}

// Database exposes the underlying database for test cleanup.
func (s *Store) Database() *mongo.Database { return s.db }

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

type txKey struct{ store *Store }

type txHandle struct {
	store   *Store
	session mongo.Session
	mu      sync.Mutex
	closed  bool
}

// Begin starts a session with an open multi-document transaction.
func (s *Store) Begin(ctx context.Context) (domain.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("mongo start session: %w", err)
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return nil, fmt.Errorf("mongo start transaction: %w", err)
	}
	return &txHandle{store: s, session: session}, nil
}

func (h *txHandle) Bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(context.WithValue(ctx, txKey{store: h.store}, h), h.session)
}

func (h *txHandle) finish(ctx context.Context, fn func(context.Context) error, op string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.ErrTransactionClosed
	}
	h.closed = true
	defer h.session.EndSession(ctx)
	if err := fn(ctx); err != nil {
		return fmt.Errorf("mongo %s: %w", op, err)
	}
	return nil
}

func (h *txHandle) Commit(ctx context.Context) error {
	return h.finish(ctx, h.session.CommitTransaction, "commit")
}

func (h *txHandle) Rollback(ctx context.Context) error {
	return h.finish(ctx, h.session.AbortTransaction, "abort")
}

// bound reports the live transaction carried by ctx, if any.
func (s *Store) bound(ctx context.Context) (*txHandle, error) {
	h, _ := ctx.Value(txKey{store: s}).(*txHandle)
	if h == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, domain.ErrTransactionClosed
	}
	return h, nil
}

// check rejects contexts bound to a closed transaction.
func (s *Store) check(ctx context.Context) error {
	_, err := s.bound(ctx)
	return err
}

// atomically runs a multi-document write inside the bound transaction, or in
// a fresh one when ctx carries none.
func (s *Store) atomically(ctx context.Context, fn func(context.Context) error) error {
	h, err := s.bound(ctx)
	if err != nil {
		return err
	}
	if h != nil {
		return fn(ctx)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo start session: %w", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
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

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

var upsert = options.Replace().SetUpsert(true)

type ingredientsRepo struct{ s *Store }

func (r ingredientsRepo) coll() *mongo.Collection { return r.s.db.Collection(collIngredients) }

func (r ingredientsRepo) GetByID(ctx context.Context, id string) (domain.Ingredient, error) {
	if err := r.s.check(ctx); err != nil {
		return domain.Ingredient{}, err
	}
	var doc ingredientDoc
	err := r.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Ingredient{}, domain.NotFoundError{Entity: domain.EntityIngredient, ID: id}
	}
	if err != nil {
		return domain.Ingredient{}, fmt.Errorf("get ingredient %s: %w", id, err)
	}
	return doc.toDomain(), nil
}

func (r ingredientsRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Ingredient, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	cur, err := r.coll().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("get ingredients: %w", err)
	}
	var docs []ingredientDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode ingredients: %w", err)
	}
	byID := make(map[string]domain.Ingredient, len(docs))
	for _, d := range docs {
		byID[d.ID] = d.toDomain()
	}
	out := make([]domain.Ingredient, 0, len(byID))
	for _, id := range ids {
		if ing, ok := byID[id]; ok {
			out = append(out, ing)
		}
	}
	return out, nil
}

func (r ingredientsRepo) Save(ctx context.Context, ingredients ...domain.Ingredient) error {
	if len(ingredients) == 0 {
		return nil
	}
	return r.s.atomically(ctx, func(ctx context.Context) error {
		for _, ing := range ingredients {
			if ing.ID == "" {
				return fmt.Errorf("save ingredient: empty id")
			}
			if _, err := r.coll().ReplaceOne(ctx, bson.M{"_id": ing.ID}, toIngredientDoc(ing), upsert); err != nil {
				return fmt.Errorf("save ingredient %s: %w", ing.ID, err)
			}
		}
		return nil
	})
}

type refsRepo struct{ s *Store }

func (r refsRepo) coll() *mongo.Collection { return r.s.db.Collection(collRefs) }

func (r refsRepo) GetByExternalIDAndSource(ctx context.Context, externalID, source string) (domain.ExternalIngredientRef, error) {
	if err := r.s.check(ctx); err != nil {
		return domain.ExternalIngredientRef{}, err
	}
	var doc refDoc
	err := r.coll().FindOne(ctx, bson.M{"source": source, "external_id": externalID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ExternalIngredientRef{}, domain.NotFoundError{Entity: domain.EntityExternalIngredientRef, ID: source + "/" + externalID}
	}
	if err != nil {
		return domain.ExternalIngredientRef{}, fmt.Errorf("get external ingredient ref %s/%s: %w", source, externalID, err)
	}
	return doc.toDomain(), nil
}

func (r refsRepo) GetByExternalIDsAndSource(ctx context.Context, externalIDs []string, source string) ([]domain.ExternalIngredientRef, error) {
	externalIDs = dedupe(externalIDs)
	if len(externalIDs) == 0 {
		return nil, nil
	}
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	cur, err := r.coll().Find(ctx, bson.M{"source": source, "external_id": bson.M{"$in": externalIDs}})
	if err != nil {
		return nil, fmt.Errorf("get external ingredient refs: %w", err)
	}
	var docs []refDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode external ingredient refs: %w", err)
	}
	byID := make(map[string]domain.ExternalIngredientRef, len(docs))
	for _, d := range docs {
		byID[d.ExternalID] = d.toDomain()
	}
	out := make([]domain.ExternalIngredientRef, 0, len(byID))
	for _, id := range externalIDs {
		if ref, ok := byID[id]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// Save relies on the unique (source, external_id) index.
func (r refsRepo) Save(ctx context.Context, refs ...domain.ExternalIngredientRef) error {
	if len(refs) == 0 {
		return nil
	}
	return r.s.atomically(ctx, func(ctx context.Context) error {
		for _, ref := range refs {
			if _, err := r.coll().InsertOne(ctx, toRefDoc(ref)); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return fmt.Errorf("save external ingredient ref %s/%s: %w", ref.Source, ref.ExternalID, domain.ErrDuplicateExternalRef)
				}
				return fmt.Errorf("save external ingredient ref %s/%s: %w", ref.Source, ref.ExternalID, err)
			}
		}
		return nil
	})
}

func (r refsRepo) Delete(ctx context.Context, source, externalID string) error {
	if err := r.s.check(ctx); err != nil {
		return err
	}
	res, err := r.coll().DeleteOne(ctx, bson.M{"source": source, "external_id": externalID})
	if err != nil {
		return fmt.Errorf("delete external ingredient ref %s/%s: %w", source, externalID, err)
	}
	if res.DeletedCount == 0 {
		return domain.NotFoundError{Entity: domain.EntityExternalIngredientRef, ID: source + "/" + externalID}
	}
	return nil
}

// findOwned loads a lines-owner document and enforces ownership.
func (s *Store) findOwned(ctx context.Context, coll string, entity domain.EntityType, id, userID string) (linesOwnerDoc, error) {
	if err := s.check(ctx); err != nil {
		return linesOwnerDoc{}, err
	}
	var doc linesOwnerDoc
	err := s.db.Collection(coll).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return linesOwnerDoc{}, domain.NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return linesOwnerDoc{}, fmt.Errorf("get %s %s: %w", entity, id, err)
	}
	if doc.UserID != userID {
		return linesOwnerDoc{}, domain.AuthError{Entity: entity, ID: id, UserID: userID}
	}
	return doc, nil
}

func (s *Store) replace(ctx context.Context, coll string, entity domain.EntityType, id string, doc any) error {
	if id == "" {
		return fmt.Errorf("save %s: empty id", entity)
	}
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, err := s.db.Collection(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc, upsert); err != nil {
		return fmt.Errorf("save %s %s: %w", entity, id, err)
	}
	return nil
}

type recipesRepo struct{ s *Store }

func (r recipesRepo) Save(ctx context.Context, recipe domain.Recipe) error {
	return r.s.replace(ctx, collRecipes, domain.EntityRecipe, recipe.ID, toRecipeDoc(recipe))
}

func (r recipesRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Recipe, error) {
	doc, err := r.s.findOwned(ctx, collRecipes, domain.EntityRecipe, id, userID)
	if err != nil {
		return domain.Recipe{}, err
	}
	return doc.recipe(), nil
}

type mealsRepo struct{ s *Store }

func (r mealsRepo) Save(ctx context.Context, meal domain.Meal) error {
	return r.s.replace(ctx, collMeals, domain.EntityMeal, meal.ID, toMealDoc(meal))
}

func (r mealsRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Meal, error) {
	doc, err := r.s.findOwned(ctx, collMeals, domain.EntityMeal, id, userID)
	if err != nil {
		return domain.Meal{}, err
	}
	return doc.meal(), nil
}

type daysRepo struct{ s *Store }

func (r daysRepo) coll() *mongo.Collection { return r.s.db.Collection(collDays) }

// Save relies on the unique (user_id, date) index to keep one day per user
// and date.
func (r daysRepo) Save(ctx context.Context, day domain.Day) error {
	err := r.s.replace(ctx, collDays, domain.EntityDay, day.ID, toDayDoc(day))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("save day %s: day for %s on %s already exists: %w", day.ID, day.UserID, day.Date, err)
	}
	return err
}

func (r daysRepo) find(ctx context.Context, filter bson.M, notFoundID string) (domain.Day, error) {
	if err := r.s.check(ctx); err != nil {
		return domain.Day{}, err
	}
	var doc dayDoc
	err := r.coll().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Day{}, domain.NotFoundError{Entity: domain.EntityDay, ID: notFoundID}
	}
	if err != nil {
		return domain.Day{}, fmt.Errorf("get day %s: %w", notFoundID, err)
	}
	return doc.toDomain(), nil
}

func (r daysRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Day, error) {
	day, err := r.find(ctx, bson.M{"_id": id}, id)
	if err != nil {
		return domain.Day{}, err
	}
	if day.UserID != userID {
		return domain.Day{}, domain.AuthError{Entity: domain.EntityDay, ID: id, UserID: userID}
	}
	return day, nil
}

func (r daysRepo) GetByDateAndUserID(ctx context.Context, date, userID string) (domain.Day, error) {
	return r.find(ctx, bson.M{"user_id": userID, "date": date}, userID+"/"+date)
}
