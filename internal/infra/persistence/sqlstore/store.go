// Package sqlstore implements the mealcore persistence ports on database/sql.
// Dialect-specific behaviour (placeholders, column types, unique-violation
// detection) is supplied by the sqlite and postgres packages.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mealcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	// Name is used in error messages.
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// FloatType and JSONType are column types used by the schema.
	FloatType string
	JSONType  string
	// IsUniqueViolation reports whether err is a unique/primary key conflict.
	IsUniqueViolation func(err error) bool
}

// Schema returns the DDL statements for the dialect.
func (d Dialect) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ingredients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			calories_per_100g %[1]s NOT NULL,
			protein_per_100g %[1]s NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, d.FloatType),
		`CREATE TABLE IF NOT EXISTS external_ingredient_refs (
			source TEXT NOT NULL,
			external_id TEXT NOT NULL,
			ingredient_id TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (source, external_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS recipes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			lines %[1]s NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, d.JSONType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS meals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			lines %[1]s NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, d.JSONType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS days (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			day_date TEXT NOT NULL,
			meals %[1]s NOT NULL,
			fake_meals %[1]s NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE (user_id, day_date)
		)`, d.JSONType),
	}
}

// placeholders renders count parameters starting at start.
func (d Dialect) placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// bind rewrites ? markers into dialect placeholders.
func (d Dialect) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store is a transactional database/sql store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db, applying the schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if err := ApplySchema(ctx, db, dialect); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: dialect}, nil
}

// ApplySchema executes the dialect DDL.
func ApplySchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range dialect.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: apply schema: %w", dialect.Name, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for integration hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close(context.Context) error { return s.db.Close() }

type txKey struct{ store *Store }

type txHandle struct {
	store  *Store
	tx     *sql.Tx
	mu     sync.Mutex
	closed bool
}

// Begin opens a database transaction.
func (s *Store) Begin(ctx context.Context) (domain.TxHandle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	return &txHandle{store: s, tx: tx}, nil
}

func (h *txHandle) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{store: h.store}, h)
}

func (h *txHandle) Commit(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.ErrTransactionClosed
	}
	h.closed = true
	if err := h.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", h.store.dialect.Name, err)
	}
	return nil
}

func (h *txHandle) Rollback(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.ErrTransactionClosed
	}
	h.closed = true
	if err := h.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%s: rollback: %w", h.store.dialect.Name, err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the bound transaction or the pool.
func (s *Store) q(ctx context.Context) (querier, error) {
	h, _ := ctx.Value(txKey{store: s}).(*txHandle)
	if h == nil {
		return s.db, nil
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, domain.ErrTransactionClosed
	}
	return h.tx, nil
}

// inTx runs fn in the bound transaction, or in a short-lived one so that
// multi-row writes stay atomic outside a unit of work.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	q, err := s.q(ctx)
	if err != nil {
		return err
	}
	if _, bound := q.(*sql.Tx); bound {
		return fn(q)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
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

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

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

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type ingredientsRepo struct{ s *Store }

const ingredientColumns = `id, name, calories_per_100g, protein_per_100g, image_url, created_at, updated_at`

func scanIngredient(row interface{ Scan(...any) error }) (domain.Ingredient, error) {
	var (
		ing              domain.Ingredient
		created, updated int64
	)
	if err := row.Scan(&ing.ID, &ing.Name, &ing.NutritionPer100g.Calories, &ing.NutritionPer100g.Protein, &ing.ImageURL, &created, &updated); err != nil {
		return domain.Ingredient{}, err
	}
	ing.CreatedAt, ing.UpdatedAt = fromUnix(created), fromUnix(updated)
	return ing, nil
}

func (r ingredientsRepo) GetByID(ctx context.Context, id string) (domain.Ingredient, error) {
	q, err := r.s.q(ctx)
	if err != nil {
		return domain.Ingredient{}, err
	}
	row := q.QueryRowContext(ctx, r.s.dialect.bind(`SELECT `+ingredientColumns+` FROM ingredients WHERE id = ?`), id)
	ing, err := scanIngredient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ingredient{}, domain.NotFoundError{Entity: domain.EntityIngredient, ID: id}
	}
	if err != nil {
		return domain.Ingredient{}, fmt.Errorf("get ingredient %s: %w", id, err)
	}
	return ing, nil
}

func (r ingredientsRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Ingredient, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	q, err := r.s.q(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + ingredientColumns + ` FROM ingredients WHERE id IN (` + r.s.dialect.placeholders(1, len(ids)) + `)`
	rows, err := q.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get ingredients: %w", err)
	}
	defer func() { _ = rows.Close() }()
	byID := make(map[string]domain.Ingredient, len(ids))
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		byID[ing.ID] = ing
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingredients: %w", err)
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
	stmt := r.s.dialect.bind(`INSERT INTO ingredients (` + ingredientColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, calories_per_100g = excluded.calories_per_100g,
		protein_per_100g = excluded.protein_per_100g, image_url = excluded.image_url, updated_at = excluded.updated_at`)
	return r.s.inTx(ctx, func(q querier) error {
		for _, ing := range ingredients {
			if ing.ID == "" {
				return fmt.Errorf("save ingredient: empty id")
			}
			if _, err := q.ExecContext(ctx, stmt, ing.ID, ing.Name, ing.NutritionPer100g.Calories, ing.NutritionPer100g.Protein,
				ing.ImageURL, toUnix(ing.CreatedAt), toUnix(ing.UpdatedAt)); err != nil {
				return fmt.Errorf("save ingredient %s: %w", ing.ID, err)
			}
		}
		return nil
	})
}

type refsRepo struct{ s *Store }

const refColumns = `source, external_id, ingredient_id, created_at`

func scanRef(row interface{ Scan(...any) error }) (domain.ExternalIngredientRef, error) {
	var (
		ref     domain.ExternalIngredientRef
		created int64
	)
	if err := row.Scan(&ref.Source, &ref.ExternalID, &ref.IngredientID, &created); err != nil {
		return domain.ExternalIngredientRef{}, err
	}
	ref.CreatedAt = fromUnix(created)
	return ref, nil
}

func (r refsRepo) GetByExternalIDAndSource(ctx context.Context, externalID, source string) (domain.ExternalIngredientRef, error) {
	q, err := r.s.q(ctx)
	if err != nil {
		return domain.ExternalIngredientRef{}, err
	}
	row := q.QueryRowContext(ctx, r.s.dialect.bind(`SELECT `+refColumns+` FROM external_ingredient_refs WHERE source = ? AND external_id = ?`), source, externalID)
	ref, err := scanRef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExternalIngredientRef{}, domain.NotFoundError{Entity: domain.EntityExternalIngredientRef, ID: source + "/" + externalID}
	}
	if err != nil {
		return domain.ExternalIngredientRef{}, fmt.Errorf("get external ingredient ref %s/%s: %w", source, externalID, err)
	}
	return ref, nil
}

func (r refsRepo) GetByExternalIDsAndSource(ctx context.Context, externalIDs []string, source string) ([]domain.ExternalIngredientRef, error) {
	externalIDs = dedupe(externalIDs)
	if len(externalIDs) == 0 {
		return nil, nil
	}
	q, err := r.s.q(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + refColumns + ` FROM external_ingredient_refs WHERE source = ` + r.s.dialect.Placeholder(1) +
		` AND external_id IN (` + r.s.dialect.placeholders(2, len(externalIDs)) + `)`
	args := append([]any{source}, stringArgs(externalIDs)...)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get external ingredient refs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	byID := make(map[string]domain.ExternalIngredientRef, len(externalIDs))
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, fmt.Errorf("scan external ingredient ref: %w", err)
		}
		byID[ref.ExternalID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate external ingredient refs: %w", err)
	}
	out := make([]domain.ExternalIngredientRef, 0, len(byID))
	for _, id := range externalIDs {
		if ref, ok := byID[id]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// Save relies on the (source, external_id) primary key; conflicts surface as
// domain.ErrDuplicateExternalRef.
func (r refsRepo) Save(ctx context.Context, refs ...domain.ExternalIngredientRef) error {
	if len(refs) == 0 {
		return nil
	}
	stmt := r.s.dialect.bind(`INSERT INTO external_ingredient_refs (` + refColumns + `) VALUES (?, ?, ?, ?)`)
	return r.s.inTx(ctx, func(q querier) error {
		for _, ref := range refs {
			if _, err := q.ExecContext(ctx, stmt, ref.Source, ref.ExternalID, ref.IngredientID, toUnix(ref.CreatedAt)); err != nil {
				if r.s.dialect.IsUniqueViolation(err) {
					return fmt.Errorf("save external ingredient ref %s/%s: %w", ref.Source, ref.ExternalID, domain.ErrDuplicateExternalRef)
				}
				return fmt.Errorf("save external ingredient ref %s/%s: %w", ref.Source, ref.ExternalID, err)
			}
		}
		return nil
	})
}

func (r refsRepo) Delete(ctx context.Context, source, externalID string) error {
	q, err := r.s.q(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, r.s.dialect.bind(`DELETE FROM external_ingredient_refs WHERE source = ? AND external_id = ?`), source, externalID)
	if err != nil {
		return fmt.Errorf("delete external ingredient ref %s/%s: %w", source, externalID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFoundError{Entity: domain.EntityExternalIngredientRef, ID: source + "/" + externalID}
	}
	return nil
}

// lineOwnerRepo persists recipes and meals, which share a table shape.
type lineOwnerRepo struct {
	s      *Store
	table  string
	entity domain.EntityType
}

type lineOwnerRow struct {
	base   domain.Base
	userID string
	name   string
	lines  domain.IngredientLines
}

func (r lineOwnerRepo) save(ctx context.Context, row lineOwnerRow) error {
	if row.base.ID == "" {
		return fmt.Errorf("save %s: empty id", r.entity)
	}
	payload, err := encodeJSON(row.lines)
	if err != nil {
		return fmt.Errorf("encode %s lines: %w", r.entity, err)
	}
	q, err := r.s.q(ctx)
	if err != nil {
		return err
	}
	stmt := r.s.dialect.bind(`INSERT INTO ` + r.table + ` (id, user_id, name, lines, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET user_id = excluded.user_id, name = excluded.name, lines = excluded.lines, updated_at = excluded.updated_at`)
	if _, err := q.ExecContext(ctx, stmt, row.base.ID, row.userID, row.name, payload, toUnix(row.base.CreatedAt), toUnix(row.base.UpdatedAt)); err != nil {
		return fmt.Errorf("save %s %s: %w", r.entity, row.base.ID, err)
	}
	return nil
}

func (r lineOwnerRepo) get(ctx context.Context, id, userID string) (lineOwnerRow, error) {
	q, err := r.s.q(ctx)
	if err != nil {
		return lineOwnerRow{}, err
	}
	var (
		row              lineOwnerRow
		payload          []byte
		created, updated int64
	)
	err = q.QueryRowContext(ctx, r.s.dialect.bind(`SELECT id, user_id, name, lines, created_at, updated_at FROM `+r.table+` WHERE id = ?`), id).
		Scan(&row.base.ID, &row.userID, &row.name, &payload, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return lineOwnerRow{}, domain.NotFoundError{Entity: r.entity, ID: id}
	}
	if err != nil {
		return lineOwnerRow{}, fmt.Errorf("get %s %s: %w", r.entity, id, err)
	}
	if row.userID != userID {
		return lineOwnerRow{}, domain.AuthError{Entity: r.entity, ID: id, UserID: userID}
	}
	if err := json.Unmarshal(payload, &row.lines); err != nil {
		return lineOwnerRow{}, fmt.Errorf("decode %s %s lines: %w", r.entity, id, err)
	}
	row.base.CreatedAt, row.base.UpdatedAt = fromUnix(created), fromUnix(updated)
	return row, nil
}

type recipesRepo struct{ s *Store }

func (r recipesRepo) repo() lineOwnerRepo {
	return lineOwnerRepo{s: r.s, table: "recipes", entity: domain.EntityRecipe}
}

func (r recipesRepo) Save(ctx context.Context, recipe domain.Recipe) error {
	return r.repo().save(ctx, lineOwnerRow{base: recipe.Base, userID: recipe.UserID, name: recipe.Name, lines: recipe.Lines})
}

func (r recipesRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Recipe, error) {
	row, err := r.repo().get(ctx, id, userID)
	if err != nil {
		return domain.Recipe{}, err
	}
	return domain.Recipe{Base: row.base, UserID: row.userID, Name: row.name, Lines: row.lines}, nil
}

type mealsRepo struct{ s *Store }

func (r mealsRepo) repo() lineOwnerRepo {
	return lineOwnerRepo{s: r.s, table: "meals", entity: domain.EntityMeal}
}

func (r mealsRepo) Save(ctx context.Context, meal domain.Meal) error {
	return r.repo().save(ctx, lineOwnerRow{base: meal.Base, userID: meal.UserID, name: meal.Name, lines: meal.Lines})
}

func (r mealsRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Meal, error) {
	row, err := r.repo().get(ctx, id, userID)
	if err != nil {
		return domain.Meal{}, err
	}
	return domain.Meal{Base: row.base, UserID: row.userID, Name: row.name, Lines: row.lines}, nil
}

type daysRepo struct{ s *Store }

const dayColumns = `id, user_id, day_date, meals, fake_meals, created_at, updated_at`

func scanDay(row interface{ Scan(...any) error }) (domain.Day, error) {
	var (
		day              domain.Day
		meals, fakes     []byte
		created, updated int64
	)
	if err := row.Scan(&day.ID, &day.UserID, &day.Date, &meals, &fakes, &created, &updated); err != nil {
		return domain.Day{}, err
	}
	if err := json.Unmarshal(meals, &day.Meals); err != nil {
		return domain.Day{}, fmt.Errorf("decode day %s meals: %w", day.ID, err)
	}
	if err := json.Unmarshal(fakes, &day.FakeMeals); err != nil {
		return domain.Day{}, fmt.Errorf("decode day %s fake meals: %w", day.ID, err)
	}
	day.CreatedAt, day.UpdatedAt = fromUnix(created), fromUnix(updated)
	return day, nil
}

func (r daysRepo) Save(ctx context.Context, day domain.Day) error {
	if day.ID == "" {
		return fmt.Errorf("save day: empty id")
	}
	meals, err := encodeJSON(day.Meals)
	if err != nil {
		return fmt.Errorf("encode day meals: %w", err)
	}
	fakes, err := encodeJSON(day.FakeMeals)
	if err != nil {
		return fmt.Errorf("encode day fake meals: %w", err)
	}
	q, err := r.s.q(ctx)
	if err != nil {
		return err
	}
	stmt := r.s.dialect.bind(`INSERT INTO days (` + dayColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET meals = excluded.meals, fake_meals = excluded.fake_meals, updated_at = excluded.updated_at`)
	if _, err := q.ExecContext(ctx, stmt, day.ID, day.UserID, day.Date, meals, fakes, toUnix(day.CreatedAt), toUnix(day.UpdatedAt)); err != nil {
		if r.s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("save day %s: day for %s on %s already exists: %w", day.ID, day.UserID, day.Date, err)
		}
		return fmt.Errorf("save day %s: %w", day.ID, err)
	}
	return nil
}

func (r daysRepo) GetByIDAndUserID(ctx context.Context, id, userID string) (domain.Day, error) {
	q, err := r.s.q(ctx)
	if err != nil {
		return domain.Day{}, err
	}
	day, err := scanDay(q.QueryRowContext(ctx, r.s.dialect.bind(`SELECT `+dayColumns+` FROM days WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Day{}, domain.NotFoundError{Entity: domain.EntityDay, ID: id}
	}
	if err != nil {
		return domain.Day{}, fmt.Errorf("get day %s: %w", id, err)
	}
	if day.UserID != userID {
		return domain.Day{}, domain.AuthError{Entity: domain.EntityDay, ID: id, UserID: userID}
	}
	return day, nil
}

func (r daysRepo) GetByDateAndUserID(ctx context.Context, date, userID string) (domain.Day, error) {
	q, err := r.s.q(ctx)
	if err != nil {
		return domain.Day{}, err
	}
	day, err := scanDay(q.QueryRowContext(ctx, r.s.dialect.bind(`SELECT `+dayColumns+` FROM days WHERE user_id = ? AND day_date = ?`), userID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Day{}, domain.NotFoundError{Entity: domain.EntityDay, ID: userID + "/" + date}
	}
	if err != nil {
		return domain.Day{}, fmt.Errorf("get day %s/%s: %w", userID, date, err)
	}
	return day, nil
}
