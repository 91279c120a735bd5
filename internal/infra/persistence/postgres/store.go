// Package postgres provides the Postgres backend. It speaks database/sql through
// the pgx stdlib driver and shares its schema and repositories with sqlite.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"mealcore/internal/infra/persistence/sqlstore"
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/mealcore?sslmode=disable"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the Postgres flavour of the shared SQL schema.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Placeholder:       func(n int) string { return "$" + strconv.Itoa(n) },
	FloatType:         "DOUBLE PRECISION",
	JSONType:          "JSONB",
	IsUniqueViolation: isUniqueViolation,
}

// Store wraps the shared SQL store for Postgres.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store using dsn (falls back to DefaultDSN)
// and applies the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sql.Open hook; call the returned func to restore it.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
