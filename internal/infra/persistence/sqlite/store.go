// Package sqlite provides the embedded SQLite backend built on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"mealcore/internal/infra/persistence/sqlstore"
)

const driverName = "sqlite"

// DefaultPath is used when no path is configured.
const DefaultPath = "mealcore.db"

// Dialect is the SQLite flavour of the shared SQL schema.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	Placeholder:       func(int) string { return "?" },
	FloatType:         "REAL",
	JSONType:          "TEXT",
	IsUniqueViolation: isUniqueViolation,
}

// Store wraps the shared SQL store for SQLite.
type Store struct {
	*sqlstore.Store
	path string
}

// Open creates (if needed) and opens the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("mkdir sqlite dir: %w", err)
		}
	}
	db, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	inner, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}
