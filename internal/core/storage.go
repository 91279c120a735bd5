package core

import (
	"context"
	"fmt"

	"mealcore/internal/config"
	"mealcore/internal/infra/persistence/memory"
	"mealcore/internal/infra/persistence/mongo"
	"mealcore/internal/infra/persistence/postgres"
	"mealcore/internal/infra/persistence/sqlite"
	"mealcore/pkg/domain"
)

// OpenPersistentStore selects a backend from configuration. An empty driver
// means sqlite.
//
//	memory:   ephemeral, tests and tooling
//	sqlite:   embedded file at cfg.SQLitePath
//	postgres: server at cfg.PostgresDSN
//	mongo:    replica set at cfg.MongoURI, database cfg.MongoDatabase
func OpenPersistentStore(ctx context.Context, cfg config.StorageConfig) (domain.PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.StorageSQLite
	}
	switch driver {
	case config.StorageMemory:
		return memory.NewStore(), nil
	case config.StorageSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case config.StorageMongo:
		return mongo.Open(ctx, mongo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
