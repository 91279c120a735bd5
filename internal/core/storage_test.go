package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"mealcore/internal/config"
	"mealcore/internal/infra/persistence/memory"
	"mealcore/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(context.Background(), config.StorageConfig{Driver: config.StorageMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meal.db")
	store, err := OpenPersistentStore(ctx, config.StorageConfig{SQLitePath: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close(ctx) }()
	if s, ok := store.(*sqlite.Store); !ok || s.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, store)
	}

	svc := NewService(store)
	if _, err := svc.GetDay(ctx, "u1", "2026-01-01"); err == nil {
		t.Fatalf("expected not found on an empty database")
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	_, err := OpenPersistentStore(context.Background(), config.StorageConfig{Driver: "cassandra"})
	if err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
