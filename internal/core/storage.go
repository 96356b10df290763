package core

import (
	"context"
	"fmt"
	"os"

	"scenariocore/internal/infra/persistence/memory"
	"scenariocore/internal/infra/persistence/postgres"
	"scenariocore/internal/infra/persistence/sqlite"
	"scenariocore/pkg/domain"
)

// StorageDriver identifies a concrete snapshot-cache implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenSnapshotStore selects a snapshot-cache backend using environment
// variables. Defaults to sqlite when unset.
//
//	SCENARIOCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	SCENARIOCORE_SQLITE_PATH: path to sqlite file (default ./scenariocore.db)
//	SCENARIOCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenSnapshotStore(ctx context.Context) (domain.SnapshotStore, error) {
	driver := os.Getenv("SCENARIOCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("SCENARIOCORE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(ctx, os.Getenv("SCENARIOCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
