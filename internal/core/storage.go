package core

import (
	"context"
	"fmt"
	"os"

	"regland/internal/infra/persistence/memory"
	"regland/internal/infra/persistence/postgres"
	"regland/internal/infra/persistence/sqlite"
	"regland/pkg/genome"
)

// StorageDriver identifies a persistent store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-process only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Environment variables read by OpenPersistentStore.
const (
	EnvStorageDriver = "REGLAND_STORAGE_DRIVER"
	EnvSQLitePath    = "REGLAND_SQLITE_PATH"
	EnvPostgresDSN   = "REGLAND_POSTGRES_DSN"
)

// OpenPersistentStore selects a backend from the environment, defaulting to
// sqlite.
//
//	REGLAND_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	REGLAND_SQLITE_PATH: sqlite file (default ./regland.db)
//	REGLAND_POSTGRES_DSN: DSN when driver=postgres
func OpenPersistentStore(ctx context.Context) (genome.PersistentStore, error) {
	driver := os.Getenv(EnvStorageDriver)
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv(EnvSQLitePath))
	case StoragePostgres:
		return postgres.NewStore(ctx, os.Getenv(EnvPostgresDSN))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
