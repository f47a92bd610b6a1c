package core

import (
	"fmt"
	"os"

	"pulse/internal/infra/persistence/memory"
	"pulse/internal/infra/persistence/postgres"
	"pulse/internal/infra/persistence/sqlite"
	"pulse/internal/snapshot"
)

// StorageDriver identifies a concrete snapshot storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Snapshot      = snapshot.Snapshot
	SnapshotStore = snapshot.Store
)

// OpenSnapshotStore selects a backend using environment variables and keeps
// at most retain snapshots. Defaults to sqlite when unset.
//
//	PULSE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	PULSE_SQLITE_PATH: path to sqlite file (default ./pulse.db)
//	PULSE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenSnapshotStore(retain int) (SnapshotStore, error) {
	driver := os.Getenv("PULSE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(retain), nil
	case StorageSQLite:
		st, err := sqlite.NewStore(os.Getenv("PULSE_SQLITE_PATH"), retain)
		if err != nil {
			return nil, err
		}
		return st, nil
	case StoragePostgres:
		st, err := postgres.NewStore(os.Getenv("PULSE_POSTGRES_DSN"), retain)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
