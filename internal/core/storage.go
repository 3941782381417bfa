package core

import (
	"fmt"
	"os"
	"strconv"

	"geodraft/internal/config"
	"geodraft/internal/infra/persistence/memory"
	"geodraft/internal/infra/persistence/postgres"
	"geodraft/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	GEODRAFT_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	GEODRAFT_SQLITE_PATH: path to sqlite file (default ./geodraft.db)
//	GEODRAFT_POSTGRES_DSN: postgres DSN when driver=postgres
//	GEODRAFT_VERSION_LIMIT: optional per-feature ledger cap
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("GEODRAFT_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	opts, err := storeOptionsFromEnv()
	if err != nil {
		return nil, err
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite:
		path := os.Getenv("GEODRAFT_SQLITE_PATH")
		return sqlite.NewStore(path, engine, opts...)
	case StoragePostgres:
		dsn := os.Getenv("GEODRAFT_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenStoreFromConfig selects a backend from a loaded configuration document.
func OpenStoreFromConfig(cfg config.Storage, engine *RulesEngine) (PersistentStore, error) {
	var opts []memory.Option
	if cfg.VersionLimit > 0 {
		opts = append(opts, memory.WithVersionLimit(cfg.VersionLimit))
	}
	switch StorageDriver(cfg.Driver) {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine, opts...)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

func storeOptionsFromEnv() ([]memory.Option, error) {
	raw := os.Getenv("GEODRAFT_VERSION_LIMIT")
	if raw == "" {
		return nil, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return nil, fmt.Errorf("invalid GEODRAFT_VERSION_LIMIT %q", raw)
	}
	return []memory.Option{memory.WithVersionLimit(limit)}, nil
}
