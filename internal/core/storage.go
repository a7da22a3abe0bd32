package core

import (
	"fmt"

	"archcore/internal/infra/persistence/memory"
	"archcore/internal/infra/persistence/postgres"
	"archcore/internal/infra/persistence/sqlite"
	"archcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// StorageOptions selects and configures a backend. An empty driver means sqlite.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the backend named by opts. The returned close
// function releases database handles and is never nil.
func OpenPersistentStore(opts StorageOptions, engine *RulesEngine, storeOpts ...memory.Option) (PersistentStore, func() error, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	noop := func() error { return nil }
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, storeOpts...), noop, nil
	case StorageSQLite:
		st, err := sqlite.NewStore(opts.SQLitePath, engine, storeOpts...)
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil
	case StoragePostgres:
		st, err := postgres.NewStore(opts.PostgresDSN, engine, storeOpts...)
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %s", driver)
	}
}
