package core

import (
	"github.com/cockroachdb/errors"

	"periodcore/internal/infra/persistence/memory"
	"periodcore/internal/infra/persistence/postgres"
	"periodcore/internal/infra/persistence/sqlite"
	"periodcore/pkg/domain"
)

// StorageDriver identifies a persistent store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore opens the store selected by cfg with engine evaluated
// at every commit.
func OpenPersistentStore(cfg Config, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := StorageDriver(cfg.StorageDriver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine)
	default:
		return nil, errors.Newf("unknown storage driver %s", driver)
	}
}
