package db

import (
	"fmt"
	"path/filepath"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	badgerdb "github.com/hero-dungeon/dungeond/internal/infrastructure/db/badger"
	sqlitedb "github.com/hero-dungeon/dungeond/internal/infrastructure/db/sqlite"
)

var attemptStoreTypes = map[string]func(...interface{}) (domain.AttemptRepository, error){
	"badger": badgerdb.NewAttemptRepository,
	"sqlite": sqlitedb.NewAttemptRepository,
}

const (
	sqliteDbFile = "sqlite.db"
)

// ServiceConfig's DataStoreConfig is [baseDir, badger.Logger] for badger
// and [baseDir, migrationPath] for sqlite. An empty baseDir keeps everything
// in memory.
type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	attemptStore domain.AttemptRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	attemptStoreFactory, ok := attemptStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	storeConfig := config.DataStoreConfig
	if config.DataStoreType == "sqlite" {
		db, err := openSqlite(config.DataStoreConfig)
		if err != nil {
			return nil, err
		}
		storeConfig = []interface{}{db}
	}

	attemptStore, err := attemptStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt store: %w", err)
	}

	return &service{attemptStore}, nil
}

func (s *service) Attempts() domain.AttemptRepository {
	return s.attemptStore
}

func (s *service) Close() {
	s.attemptStore.Close()
}

func openSqlite(config []interface{}) (interface{}, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	migrationPath, ok := config[1].(string)
	if !ok {
		return nil, fmt.Errorf("invalid migration path")
	}

	var dbPath string
	if len(baseDir) > 0 {
		dbPath = filepath.Join(baseDir, sqliteDbFile)
	}
	db, err := sqlitedb.OpenDb(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := sqlitedb.Migrate(db, migrationPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return db, nil
}
