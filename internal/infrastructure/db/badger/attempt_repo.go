package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const attemptStoreDir = "attempts"

type attemptRepository struct {
	store *badgerhold.Store
}

func NewAttemptRepository(config ...interface{}) (domain.AttemptRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}

	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, attemptStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt store: %s", err)
	}
	return &attemptRepository{store}, nil
}

func (r *attemptRepository) Add(_ context.Context, attempt domain.Attempt) error {
	return r.store.Upsert(attempt.Id, attempt)
}

func (r *attemptRepository) Get(_ context.Context, id string) (*domain.Attempt, error) {
	var attempt domain.Attempt
	if err := r.store.Get(id, &attempt); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, id)
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *attemptRepository) List(_ context.Context, limit int) ([]domain.Attempt, error) {
	query := (&badgerhold.Query{}).SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	attempts := make([]domain.Attempt, 0)
	if err := r.store.Find(&attempts, query); err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *attemptRepository) Close() {
	//nolint:errcheck
	r.store.Close()
}
