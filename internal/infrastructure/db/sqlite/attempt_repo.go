package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hero-dungeon/dungeond/internal/core/domain"
)

const (
	upsertAttempt = `
INSERT INTO attempt (
    id, hero_id, request_id, tx_hash, fee, feeds, stage, resolved,
    victory, loot, hero_lost, error_kind, error, started_at, ended_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    hero_id = EXCLUDED.hero_id,
    request_id = EXCLUDED.request_id,
    tx_hash = EXCLUDED.tx_hash,
    fee = EXCLUDED.fee,
    feeds = EXCLUDED.feeds,
    stage = EXCLUDED.stage,
    resolved = EXCLUDED.resolved,
    victory = EXCLUDED.victory,
    loot = EXCLUDED.loot,
    hero_lost = EXCLUDED.hero_lost,
    error_kind = EXCLUDED.error_kind,
    error = EXCLUDED.error,
    started_at = EXCLUDED.started_at,
    ended_at = EXCLUDED.ended_at
`
	selectAttemptColumns = `
SELECT id, hero_id, request_id, tx_hash, fee, feeds, stage, resolved,
    victory, loot, hero_lost, error_kind, error, started_at, ended_at
FROM attempt
`
	selectAttempt       = selectAttemptColumns + `WHERE id = ?`
	selectLatestAttempt = selectAttemptColumns + `ORDER BY started_at DESC, id DESC LIMIT ?`
)

type attemptRepository struct {
	db *sql.DB
}

func NewAttemptRepository(config ...interface{}) (domain.AttemptRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open attempt repository: invalid config, expected db at 0")
	}

	return &attemptRepository{db}, nil
}

func (r *attemptRepository) Close() {
	_ = r.db.Close()
}

func (r *attemptRepository) Add(ctx context.Context, a domain.Attempt) error {
	_, err := r.db.ExecContext(
		ctx, upsertAttempt,
		a.Id, a.HeroId, a.RequestId, a.TxHash, a.Fee, a.Feeds, a.Stage, a.Resolved,
		a.Victory, a.Loot, a.HeroLost, a.ErrorKind, a.Error, a.StartedAt, a.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert attempt %s: %w", a.Id, err)
	}
	return nil
}

func (r *attemptRepository) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, selectAttempt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAttemptNotFound, id)
		}
		return nil, err
	}
	return attempt, nil
}

func (r *attemptRepository) List(ctx context.Context, limit int) ([]domain.Attempt, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, selectLatestAttempt, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]domain.Attempt, 0)
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row scanner) (*domain.Attempt, error) {
	var a domain.Attempt
	if err := row.Scan(
		&a.Id, &a.HeroId, &a.RequestId, &a.TxHash, &a.Fee, &a.Feeds, &a.Stage, &a.Resolved,
		&a.Victory, &a.Loot, &a.HeroLost, &a.ErrorKind, &a.Error, &a.StartedAt, &a.EndedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
