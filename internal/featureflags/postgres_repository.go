package featureflags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const flagColumns = `key, store_id, value, updated_at`

// PostgresRepository stores flags in the feature_flags table with JSONB
// values, one row per scope.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, key string, storeID int64) (*Flag, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+flagColumns+` FROM feature_flags WHERE key = $1 AND store_id = $2`,
		key, storeID)
	if err != nil {
		return nil, fmt.Errorf("query flag %s: %w", key, err)
	}

	flag, err := pgx.CollectExactlyOneRow(rows, rowToFlag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, err
	}
	return flag, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Flag, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+flagColumns+` FROM feature_flags ORDER BY key, store_id`)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	return pgx.CollectRows(rows, rowToFlag)
}

func (r *PostgresRepository) Put(ctx context.Context, flag *Flag) error {
	value, err := json.Marshal(flag.Value)
	if err != nil {
		return fmt.Errorf("encode flag %s: %w", flag.Key, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO feature_flags (key, store_id, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key, store_id) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, flag.Key, flag.StoreID, value)
	if err != nil {
		return fmt.Errorf("store flag %s: %w", flag.Key, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, key string, storeID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM feature_flags WHERE key = $1 AND store_id = $2`, key, storeID)
	if err != nil {
		return fmt.Errorf("delete flag %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFlagNotFound
	}
	return nil
}

func rowToFlag(row pgx.CollectableRow) (*Flag, error) {
	var (
		f   Flag
		raw []byte
	)
	if err := row.Scan(&f.Key, &f.StoreID, &raw, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &f.Value); err != nil {
		return nil, fmt.Errorf("decode flag %s: %w", f.Key, err)
	}
	return &f, nil
}

var _ Repository = (*PostgresRepository)(nil)
