package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL token repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Upsert stores a record, leaving an existing identical record untouched.
// The record's ID and CreatedAt are filled from the stored row.
func (r *PostgresRepository) Upsert(ctx context.Context, record *TokenRecord) (bool, error) {
	query := `
		WITH inserted AS (
			INSERT INTO queue_notifications (store_id, queue_number, fcm_token, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (store_id, queue_number, fcm_token) DO NOTHING
			RETURNING id, created_at
		)
		SELECT id, created_at, true FROM inserted
		UNION ALL
		SELECT id, created_at, false
		FROM queue_notifications
		WHERE store_id = $1 AND queue_number = $2 AND fcm_token = $3
			AND NOT EXISTS (SELECT 1 FROM inserted)
		LIMIT 1
	`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var created bool
	err := r.pool.QueryRow(ctx, query,
		record.StoreID,
		record.QueueNumber,
		record.Token,
		createdAt,
	).Scan(&record.ID, &record.CreatedAt, &created)
	if err != nil {
		return false, err
	}

	return created, nil
}

// ListByTicket retrieves every record registered for a ticket.
func (r *PostgresRepository) ListByTicket(ctx context.Context, storeID int64, queueNumber int) ([]*TokenRecord, error) {
	query := `
		SELECT id, store_id, queue_number, fcm_token, created_at
		FROM queue_notifications
		WHERE store_id = $1 AND queue_number = $2
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query, storeID, queueNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TokenRecord
	for rows.Next() {
		var record TokenRecord
		err := rows.Scan(
			&record.ID,
			&record.StoreID,
			&record.QueueNumber,
			&record.Token,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// DeleteByIDs removes records by ID.
func (r *PostgresRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM queue_notifications WHERE id = ANY($1)`

	result, err := r.pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
