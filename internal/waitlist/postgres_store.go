package waitlist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL waitlist store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetStore retrieves a store by ID.
func (s *PostgresStore) GetStore(ctx context.Context, storeID int64) (*StoreInfo, error) {
	query := `
		SELECT store_id, COALESCE(name, '')
		FROM stores
		WHERE store_id = $1
	`

	var info StoreInfo
	err := s.pool.QueryRow(ctx, query, storeID).Scan(&info.StoreID, &info.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}

	return &info, nil
}

// listTicketsQuery keeps the most recent ticket of each queue number. status
// is read as text so legacy string codes pass through the same
// normalization as numeric ones.
const listTicketsQuery = `
	SELECT DISTINCT ON (queue_number)
		queue_id, store_id, queue_number, status::text, created_at, called_at
	FROM queues
	WHERE store_id = $1
	ORDER BY queue_number ASC, queue_id DESC
`

// ListTickets retrieves the current ticket of every queue number of a store,
// ordered by queue number. A reused number is represented by its most
// recent ticket only, so served history does not grow the snapshot.
func (s *PostgresStore) ListTickets(ctx context.Context, storeID int64) ([]Ticket, error) {
	rows, err := s.pool.Query(ctx, listTicketsQuery, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *ticket)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tickets, nil
}

// GetTicketByNumber retrieves the most recent ticket holding a queue number.
func (s *PostgresStore) GetTicketByNumber(ctx context.Context, storeID int64, queueNumber int) (*Ticket, error) {
	query := `
		SELECT queue_id, store_id, queue_number, status::text, created_at, called_at
		FROM queues
		WHERE store_id = $1 AND queue_number = $2
		ORDER BY queue_id DESC
		LIMIT 1
	`

	ticket, err := scanTicket(s.pool.QueryRow(ctx, query, storeID, queueNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}

	return ticket, nil
}

// Ping verifies the underlying pool is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var (
		ticket    Ticket
		status    string
		createdAt *time.Time
		calledAt  *time.Time
	)

	err := row.Scan(
		&ticket.QueueID,
		&ticket.StoreID,
		&ticket.QueueNumber,
		&status,
		&createdAt,
		&calledAt,
	)
	if err != nil {
		return nil, err
	}

	ticket.Status = NormalizeStatus(status)
	ticket.CreatedAt = createdAt
	ticket.CalledAt = calledAt
	return &ticket, nil
}

// Ensure PostgresStore implements Store interface.
var _ Store = (*PostgresStore)(nil)
