/**
 * @description
 * PostgreSQL-backed subscriber repository. It keeps the whole-list contract of
 * the file store: Load returns every row in sequence order and Save replaces
 * the table contents inside one transaction.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/supporter-service/internal/domain"
)

const createSubscribersTable = `
CREATE TABLE IF NOT EXISTS subscribers (
    position      INTEGER PRIMARY KEY,
    id            TEXT NOT NULL,
    email         TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    tier          TEXT NOT NULL DEFAULT '',
    amount        TEXT NOT NULL DEFAULT '',
    currency      TEXT NOT NULL DEFAULT '',
    subscribed_at TIMESTAMPTZ NOT NULL,
    last_payment  TIMESTAMPTZ,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    failed_at     TIMESTAMPTZ
)`

var subscriberColumns = []string{
	"position", "id", "email", "name", "tier", "amount", "currency",
	"subscribed_at", "last_payment", "active", "failed_at",
}

// PostgresRepository stores subscribers in a PostgreSQL table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NewPostgresPool opens a connection pool sized for a single low-traffic service.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	// Simple protocol keeps the service usable behind PgBouncer transaction pooling.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the subscribers table when it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createSubscribersTable); err != nil {
		return fmt.Errorf("create subscribers table: %w", err)
	}
	return nil
}

// Load returns all subscribers in sequence order.
func (r *PostgresRepository) Load(ctx context.Context) ([]domain.Subscriber, error) {
	query := `
        SELECT id, email, name, tier, amount, currency, subscribed_at, last_payment, active, failed_at
        FROM subscribers
        ORDER BY position
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	subscribers := []domain.Subscriber{}
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(
			&sub.ID,
			&sub.Email,
			&sub.Name,
			&sub.Tier,
			&sub.Amount,
			&sub.Currency,
			&sub.SubscribedAt,
			&sub.LastPayment,
			&sub.Active,
			&sub.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.SubscribedAt = sub.SubscribedAt.UTC()
		subscribers = append(subscribers, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subscribers, nil
}

// Save replaces the table contents with the given list.
func (r *PostgresRepository) Save(ctx context.Context, subscribers []domain.Subscriber) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM subscribers`); err != nil {
		return fmt.Errorf("clear subscribers: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"subscribers"},
		subscriberColumns,
		pgx.CopyFromSlice(len(subscribers), func(i int) ([]any, error) {
			s := subscribers[i]
			return []any{
				i, s.ID, s.Email, s.Name, s.Tier, s.Amount, s.Currency,
				s.SubscribedAt, s.LastPayment, s.Active, s.FailedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy subscribers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit subscribers: %w", err)
	}
	return nil
}
