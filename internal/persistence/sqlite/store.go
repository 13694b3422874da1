// Package sqlite implements the persistence contracts on SQLite via the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Store composes the SQLite repositories behind persistence.Store.
type Store struct {
	*CounsellorRepository
	*SessionRepository

	pool *ConnectionPool
}

// Open creates the connection pool for config and applies pending migrations.
func Open(config Config) (*Store, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(config); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool), nil
}

// NewStore wraps an already migrated pool.
func NewStore(pool *ConnectionPool) *Store {
	return &Store{
		CounsellorRepository: NewCounsellorRepository(pool),
		SessionRepository:    NewSessionRepository(pool),
		pool:                 pool,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func requireOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
