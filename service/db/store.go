package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a cache entry does not exist.
var ErrNotFound = errors.New("cache entry not found")

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	name       TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Store provides database operations for the cache_entries table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewPool parses dsn, connects and verifies the connection.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the cache table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Entry is one stored document.
type Entry struct {
	Name      string
	Data      []byte
	UpdatedAt time.Time
}

// GetEntry returns the named entry or ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, name string) (*Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx,
		`SELECT name, data, updated_at FROM cache_entries WHERE name = $1`,
		name,
	).Scan(&e.Name, &e.Data, &e.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry %s: %w", name, err)
	}
	return &e, nil
}

// PutEntry inserts or replaces the named entry.
func (s *Store) PutEntry(ctx context.Context, name string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (name, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		name, data,
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry %s: %w", name, err)
	}
	return nil
}

// DeleteEntry removes the named entry. Deleting a missing entry is not an error.
func (s *Store) DeleteEntry(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", name, err)
	}
	return nil
}

// ListNames returns entry names starting with prefix, sorted.
func (s *Store) ListNames(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM cache_entries WHERE starts_with(name, $1) ORDER BY name`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache entries: %w", err)
	}
	return names, nil
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
