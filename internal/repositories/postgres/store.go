// Package postgres implements the order repository on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foodcourt/api/internal/platform/config"
	"github.com/foodcourt/api/internal/repositories"
)

type txKey struct{}

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store owns the connection pool and acts as the UnitOfWork for the order repository.
type Store struct {
	pool   *pgxpool.Pool
	orders *OrderRepository
}

var _ repositories.UnitOfWork = (*Store)(nil)

// Open connects to cfg.URL and optionally applies migrations first.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("postgres: url is required")
	}
	if cfg.MigrateOnStart {
		if err := Migrate(url); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewStore(pool), nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	store := &Store{pool: pool}
	store.orders = &OrderRepository{store: store}
	return store
}

// Orders returns the order repository bound to this store.
func (s *Store) Orders() repositories.OrderRepository { return s.orders }

// RunInTx runs fn inside one transaction bound to ctx. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	return mapError("postgres.tx", err)
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("postgres.ping", s.pool.Ping(ctx))
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// mapError classifies pgx failures as repositories.StoreError. Errors raised by the caller inside
// a transaction pass through unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &repositories.StoreError{Op: op, Err: err, NotFound: true}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505", pgErr.Code == "40001", pgErr.Code == "40P01":
			return &repositories.StoreError{Op: op, Err: err, Conflict: true}
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), pgErr.Code == "57P01":
			return &repositories.StoreError{Op: op, Err: err, Unavailable: true}
		}
		return &repositories.StoreError{Op: op, Err: err}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &repositories.StoreError{Op: op, Err: err, Unavailable: true}
	}
	return err
}
