// Package postgres persists conversations as the system of record.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config tunes the connection pool.
type Config struct {
	URL string
	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

// row is a single scannable result row.
type row interface {
	Scan(dest ...any) error
}

// rows is an iterable result set.
type rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// executor runs queries against the database. *Pool implements it; the
// store tests substitute stubs.
type executor interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (rows, error)
	QueryRow(ctx context.Context, query string, args ...any) row
	Begin(ctx context.Context) (tx, error)
}

// tx is a transaction-scoped executor.
type tx interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (rows, error)
	QueryRow(ctx context.Context, query string, args ...any) row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Pool wraps a pgx connection pool behind the executor interface.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects with a tuned pgx pool and verifies the connection.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLife
	}
	if cfg.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdle
	}
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Close releases the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// Exec runs a statement and returns affected rows.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Query runs a query returning rows.
func (p *Pool) Query(ctx context.Context, query string, args ...any) (rows, error) {
	rs, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rs}, nil
}

// QueryRow runs a query returning a single row.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) row {
	return p.pool.QueryRow(ctx, query, args...)
}

// Begin opens a transaction.
func (p *Pool) Begin(ctx context.Context) (tx, error) {
	pgxTx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgxTxExecutor{tx: pgxTx}, nil
}

type pgxRows struct {
	rs pgx.Rows
}

func (r pgxRows) Close()                 { r.rs.Close() }
func (r pgxRows) Err() error             { return r.rs.Err() }
func (r pgxRows) Next() bool             { return r.rs.Next() }
func (r pgxRows) Scan(dest ...any) error { return r.rs.Scan(dest...) }

type pgxTxExecutor struct {
	tx pgx.Tx
}

func (t pgxTxExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t pgxTxExecutor) Query(ctx context.Context, query string, args ...any) (rows, error) {
	rs, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rs}, nil
}

func (t pgxTxExecutor) QueryRow(ctx context.Context, query string, args ...any) row {
	return t.tx.QueryRow(ctx, query, args...)
}

func (t pgxTxExecutor) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t pgxTxExecutor) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
