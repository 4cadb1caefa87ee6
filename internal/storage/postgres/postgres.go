// Package postgres persists roll history in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/dicenotation/internal/config"
)

// ApplicationName is reported to the server as application_name so history
// connections are identifiable in pg_stat_activity.
const ApplicationName = "dicenotation-history"

// ErrSchemaMissing is returned when the rolls table has not been migrated.
var ErrSchemaMissing = errors.New("roll history schema missing; run cmd/migrate up")

// Pool is the roll history connection pool.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to the history database described by cfg.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a pinged Pool or a non-nil error. The schema is not
// checked; use Open for that.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// Open connects like NewPool and then verifies the rolls table exists.
//
// Postcondition: Returns a Pool ready for RollRepository, or an error
// wrapping ErrSchemaMissing when migrations have not run.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	p, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.CheckSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// CheckSchema reports ErrSchemaMissing when the rolls table does not exist.
func (p *Pool) CheckSchema(ctx context.Context) error {
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT to_regclass('rolls') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("checking roll history schema: %w", err)
	}
	if !exists {
		return ErrSchemaMissing
	}
	return nil
}

// Health pings the database and checks the schema within timeout.
//
// Precondition: The pool must not be closed.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return p.CheckSchema(ctx)
}

// Rolls returns a RollRepository backed by this pool.
func (p *Pool) Rolls() *RollRepository {
	return NewRollRepository(p.pool)
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
