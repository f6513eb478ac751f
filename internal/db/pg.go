// Package db pools connections to the reference table server's single
// sync_records table (internal/tableserver/store). The pool is sized for
// that table's shape, not a general multi-table service: every registered
// entity type funnels through one table under one primary key, so
// concurrency pressure comes from the embedder's parallelOperations fan-out
// (push/pull workers, clamped to 8 each) times however many embedder
// processes share the server, rather than from distinct per-table
// workloads.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PoolConfig tunes the pgxpool. Defaults assume a handful of embedders each
// driving bounded worker pools against the one sync_records table, so
// MaxConns is set closer to that fan-out ceiling than a typical
// per-request-table service would need.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig covers a handful of concurrently-syncing embedders
// without over-provisioning connections the single table never needs.
var DefaultPoolConfig = PoolConfig{
	MaxConns:          32,
	MinConns:          4,
	MaxConnLifetime:   time.Hour,
	MaxConnIdleTime:   15 * time.Minute,
	HealthCheckPeriod: 30 * time.Second,
}

// Option configures Open.
type Option func(*PoolConfig)

// WithPoolConfig overrides the default pool sizing wholesale.
func WithPoolConfig(cfg PoolConfig) Option {
	return func(c *PoolConfig) { *c = cfg }
}

// Open creates a pgxpool sized per cfg (DefaultPoolConfig unless
// overridden), applies it, and verifies connectivity with a Ping before
// returning.
func Open(ctx context.Context, url string, opts ...Option) (*pgxpool.Pool, error) {
	cfg := DefaultPoolConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", pcfg.MaxConns).
		Int32("min_conns", pcfg.MinConns).
		Msg("tableserver: sync_records connection pool ready")

	return pool, nil
}
