// Package database manages PostgreSQL connections and provides the data
// access layer. Persistence is optional: the service runs with a nil *DB
// when Postgres is unreachable, keeping the registry in-memory only.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool and provides query methods.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate runs database schema migrations.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	// Application-specific lock ID to avoid collisions with other apps on the
	// same PostgreSQL instance.
	const migrationLockID int64 = 0x4F43_4F02 // "OCO" prefix + 02
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	schema := `
	CREATE TABLE IF NOT EXISTS registered_models (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		provider     TEXT NOT NULL,
		endpoint     TEXT NOT NULL,
		capabilities JSONB NOT NULL DEFAULT '[]',
		constraints  JSONB NOT NULL DEFAULT '{}',
		pricing      JSONB NOT NULL DEFAULT '{}',
		performance  JSONB NOT NULL DEFAULT '{}',
		priority     INTEGER NOT NULL DEFAULT 50,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS routing_decisions (
		id                   TEXT PRIMARY KEY,
		request_id           TEXT NOT NULL,
		request_type         TEXT NOT NULL,
		selected_model       TEXT NOT NULL,
		alternatives         TEXT[] DEFAULT '{}',
		confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
		reasoning            TEXT[] DEFAULT '{}',
		estimated_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
		estimated_cost_usd   DOUBLE PRECISION NOT NULL DEFAULT 0,
		fallback_strategy    TEXT NOT NULL DEFAULT '',
		success              BOOLEAN NOT NULL DEFAULT FALSE,
		attempts             INTEGER NOT NULL DEFAULT 0,
		actual_latency_ms    DOUBLE PRECISION NOT NULL DEFAULT 0,
		actual_cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
		decided_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_routing_decisions_request_id ON routing_decisions(request_id);
	CREATE INDEX IF NOT EXISTS idx_routing_decisions_selected_model ON routing_decisions(selected_model);
	CREATE INDEX IF NOT EXISTS idx_routing_decisions_decided_at ON routing_decisions(decided_at);
	CREATE INDEX IF NOT EXISTS idx_registered_models_provider ON registered_models(provider);
	`

	_, err = conn.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
