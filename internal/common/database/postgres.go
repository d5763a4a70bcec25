// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"construction-estimator/internal/common/config"

	_ "github.com/lib/pq"
)

const estimatesSchema = `
CREATE TABLE IF NOT EXISTS construction_estimates (
	id               UUID PRIMARY KEY,
	cache_key        TEXT NOT NULL,
	project_type     TEXT NOT NULL,
	location         TEXT NOT NULL,
	currency         TEXT NOT NULL,
	total_cost       NUMERIC(18, 2) NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	inputs           JSONB NOT NULL,
	result           JSONB NOT NULL,
	model            TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_construction_estimates_cache_key ON construction_estimates (cache_key);
`

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Migrate creates the estimates table if it does not exist yet.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, estimatesSchema); err != nil {
		return fmt.Errorf("migrate construction_estimates: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
