package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS origins (
    code                VARCHAR(10) PRIMARY KEY,
    city                VARCHAR(255),
    lat                 DOUBLE PRECISION,
    lng                 DOUBLE PRECISION,
    minutes_to_central  INTEGER,
    viable              BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS agents (
    id       SERIAL PRIMARY KEY,
    name     VARCHAR(255) NOT NULL,
    address  VARCHAR(255),
    city     VARCHAR(255),
    zip_code VARCHAR(10),
    lat      DOUBLE PRECISION,
    lng      DOUBLE PRECISION,
    active   BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS route_cache (
    origin_code  VARCHAR(10) NOT NULL REFERENCES origins(code) ON DELETE CASCADE,
    agent_id     INTEGER NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    distance_km  NUMERIC(8,2),
    duration_min INTEGER,
    status       VARCHAR(32) NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (origin_code, agent_id)
);

CREATE INDEX IF NOT EXISTS idx_route_cache_best
    ON route_cache (origin_code, duration_min) WHERE status = 'OK';

CREATE TABLE IF NOT EXISTS settings (
    key   VARCHAR(64) PRIMARY KEY,
    value TEXT
);

CREATE TABLE IF NOT EXISTS search_history (
    id         SERIAL PRIMARY KEY,
    query      VARCHAR(255),
    ip         VARCHAR(64),
    result     VARCHAR(32),
    user_agent TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// EnsureSchema creates the tables the core needs when they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
