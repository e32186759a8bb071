package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Schema creates the tables the gateway reads. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS policy_overrides (
	scope      TEXT        NOT NULL CHECK (scope IN ('tool', 'client')),
	key        TEXT        NOT NULL,
	policy     JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (scope, key)
);

CREATE TABLE IF NOT EXISTS client_permissions (
	client_id  TEXT        NOT NULL,
	permission TEXT        NOT NULL,
	granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked_at TIMESTAMPTZ,
	PRIMARY KEY (client_id, permission)
);`

// Store provides access to the PostgreSQL database for policy overrides.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens and pings a pgx-backed pool with the service's pool limits.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}
	return db, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}
