package permission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// GrantStore abstracts DB queries for testability.
type GrantStore interface {
	LookupGrants(ctx context.Context, clientID string) ([]Kind, error)
}

// sqlGrantStore is the real implementation using *sql.DB.
type sqlGrantStore struct {
	db *sql.DB
}

func (s *sqlGrantStore) LookupGrants(ctx context.Context, clientID string) ([]Kind, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT permission
		FROM client_permissions
		WHERE client_id = $1 AND revoked_at IS NULL
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var kinds []Kind
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		kinds = append(kinds, Kind(k))
	}
	return kinds, rows.Err()
}

// PostgresOracle answers permission questions from the client_permissions table.
type PostgresOracle struct {
	store    GrantStore
	cache    *GrantCache
	logger   *zap.Logger
	failOpen bool
}

// PostgresOracleConfig configures the PostgresOracle.
type PostgresOracleConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	FailOpen bool
	Logger   *zap.Logger
}

// NewPostgresOracle creates a new PostgresOracle.
func NewPostgresOracle(cfg PostgresOracleConfig) *PostgresOracle {
	return NewPostgresOracleWithStore(&sqlGrantStore{db: cfg.DB}, cfg.CacheTTL, cfg.FailOpen, cfg.Logger)
}

// NewPostgresOracleWithStore creates an oracle with a custom store (for testing).
func NewPostgresOracleWithStore(store GrantStore, cacheTTL time.Duration, failOpen bool, logger *zap.Logger) *PostgresOracle {
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	return &PostgresOracle{
		store:    store,
		cache:    NewGrantCache(cacheTTL),
		logger:   logger,
		failOpen: failOpen,
	}
}

func (o *PostgresOracle) HasPermission(ctx context.Context, kind Kind, clientID string) (bool, error) {
	cacheResult := o.cache.Get(clientID)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go o.refreshInBackground(clientID)
		}
		return cacheResult.Grants.Has(kind), nil
	}

	// Cache miss: look up synchronously
	kinds, err := o.store.LookupGrants(ctx, clientID)
	if err != nil {
		if o.failOpen {
			o.logger.Warn("permission lookup failed, degrading to fail-open",
				zap.String("client_id", clientID),
				zap.String("permission", string(kind)),
				zap.Error(err),
			)
			return true, nil
		}
		return false, fmt.Errorf("HasPermission: %w", err)
	}

	return o.cache.Set(clientID, kinds).Has(kind), nil
}

func (o *PostgresOracle) refreshInBackground(clientID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	kinds, err := o.store.LookupGrants(ctx, clientID)
	if err != nil {
		o.logger.Warn("background permission refresh failed",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		o.cache.ReleaseRefresh(clientID)
		return
	}
	o.cache.Set(clientID, kinds)
}
