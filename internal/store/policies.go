package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
)

// PolicyOverride represents a row in the policy_overrides table.
type PolicyOverride struct {
	Scope     string          `json:"scope"`
	Key       string          `json:"key"`
	Policy    json.RawMessage `json:"policy"` // JSONB
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Override decodes the row into the form the middleware installs.
func (p *PolicyOverride) Override() (engine.Override, error) {
	return decodeOverride(p.Scope, p.Key, p.Policy)
}

// ListOverrides returns every persisted override. It implements
// engine.OverrideSource.
func (s *Store) ListOverrides(ctx context.Context) ([]engine.Override, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, key, policy FROM policy_overrides ORDER BY scope, key`)
	if err != nil {
		return nil, fmt.Errorf("ListOverrides: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []engine.Override
	for rows.Next() {
		var scope, key string
		var raw []byte
		if err := rows.Scan(&scope, &key, &raw); err != nil {
			return nil, fmt.Errorf("ListOverrides: %w", err)
		}
		o, err := decodeOverride(scope, key, raw)
		if err != nil {
			return nil, fmt.Errorf("ListOverrides: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListOverrides: %w", err)
	}
	return out, nil
}

// GetPolicyOverride returns one override, or nil if not found.
func (s *Store) GetPolicyOverride(ctx context.Context, scope, key string) (*PolicyOverride, error) {
	var p PolicyOverride
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT scope, key, policy, created_at, updated_at
		FROM policy_overrides WHERE scope = $1 AND key = $2`, scope, key,
	).Scan(&p.Scope, &p.Key, &raw, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPolicyOverride: %w", err)
	}
	p.Policy = raw
	return &p, nil
}

// UpsertPolicyOverride validates and stores an override. Last write wins.
func (s *Store) UpsertPolicyOverride(ctx context.Context, o engine.Override) error {
	raw, err := encodeOverride(o)
	if err != nil {
		return fmt.Errorf("UpsertPolicyOverride: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_overrides (scope, key, policy)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope, key) DO UPDATE SET
			policy     = EXCLUDED.policy,
			updated_at = now()`,
		o.Scope, o.Key, raw,
	)
	if err != nil {
		return fmt.Errorf("UpsertPolicyOverride: %w", err)
	}
	return nil
}

// DeletePolicyOverride removes an override. Returns false if none existed.
func (s *Store) DeletePolicyOverride(ctx context.Context, scope, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM policy_overrides WHERE scope = $1 AND key = $2`, scope, key)
	if err != nil {
		return false, fmt.Errorf("DeletePolicyOverride: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("DeletePolicyOverride: %w", err)
	}
	return n > 0, nil
}

func decodeOverride(scope, key string, raw []byte) (engine.Override, error) {
	if scope != engine.ScopeTool && scope != engine.ScopeClient {
		return engine.Override{}, fmt.Errorf("override %q: unknown scope %q", key, scope)
	}
	// Fields absent from the row keep their process defaults.
	p := engine.DefaultPolicy()
	if err := json.Unmarshal(raw, &p); err != nil {
		return engine.Override{}, fmt.Errorf("override %s %q: %w", scope, key, err)
	}
	return engine.Override{Scope: scope, Key: key, Policy: p}, nil
}

func encodeOverride(o engine.Override) ([]byte, error) {
	if o.Scope != engine.ScopeTool && o.Scope != engine.ScopeClient {
		return nil, fmt.Errorf("unknown scope %q", o.Scope)
	}
	if o.Key == "" {
		return nil, fmt.Errorf("empty override key")
	}
	if err := o.Policy.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(o.Policy)
}
