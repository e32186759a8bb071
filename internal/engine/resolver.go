package engine

import (
	"context"
	"errors"
	"fmt"
)

// Override scopes.
const (
	ScopeTool   = "tool"
	ScopeClient = "client"
)

// Override is a persisted policy override for one tool or one client.
type Override struct {
	Scope  string
	Key    string
	Policy Policy
}

// ErrUnknownScope is returned for an override scope other than tool or client.
var ErrUnknownScope = errors.New("unknown override scope")

// OverrideSource loads persisted overrides.
type OverrideSource interface {
	ListOverrides(ctx context.Context) ([]Override, error)
}

// SetDefaultPolicy replaces the process-wide default.
func (m *Middleware) SetDefaultPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.defaultPolicy = p
	m.mu.Unlock()
	return nil
}

// DefaultPolicy returns the process-wide default.
func (m *Middleware) DefaultPolicy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultPolicy
}

// SetToolPolicy installs a tool override. Last write wins.
func (m *Middleware) SetToolPolicy(toolName string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.toolPolicies[toolName] = p
	m.mu.Unlock()
	return nil
}

// SetClientPolicy installs a client override. Last write wins.
func (m *Middleware) SetClientPolicy(clientID string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.clientPolicies[clientID] = p
	m.mu.Unlock()
	return nil
}

func (m *Middleware) RemoveToolPolicy(toolName string) {
	m.mu.Lock()
	delete(m.toolPolicies, toolName)
	m.mu.Unlock()
}

func (m *Middleware) RemoveClientPolicy(clientID string) {
	m.mu.Lock()
	delete(m.clientPolicies, clientID)
	m.mu.Unlock()
}

// ApplyOverride installs o in the table its scope names.
func (m *Middleware) ApplyOverride(o Override) error {
	switch o.Scope {
	case ScopeTool:
		return m.SetToolPolicy(o.Key, o.Policy)
	case ScopeClient:
		return m.SetClientPolicy(o.Key, o.Policy)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScope, o.Scope)
	}
}

// LookupOverride returns the installed override for scope and key.
func (m *Middleware) LookupOverride(scope, key string) (Policy, bool, error) {
	table, err := m.overrideTable(scope)
	if err != nil {
		return Policy{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := table[key]
	return p, ok, nil
}

// RemoveOverride drops the override for scope and key and reports whether
// one was installed.
func (m *Middleware) RemoveOverride(scope, key string) (bool, error) {
	table, err := m.overrideTable(scope)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := table[key]
	delete(table, key)
	return ok, nil
}

func (m *Middleware) overrideTable(scope string) (map[string]Policy, error) {
	switch scope {
	case ScopeTool:
		return m.toolPolicies, nil
	case ScopeClient:
		return m.clientPolicies, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
}

// EffectivePolicy resolves the policy for a (tool, client) pair:
// client override, else tool override, else the default.
func (m *Middleware) EffectivePolicy(toolName, clientID string) Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.clientPolicies[clientID]; ok {
		return p
	}
	if p, ok := m.toolPolicies[toolName]; ok {
		return p
	}
	return m.defaultPolicy
}

// LoadOverrides installs every override the source returns. Invalid entries
// abort the load before any table is touched.
func (m *Middleware) LoadOverrides(ctx context.Context, src OverrideSource) (int, error) {
	overrides, err := src.ListOverrides(ctx)
	if err != nil {
		return 0, fmt.Errorf("LoadOverrides: %w", err)
	}
	for _, o := range overrides {
		if err := o.Policy.Validate(); err != nil {
			return 0, fmt.Errorf("LoadOverrides: %s %q: %w", o.Scope, o.Key, err)
		}
		if o.Scope != ScopeTool && o.Scope != ScopeClient {
			return 0, fmt.Errorf("LoadOverrides: unknown scope %q", o.Scope)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range overrides {
		if o.Scope == ScopeTool {
			m.toolPolicies[o.Key] = o.Policy
		} else {
			m.clientPolicies[o.Key] = o.Policy
		}
	}
	return len(overrides), nil
}
