package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/store"
	"go.uber.org/zap"
)

// PolicyStore persists policy overrides. *store.Store satisfies it.
type PolicyStore interface {
	GetPolicyOverride(ctx context.Context, scope, key string) (*store.PolicyOverride, error)
	UpsertPolicyOverride(ctx context.Context, o engine.Override) error
	DeletePolicyOverride(ctx context.Context, scope, key string) (bool, error)
}

// WithPolicies mounts the /v1/policies routes. A nil store keeps overrides
// in memory only.
func (s *Server) WithPolicies(mw *engine.Middleware, st PolicyStore) *Server {
	s.policies = mw
	s.policyStore = st
	return s
}

func (s *Server) policyRoutes(r chi.Router) {
	r.Get("/policies/default", s.getDefaultPolicy)
	r.Get("/policies/effective", s.getEffectivePolicy)
	r.Get("/policies/{scope}/{key}", s.getPolicyOverride)
	r.Put("/policies/{scope}/{key}", s.putPolicyOverride)
	r.Delete("/policies/{scope}/{key}", s.deletePolicyOverride)
}

type overrideResponse struct {
	Scope  string        `json:"scope"`
	Key    string        `json:"key"`
	Policy engine.Policy `json:"policy"`
	Stored *storedMeta   `json:"stored,omitempty"`
}

type storedMeta struct {
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (s *Server) getDefaultPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.policies.DefaultPolicy())
}

// getEffectivePolicy resolves ?tool= and ?client= the way execution does.
func (s *Server) getEffectivePolicy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.policies.EffectivePolicy(q.Get("tool"), q.Get("client")))
}

// getPolicyOverride reads the persisted row when a store is configured and
// the installed override otherwise.
func (s *Server) getPolicyOverride(w http.ResponseWriter, r *http.Request) {
	scope, key := chi.URLParam(r, "scope"), chi.URLParam(r, "key")

	if s.policyStore == nil {
		p, ok, err := s.policies.LookupOverride(scope, key)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "policy override not found")
			return
		}
		writeJSON(w, http.StatusOK, overrideResponse{Scope: scope, Key: key, Policy: p})
		return
	}

	if scope != engine.ScopeTool && scope != engine.ScopeClient {
		writeError(w, http.StatusBadRequest, engine.ErrUnknownScope.Error())
		return
	}
	row, err := s.policyStore.GetPolicyOverride(r.Context(), scope, key)
	if err != nil {
		s.logger.Error("policy override read failed", zap.String("scope", scope), zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read policy override")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "policy override not found")
		return
	}
	o, err := row.Override()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, overrideResponse{
		Scope:  o.Scope,
		Key:    o.Key,
		Policy: o.Policy,
		Stored: &storedMeta{
			CreatedAt: row.CreatedAt.UTC().Format(timeFormat),
			UpdatedAt: row.UpdatedAt.UTC().Format(timeFormat),
		},
	})
}

// putPolicyOverride persists first, then installs, so a failed write never
// leaves the running table ahead of the store. Absent fields take the
// process defaults.
func (s *Server) putPolicyOverride(w http.ResponseWriter, r *http.Request) {
	o := engine.Override{
		Scope:  chi.URLParam(r, "scope"),
		Key:    chi.URLParam(r, "key"),
		Policy: engine.DefaultPolicy(),
	}
	if o.Scope != engine.ScopeTool && o.Scope != engine.ScopeClient {
		writeError(w, http.StatusBadRequest, engine.ErrUnknownScope.Error())
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&o.Policy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy body")
		return
	}
	if err := o.Policy.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.policyStore != nil {
		if err := s.policyStore.UpsertPolicyOverride(r.Context(), o); err != nil {
			s.logger.Error("policy override write failed", zap.String("scope", o.Scope), zap.String("key", o.Key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store policy override")
			return
		}
	}
	if err := s.policies.ApplyOverride(o); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("policy override installed", zap.String("scope", o.Scope), zap.String("key", o.Key))
	writeJSON(w, http.StatusOK, overrideResponse{Scope: o.Scope, Key: o.Key, Policy: o.Policy})
}

func (s *Server) deletePolicyOverride(w http.ResponseWriter, r *http.Request) {
	scope, key := chi.URLParam(r, "scope"), chi.URLParam(r, "key")
	if scope != engine.ScopeTool && scope != engine.ScopeClient {
		writeError(w, http.StatusBadRequest, engine.ErrUnknownScope.Error())
		return
	}

	var stored bool
	if s.policyStore != nil {
		var err error
		stored, err = s.policyStore.DeletePolicyOverride(r.Context(), scope, key)
		if err != nil {
			s.logger.Error("policy override delete failed", zap.String("scope", scope), zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to delete policy override")
			return
		}
	}
	installed, err := s.policies.RemoveOverride(scope, key)
	if errors.Is(err, engine.ErrUnknownScope) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !stored && !installed {
		writeError(w, http.StatusNotFound, "policy override not found")
		return
	}
	s.logger.Info("policy override removed", zap.String("scope", scope), zap.String("key", key))
	w.WriteHeader(http.StatusNoContent)
}
