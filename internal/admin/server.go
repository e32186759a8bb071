// Package admin serves the gateway's HTTP surface: tool discovery and
// execution, policy overrides, usage metrics and the Prometheus scrape
// endpoint.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/metrics"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/registry"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server exposes registry and collector state over HTTP.
type Server struct {
	registry  *registry.Registry
	collector *metrics.Collector
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	now       func() time.Time

	policies    *engine.Middleware
	policyStore PolicyStore
}

const timeFormat = time.RFC3339Nano

// NewServer creates an admin Server. A nil gatherer disables /metrics.
func NewServer(reg *registry.Registry, collector *metrics.Collector, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	return &Server{
		registry:  reg,
		collector: collector,
		gatherer:  gatherer,
		logger:    logger,
		now:       time.Now,
	}
}

// Router builds the chi router for all admin routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tools", s.listTools)
		r.Get("/tools/{name}", s.getTool)
		r.Get("/tools/{name}/metrics", s.getToolMetrics)
		r.Post("/tools/{name}/execute", s.executeTool)
		r.Get("/categories", s.categoryStatistics)
		r.Get("/metrics/global", s.globalMetrics)
		r.Get("/metrics/top", s.topTools)
		r.Get("/sessions/{client_id}", s.getSession)
		r.Get("/issues", s.issues)
		r.Get("/report", s.report)
		if s.policies != nil {
			s.policyRoutes(r)
		}
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type globalResponse struct {
	metrics.GlobalMetrics
	SuccessRate float64 `json:"success_rate"`
}

type toolMetricsResponse struct {
	metrics.ToolMetrics
	SuccessRate          float64       `json:"success_rate"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
}

func newToolMetricsResponse(m metrics.ToolMetrics) toolMetricsResponse {
	return toolMetricsResponse{
		ToolMetrics:          m,
		SuccessRate:          m.SuccessRate(),
		AverageExecutionTime: m.AverageExecutionTime(),
	}
}

// listTools supports ?category=, ?permission=, ?q= and ?offline=true.
// Filters are mutually exclusive; the first one present wins.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var tools []registry.Descriptor
	switch {
	case q.Get("category") != "":
		tools = s.registry.ByCategory(registry.Category(q.Get("category")))
	case q.Get("permission") != "":
		tools = s.registry.ByPermission(permission.Kind(q.Get("permission")))
	case q.Get("q") != "":
		tools = s.registry.Search(q.Get("q"))
	case q.Get("offline") == "true":
		tools = s.registry.OfflineCapable()
	default:
		tools = s.registry.ListAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools, "count": len(tools)})
}

func (s *Server) getTool(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.Descriptor(chi.URLParam(r, "name"))
	if errors.Is(err, registry.ErrToolNotFound) {
		writeError(w, http.StatusNotFound, "tool not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ExecuteRequest is the body of POST /v1/tools/{name}/execute. The client id
// may also be supplied through the X-Client-ID header.
type ExecuteRequest struct {
	ClientID   string          `json:"client_id"`
	RequestID  string          `json:"request_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// executeTool always answers 200 with the response envelope once the
// request is well formed; tool failures travel inside the envelope.
func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClientID == "" {
		req.ClientID = r.Header.Get("X-Client-ID")
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	params, err := decodeParameters(req.Parameters)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parameters must be a JSON object")
		return
	}
	if req.RequestID == "" {
		req.RequestID = middleware.GetReqID(r.Context())
	}

	resp := s.registry.ExecuteTool(r.Context(), chi.URLParam(r, "name"), params, engine.ExecutionContext{
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
	})
	writeJSON(w, http.StatusOK, resp)
}

func decodeParameters(raw json.RawMessage) (registry.Parameters, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var st structpb.Struct
	if err := protojson.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return registry.Parameters(st.GetFields()), nil
}

func (s *Server) getToolMetrics(w http.ResponseWriter, r *http.Request) {
	m, ok := s.collector.ToolMetrics(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "no metrics for tool")
		return
	}
	writeJSON(w, http.StatusOK, newToolMetricsResponse(m))
}

func (s *Server) categoryStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": s.registry.CategoryStatistics()})
}

func (s *Server) globalMetrics(w http.ResponseWriter, _ *http.Request) {
	g := s.collector.GlobalMetrics()
	writeJSON(w, http.StatusOK, globalResponse{GlobalMetrics: g, SuccessRate: g.SuccessRate()})
}

func (s *Server) topTools(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	top := s.collector.TopPerformingTools(limit)
	out := make([]toolMetricsResponse, len(top))
	for i, m := range top {
		out[i] = newToolMetricsResponse(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.collector.SessionMetrics(chi.URLParam(r, "client_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) issues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"issues": s.collector.ToolsWithPerformanceIssues()})
}

// report accepts since as an RFC 3339 timestamp or a Go duration ("1h")
// counted back from now. An absent since covers all retained history.
func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var tr metrics.TimeRange
	if v := q.Get("since"); v != "" {
		from, err := s.parseSince(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 time or a duration")
			return
		}
		tr.From = from
	}
	includeDetails := q.Get("include_details") == "true"
	writeJSON(w, http.StatusOK, s.collector.GeneratePerformanceReport(tr, includeDetails))
}

func (s *Server) parseSince(v string) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return s.now().Add(-d), nil
	}
	return time.Parse(time.RFC3339, v)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
