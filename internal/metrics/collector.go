package metrics

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const (
	DefaultHistoryCap        = 10_000
	DefaultSessionCap        = 1000
	DefaultRetention         = 24 * time.Hour
	DefaultCacheExpiration   = 5 * time.Minute
	DefaultStaleOperationAge = 10 * time.Minute

	eventSource = "tool_gateway"
)

// Config controls collector bounds and sinks. Zero values take defaults.
type Config struct {
	HistoryCap        int
	SessionCap        int
	Retention         time.Duration
	CacheExpiration   time.Duration
	StaleOperationAge time.Duration // active entries older than this are logged on cleanup

	Writer   storage.EventWriter // nil discards events
	Exporter *Exporter           // nil disables Prometheus export
	Now      func() time.Time
}

func (c Config) withDefaults() Config {
	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}
	if c.SessionCap <= 0 {
		c.SessionCap = DefaultSessionCap
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.CacheExpiration <= 0 {
		c.CacheExpiration = DefaultCacheExpiration
	}
	if c.StaleOperationAge <= 0 {
		c.StaleOperationAge = DefaultStaleOperationAge
	}
	if c.Writer == nil {
		c.Writer = storage.NopWriter{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Collector tracks operation start/complete pairs and maintains per-tool,
// per-session and global aggregates plus a bounded history. All state is
// guarded by mu; sinks are called after it is released.
type Collector struct {
	mu            sync.Mutex
	active        map[string]*OperationContext
	tools         map[string]*ToolMetrics
	sessions      map[string]*SessionMetrics
	global        GlobalMetrics
	uniqueTools   map[string]struct{}
	uniqueClients map[string]struct{}
	history       []HistoryRecord
	generation    uint64

	cache  *DerivedCache
	cfg    Config
	logger *zap.Logger
}

// NewCollector creates an empty collector.
func NewCollector(cfg Config, logger *zap.Logger) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{
		active:        make(map[string]*OperationContext),
		tools:         make(map[string]*ToolMetrics),
		sessions:      make(map[string]*SessionMetrics),
		global:        GlobalMetrics{StartTime: cfg.Now()},
		uniqueTools:   make(map[string]struct{}),
		uniqueClients: make(map[string]struct{}),
		cache:         NewDerivedCache(cfg.CacheExpiration, cfg.Now),
		cfg:           cfg,
		logger:        logger,
	}
}

// StartOperation records an in-flight operation. An empty operationID gets
// a generated one. Starting an id that is already active returns the
// existing context unchanged.
func (c *Collector) StartOperation(toolName, clientID, operationID string, params map[string]any) *OperationContext {
	if operationID == "" {
		operationID = uuid.NewString()
	}

	c.mu.Lock()
	if existing, ok := c.active[operationID]; ok {
		c.mu.Unlock()
		c.logger.Warn("operation already active",
			zap.String("operation_id", operationID),
			zap.String("tool_name", toolName),
		)
		cp := *existing
		return &cp
	}
	op := &OperationContext{
		OperationID: operationID,
		ToolName:    toolName,
		ClientID:    clientID,
		Parameters:  params,
		StartTime:   c.cfg.Now(),
	}
	c.active[operationID] = op
	c.mu.Unlock()

	c.cfg.Exporter.startActive()
	cp := *op
	return &cp
}

// CompleteOperation closes an active operation and applies it to every
// aggregate view and the history before returning. An unknown id is logged
// and ignored: it returns nil and changes nothing.
func (c *Collector) CompleteOperation(operationID string, success bool, result any, err error) *OperationMetrics {
	c.mu.Lock()
	op, ok := c.active[operationID]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("completing unknown operation",
			zap.String("operation_id", operationID),
		)
		return nil
	}
	delete(c.active, operationID)

	end := c.cfg.Now()
	m := OperationMetrics{
		OperationID:   operationID,
		ToolName:      op.ToolName,
		ClientID:      op.ClientID,
		StartTime:     op.StartTime,
		EndTime:       end,
		ExecutionTime: end.Sub(op.StartTime),
		Success:       success,
		ResultSize:    resultSize(result),
	}
	if err != nil {
		m.Error = err.Error()
	}

	c.applyTool(m)
	c.applySession(m)
	c.applyGlobal(m)
	c.appendHistory(HistoryRecord{
		Timestamp:     end,
		ToolName:      m.ToolName,
		ClientID:      m.ClientID,
		ExecutionTime: m.ExecutionTime,
		Success:       m.Success,
	})
	c.generation++
	c.mu.Unlock()

	c.cfg.Exporter.endActive()
	c.cfg.Exporter.observe(&m)
	c.cfg.Writer.Write(&storage.OperationEvent{
		OperationID:     m.OperationID,
		ToolName:        m.ToolName,
		ClientID:        m.ClientID,
		StartedAt:       m.StartTime,
		CompletedAt:     m.EndTime,
		ExecutionTimeMs: float32(m.ExecutionTime.Seconds() * 1000),
		Success:         m.Success,
		ResultSize:      uint64(m.ResultSize),
		Error:           m.Error,
		Source:          eventSource,
	})
	return &m
}

func (c *Collector) applyTool(m OperationMetrics) {
	t, ok := c.tools[m.ToolName]
	if !ok {
		t = &ToolMetrics{ToolName: m.ToolName, MinExecutionTime: m.ExecutionTime}
		c.tools[m.ToolName] = t
	}
	t.TotalExecutions++
	if m.Success {
		t.SuccessfulExecutions++
	}
	t.TotalExecutionTime += m.ExecutionTime
	if m.ExecutionTime < t.MinExecutionTime {
		t.MinExecutionTime = m.ExecutionTime
	}
	if m.ExecutionTime > t.MaxExecutionTime {
		t.MaxExecutionTime = m.ExecutionTime
	}
	t.TotalResultSize += int64(m.ResultSize)
	t.LastExecution = m.EndTime
}

func (c *Collector) applySession(m OperationMetrics) {
	s, ok := c.sessions[m.ClientID]
	if !ok {
		s = &SessionMetrics{ClientID: m.ClientID, FirstSeen: m.StartTime}
		c.sessions[m.ClientID] = s
	}
	s.Operations = append(s.Operations, m)
	if over := len(s.Operations) - c.cfg.SessionCap; over > 0 {
		s.Operations = s.Operations[over:]
	}
	s.LastActivity = m.EndTime
}

func (c *Collector) applyGlobal(m OperationMetrics) {
	c.global.TotalOperations++
	if m.Success {
		c.global.SuccessfulOperations++
	}
	c.global.TotalExecutionTime += m.ExecutionTime
	c.uniqueTools[m.ToolName] = struct{}{}
	c.uniqueClients[m.ClientID] = struct{}{}
}

func (c *Collector) appendHistory(r HistoryRecord) {
	c.history = append(c.history, r)
	c.trimHistory()
}

// trimHistory evicts the oldest records beyond the cap. Returns the number removed.
func (c *Collector) trimHistory() int {
	over := len(c.history) - c.cfg.HistoryCap
	if over <= 0 {
		return 0
	}
	c.history = c.history[over:]
	return over
}

// --- queries ---

// ToolMetrics returns a snapshot of one tool's aggregate.
func (c *Collector) ToolMetrics(toolName string) (ToolMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tools[toolName]
	if !ok {
		return ToolMetrics{}, false
	}
	return *t, true
}

// AllToolMetrics returns every tool aggregate sorted by name.
func (c *Collector) AllToolMetrics() []ToolMetrics {
	c.mu.Lock()
	out := make([]ToolMetrics, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, *t)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out
}

// GlobalMetrics returns a snapshot of the global aggregate.
func (c *Collector) GlobalMetrics() GlobalMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.global
	g.UniqueTools = len(c.uniqueTools)
	g.UniqueClients = len(c.uniqueClients)
	g.ActiveOperations = len(c.active)
	return g
}

// SessionMetrics returns a snapshot of one client's session.
func (c *Collector) SessionMetrics(clientID string) (SessionMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[clientID]
	if !ok {
		return SessionMetrics{}, false
	}
	cp := *s
	cp.Operations = append([]OperationMetrics(nil), s.Operations...)
	return cp, true
}

// ActiveOperations returns the number of started, uncompleted operations.
func (c *Collector) ActiveOperations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// PerformanceHistory returns history records with from <= timestamp <= to.
// A zero bound is open.
func (c *Collector) PerformanceHistory(from, to time.Time) []HistoryRecord {
	r := TimeRange{From: from, To: to}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []HistoryRecord
	for _, h := range c.history {
		if r.Contains(h.Timestamp) {
			out = append(out, h)
		}
	}
	return out
}

// TopPerformingTools ranks tools by success rate, highest first, ties by
// name. limit <= 0 returns every tool.
func (c *Collector) TopPerformingTools(limit int) []ToolMetrics {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	var ranked []ToolMetrics
	if v, ok := c.cache.Get("top_tools", gen); ok {
		ranked = v.([]ToolMetrics)
	} else {
		ranked = c.AllToolMetrics()
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].SuccessRate() > ranked[j].SuccessRate()
		})
		c.cache.Set("top_tools", gen, ranked)
	}

	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return append([]ToolMetrics(nil), ranked...)
}

func resultSize(result any) int {
	switch v := result.(type) {
	case nil:
		return 0
	case string:
		return len(v)
	case []byte:
		return len(v)
	case proto.Message:
		if !v.ProtoReflect().IsValid() {
			return 0
		}
		return proto.Size(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return 0
		}
		return len(raw)
	}
}
