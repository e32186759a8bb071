package metrics

import (
	"fmt"
	"time"
)

// OperationContext is an in-flight operation in the active table.
type OperationContext struct {
	OperationID string         `json:"operation_id"`
	ToolName    string         `json:"tool_name"`
	ClientID    string         `json:"client_id"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	StartTime   time.Time      `json:"start_time"`
}

// OperationMetrics is the immutable record of a completed operation.
type OperationMetrics struct {
	OperationID   string        `json:"operation_id"`
	ToolName      string        `json:"tool_name"`
	ClientID      string        `json:"client_id"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	ExecutionTime time.Duration `json:"execution_time"`
	Success       bool          `json:"success"`
	ResultSize    int           `json:"result_size"`
	Error         string        `json:"error,omitempty"`
}

// ToolMetrics aggregates every completed operation of one tool.
type ToolMetrics struct {
	ToolName             string        `json:"tool_name"`
	TotalExecutions      int           `json:"total_executions"`
	SuccessfulExecutions int           `json:"successful_executions"`
	TotalExecutionTime   time.Duration `json:"total_execution_time"`
	MinExecutionTime     time.Duration `json:"min_execution_time"`
	MaxExecutionTime     time.Duration `json:"max_execution_time"`
	TotalResultSize      int64         `json:"total_result_size"`
	LastExecution        time.Time     `json:"last_execution"`
}

// SuccessRate is successful/total, or 0 with no executions.
func (m ToolMetrics) SuccessRate() float64 {
	if m.TotalExecutions == 0 {
		return 0
	}
	return float64(m.SuccessfulExecutions) / float64(m.TotalExecutions)
}

// AverageExecutionTime is the mean execution time, or 0 with no executions.
func (m ToolMetrics) AverageExecutionTime() time.Duration {
	if m.TotalExecutions == 0 {
		return 0
	}
	return m.TotalExecutionTime / time.Duration(m.TotalExecutions)
}

// SessionMetrics holds the recent operations of one client.
type SessionMetrics struct {
	ClientID     string             `json:"client_id"`
	Operations   []OperationMetrics `json:"operations"`
	FirstSeen    time.Time          `json:"first_seen"`
	LastActivity time.Time          `json:"last_activity"`
}

// GlobalMetrics aggregates across all tools and clients.
type GlobalMetrics struct {
	TotalOperations      int           `json:"total_operations"`
	SuccessfulOperations int           `json:"successful_operations"`
	TotalExecutionTime   time.Duration `json:"total_execution_time"`
	UniqueTools          int           `json:"unique_tools"`
	UniqueClients        int           `json:"unique_clients"`
	ActiveOperations     int           `json:"active_operations"`
	StartTime            time.Time     `json:"start_time"`
}

// SuccessRate is successful/total, or 0 with no operations.
func (g GlobalMetrics) SuccessRate() float64 {
	if g.TotalOperations == 0 {
		return 0
	}
	return float64(g.SuccessfulOperations) / float64(g.TotalOperations)
}

// HistoryRecord is a lightweight entry in the performance history.
type HistoryRecord struct {
	Timestamp     time.Time     `json:"timestamp"`
	ToolName      string        `json:"tool_name"`
	ClientID      string        `json:"client_id"`
	ExecutionTime time.Duration `json:"execution_time"`
	Success       bool          `json:"success"`
}

// Severity orders performance issues. Higher is worse.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IssueKind names a detection rule.
type IssueKind string

const (
	IssueLowSuccessRate IssueKind = "low_success_rate"
	IssueSlowExecution  IssueKind = "slow_execution"
	IssueRecentErrors   IssueKind = "recent_errors"
)

// PerformanceIssue is one rule firing for one tool.
type PerformanceIssue struct {
	ToolName    string    `json:"tool_name"`
	Kind        IssueKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
}

// TimeRange is an inclusive [From, To] interval. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// ToolReport is the per-tool slice of a performance report.
type ToolReport struct {
	ToolName             string        `json:"tool_name"`
	Executions           int           `json:"executions"`
	SuccessRate          float64       `json:"success_rate"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	MaxExecutionTime     time.Duration `json:"max_execution_time"`
}

// PerformanceReport summarizes the history within a time range.
type PerformanceReport struct {
	GeneratedAt          time.Time          `json:"generated_at"`
	Range                TimeRange          `json:"range"`
	TotalOperations      int                `json:"total_operations"`
	SuccessRate          float64            `json:"success_rate"`
	AverageExecutionTime time.Duration      `json:"average_execution_time"`
	UniqueTools          int                `json:"unique_tools"`
	UniqueClients        int                `json:"unique_clients"`
	Issues               []PerformanceIssue `json:"issues"`
	Tools                []ToolReport       `json:"tools,omitempty"`
	History              []HistoryRecord    `json:"history,omitempty"`
}

// CleanupResult reports what a cleanup pass removed.
type CleanupResult struct {
	HistoryRemoved      int `json:"history_removed"`
	SessionsRemoved     int `json:"sessions_removed"`
	CacheEntriesRemoved int `json:"cache_entries_removed"`
	StaleActive         int `json:"stale_active"`
}
