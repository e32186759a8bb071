package metrics

import (
	"fmt"
	"sort"
	"time"
)

// Detection thresholds.
const (
	lowSuccessRateThreshold = 0.90
	lowSuccessRateMinTotal  = 10

	slowExecutionThreshold = 5 * time.Second
	slowExecutionErrorAt   = 10 * time.Second
	slowExecutionMinTotal  = 5

	recentWindow              = 50
	recentErrorsMinCount      = 10
	recentErrorsRateThreshold = 0.80
)

// detectToolIssues applies every rule to one tool. recent holds at most
// recentWindow of the tool's latest history records.
func detectToolIssues(t ToolMetrics, recent []HistoryRecord) []PerformanceIssue {
	var issues []PerformanceIssue

	if rate := t.SuccessRate(); t.TotalExecutions >= lowSuccessRateMinTotal && rate < lowSuccessRateThreshold {
		issues = append(issues, PerformanceIssue{
			ToolName:    t.ToolName,
			Kind:        IssueLowSuccessRate,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("success rate %.1f%% over %d executions", rate*100, t.TotalExecutions),
			Value:       rate,
			Threshold:   lowSuccessRateThreshold,
		})
	}

	if avg := t.AverageExecutionTime(); t.TotalExecutions >= slowExecutionMinTotal && avg > slowExecutionThreshold {
		sev := SeverityWarning
		if avg > slowExecutionErrorAt {
			sev = SeverityError
		}
		issues = append(issues, PerformanceIssue{
			ToolName:    t.ToolName,
			Kind:        IssueSlowExecution,
			Severity:    sev,
			Description: fmt.Sprintf("average execution time %s", avg.Round(time.Millisecond)),
			Value:       avg.Seconds(),
			Threshold:   slowExecutionThreshold.Seconds(),
		})
	}

	if len(recent) >= recentErrorsMinCount {
		ok := 0
		for _, r := range recent {
			if r.Success {
				ok++
			}
		}
		if rate := float64(ok) / float64(len(recent)); rate < recentErrorsRateThreshold {
			issues = append(issues, PerformanceIssue{
				ToolName:    t.ToolName,
				Kind:        IssueRecentErrors,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("%d of the last %d executions failed", len(recent)-ok, len(recent)),
				Value:       rate,
				Threshold:   recentErrorsRateThreshold,
			})
		}
	}

	return issues
}

// sortIssues orders by severity (worst first), then tool, then kind.
func sortIssues(issues []PerformanceIssue) {
	sort.Slice(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.ToolName != b.ToolName {
			return a.ToolName < b.ToolName
		}
		return a.Kind < b.Kind
	})
}

// ToolsWithPerformanceIssues runs issue detection over every tool.
func (c *Collector) ToolsWithPerformanceIssues() []PerformanceIssue {
	c.mu.Lock()
	gen := c.generation
	if v, ok := c.cache.Get("issues", gen); ok {
		c.mu.Unlock()
		return append([]PerformanceIssue(nil), v.([]PerformanceIssue)...)
	}

	recent := make(map[string][]HistoryRecord, len(c.tools))
	for i := len(c.history) - 1; i >= 0; i-- {
		h := c.history[i]
		if len(recent[h.ToolName]) < recentWindow {
			recent[h.ToolName] = append(recent[h.ToolName], h)
		}
	}
	var issues []PerformanceIssue
	for _, t := range c.tools {
		issues = append(issues, detectToolIssues(*t, recent[t.ToolName])...)
	}
	c.mu.Unlock()

	sortIssues(issues)
	c.cache.Set("issues", gen, issues)
	return append([]PerformanceIssue(nil), issues...)
}
