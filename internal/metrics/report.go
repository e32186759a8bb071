package metrics

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// GeneratePerformanceReport summarizes the history within r. With
// includeDetails the report also carries per-tool breakdowns and the
// matching history records.
func (c *Collector) GeneratePerformanceReport(r TimeRange, includeDetails bool) PerformanceReport {
	history := c.PerformanceHistory(r.From, r.To)

	report := PerformanceReport{
		GeneratedAt:     c.cfg.Now(),
		Range:           r,
		TotalOperations: len(history),
		Issues:          c.ToolsWithPerformanceIssues(),
	}

	type acc struct {
		n, ok int
		total time.Duration
		max   time.Duration
	}
	perTool := make(map[string]*acc)
	clients := make(map[string]struct{})
	var ok int
	var total time.Duration
	for _, h := range history {
		a, found := perTool[h.ToolName]
		if !found {
			a = &acc{}
			perTool[h.ToolName] = a
		}
		a.n++
		a.total += h.ExecutionTime
		if h.ExecutionTime > a.max {
			a.max = h.ExecutionTime
		}
		if h.Success {
			a.ok++
			ok++
		}
		total += h.ExecutionTime
		clients[h.ClientID] = struct{}{}
	}

	report.UniqueTools = len(perTool)
	report.UniqueClients = len(clients)
	if n := len(history); n > 0 {
		report.SuccessRate = float64(ok) / float64(n)
		report.AverageExecutionTime = total / time.Duration(n)
	}

	if includeDetails {
		for name, a := range perTool {
			report.Tools = append(report.Tools, ToolReport{
				ToolName:             name,
				Executions:           a.n,
				SuccessRate:          float64(a.ok) / float64(a.n),
				AverageExecutionTime: a.total / time.Duration(a.n),
				MaxExecutionTime:     a.max,
			})
		}
		sort.Slice(report.Tools, func(i, j int) bool { return report.Tools[i].ToolName < report.Tools[j].ToolName })
		report.History = history
	}

	c.logger.Debug("performance report generated",
		zap.Int("total_operations", report.TotalOperations),
		zap.Int("issues", len(report.Issues)),
		zap.Bool("include_details", includeDetails),
	)
	return report
}
