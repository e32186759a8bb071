package metrics

import (
	"go.uber.org/zap"
)

// CleanupExpiredMetrics drops history and sessions older than the retention
// window, re-applies the history cap and purges expired derived-cache
// entries. Active operations older than StaleOperationAge are logged but
// never removed. Callers decide when to run it.
func (c *Collector) CleanupExpiredMetrics() CleanupResult {
	var res CleanupResult

	c.mu.Lock()
	now := c.cfg.Now()
	cutoff := now.Add(-c.cfg.Retention)

	kept := c.history[:0]
	for _, h := range c.history {
		if h.Timestamp.Before(cutoff) {
			res.HistoryRemoved++
			continue
		}
		kept = append(kept, h)
	}
	// Clear the tail so evicted records can be collected.
	for i := len(kept); i < len(c.history); i++ {
		c.history[i] = HistoryRecord{}
	}
	c.history = kept
	res.HistoryRemoved += c.trimHistory()

	for id, s := range c.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(c.sessions, id)
			res.SessionsRemoved++
		}
	}

	type stale struct {
		id, tool string
		age      float64
	}
	var leaks []stale
	for id, op := range c.active {
		if age := now.Sub(op.StartTime); age > c.cfg.StaleOperationAge {
			leaks = append(leaks, stale{id: id, tool: op.ToolName, age: age.Seconds()})
		}
	}
	res.StaleActive = len(leaks)

	if res.HistoryRemoved > 0 || res.SessionsRemoved > 0 {
		c.generation++
	}
	c.mu.Unlock()

	res.CacheEntriesRemoved = c.cache.Purge()

	for _, l := range leaks {
		c.logger.Warn("operation active past stale threshold",
			zap.String("operation_id", l.id),
			zap.String("tool_name", l.tool),
			zap.Float64("age_seconds", l.age),
		)
	}
	c.logger.Info("metrics cleanup completed",
		zap.Int("history_removed", res.HistoryRemoved),
		zap.Int("sessions_removed", res.SessionsRemoved),
		zap.Int("cache_entries_removed", res.CacheEntriesRemoved),
		zap.Int("stale_active", res.StaleActive),
	)
	return res
}
