package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter publishes completed operations as Prometheus metrics. Each
// exporter owns its registry so collectors in tests do not collide.
type Exporter struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	resultSize *prometheus.HistogramVec
	active     prometheus.Gauge
}

// NewExporter creates an exporter and registers its metrics.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tool_gateway",
				Subsystem: "tool",
				Name:      "operations_total",
				Help:      "Total completed tool operations.",
			},
			[]string{"tool", "success"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tool_gateway",
				Subsystem: "tool",
				Name:      "operation_duration_seconds",
				Help:      "Tool operation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool", "success"},
		),
		resultSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tool_gateway",
				Subsystem: "tool",
				Name:      "result_size_bytes",
				Help:      "Size of tool results in bytes.",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"tool"},
		),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tool_gateway",
			Subsystem: "tool",
			Name:      "active_operations",
			Help:      "Operations started but not yet completed.",
		}),
	}
	e.registry.MustRegister(e.operations, e.duration, e.resultSize, e.active)
	return e
}

// Gatherer exposes the exporter's registry for scraping.
func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.registry
}

func (e *Exporter) observe(m *OperationMetrics) {
	if e == nil {
		return
	}
	successLabel := strconv.FormatBool(m.Success)
	e.operations.WithLabelValues(m.ToolName, successLabel).Inc()
	e.duration.WithLabelValues(m.ToolName, successLabel).Observe(m.ExecutionTime.Seconds())
	e.resultSize.WithLabelValues(m.ToolName).Observe(float64(m.ResultSize))
}

// The active gauge moves by deltas so concurrent starts and completions
// commute regardless of the order they reach the exporter.
func (e *Exporter) startActive() {
	if e == nil {
		return
	}
	e.active.Inc()
}

func (e *Exporter) endActive() {
	if e == nil {
		return
	}
	e.active.Dec()
}
