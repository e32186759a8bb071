package main

import (
	"context"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/metrics"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/registry"
	"google.golang.org/protobuf/types/known/structpb"
)

// registerBuiltins adds the gateway's own diagnostic tools.
func registerBuiltins(reg *registry.Registry, collector *metrics.Collector) error {
	status := registry.Descriptor{
		Name:        "gateway_status",
		Description: "Reports gateway-wide operation counters",
		InputSchema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
		},
		Category:       registry.CategoryUtility,
		OfflineCapable: true,
	}
	return reg.Register(status, registry.HandlerFunc(
		func(context.Context, registry.Parameters, engine.ExecutionContext) (*structpb.Value, error) {
			g := collector.GlobalMetrics()
			return structpb.NewValue(map[string]any{
				"total_operations":      g.TotalOperations,
				"successful_operations": g.SuccessfulOperations,
				"success_rate":          g.SuccessRate(),
				"active_operations":     g.ActiveOperations,
				"unique_tools":          g.UniqueTools,
				"unique_clients":        g.UniqueClients,
			})
		},
	))
}
