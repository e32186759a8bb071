package checks

import (
	"context"
	"fmt"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
)

// RequirementCheck verifies that the host satisfies the tool's resource
// requirements from the rule table.
type RequirementCheck struct {
	probe engine.ResourceProbe
}

// NewRequirementCheck creates the check. A nil probe reads the host.
func NewRequirementCheck(probe engine.ResourceProbe) *RequirementCheck {
	if probe == nil {
		probe = engine.NewHostProbe()
	}
	return &RequirementCheck{probe: probe}
}

func (c *RequirementCheck) Name() string {
	return "tool_requirements"
}

func (c *RequirementCheck) Run(_ context.Context, req *engine.CheckRequest) (*engine.CheckResult, error) {
	r, ok := req.Rules.RequirementFor(req.Exec.ToolName)
	if !ok {
		return engine.Pass(), nil
	}

	if r.MinMemoryMB > 0 {
		if available, known := c.probe.AvailableMemoryMB(); known && available < r.MinMemoryMB {
			return engine.Fail(&engine.Violation{
				Kind:        engine.ViolationInsufficientMemory,
				Detail:      fmt.Sprintf("requires %d MB, %d MB available", r.MinMemoryMB, available),
				RequiredMB:  r.MinMemoryMB,
				AvailableMB: available,
			}), nil
		}
	}

	if r.RequiresNetwork && !c.probe.NetworkAvailable() {
		return engine.Fail(&engine.Violation{
			Kind:   engine.ViolationNetworkRequired,
			Detail: "tool requires network access and none is available",
		}), nil
	}

	return engine.Pass(), nil
}
