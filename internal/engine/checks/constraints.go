package checks

import (
	"context"
	"fmt"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
)

// PolicyConstraintCheck validates the resolved policy against the tool's
// classification in the rule table.
type PolicyConstraintCheck struct{}

func NewPolicyConstraintCheck() *PolicyConstraintCheck {
	return &PolicyConstraintCheck{}
}

func (c *PolicyConstraintCheck) Name() string {
	return "policy_constraints"
}

func (c *PolicyConstraintCheck) Run(_ context.Context, req *engine.CheckRequest) (*engine.CheckResult, error) {
	tool := req.Exec.ToolName
	p := req.Policy

	if !p.AllowPCC && req.Rules.RequiresPCC(tool) {
		return engine.Fail(&engine.Violation{
			Kind:   engine.ViolationPCCNotAllowed,
			Detail: "policy does not allow PCC operations",
		}), nil
	}

	result := engine.Pass()
	if kw, ok := req.Rules.HighRiskKeyword(tool); ok && p.Temperature > req.Rules.HighRiskTemperature {
		// Not fatal: high-risk tools at high temperature are only flagged.
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"high-risk tool (%q) running at temperature %.2f above %.2f",
			kw, p.Temperature, req.Rules.HighRiskTemperature,
		))
	}
	return result, nil
}
