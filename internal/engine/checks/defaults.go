package checks

import (
	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
)

// Default returns the standard pre-execution checks in precedence order.
func Default(oracle permission.Oracle, limiter RateLimiter, probe engine.ResourceProbe) []engine.Check {
	return []engine.Check{
		NewPermissionCheck(oracle),
		NewRateLimitCheck(limiter),
		NewPolicyConstraintCheck(),
		NewRequirementCheck(probe),
	}
}
