package engine

import (
	"context"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
)

// Check is the interface every pre-execution check must implement.
// Implementations must respect context deadlines and return quickly.
type Check interface {
	// Name returns the check's unique identifier.
	Name() string

	// Run evaluates the request. A non-nil Violation in the result aborts
	// the call; an error is treated as the check being unavailable.
	Run(ctx context.Context, req *CheckRequest) (*CheckResult, error)
}

// CheckRequest contains everything a check may consult.
type CheckRequest struct {
	Exec        ExecutionContext
	Permissions []permission.Kind
	Policy      Policy
	Rules       *Rules
}

// CheckResult is the outcome of a single check run.
type CheckResult struct {
	Violation *Violation
	Warnings  []string
}

// Pass is the result of a check that found nothing.
func Pass() *CheckResult {
	return &CheckResult{}
}

// Fail builds a result carrying a violation.
func Fail(v *Violation) *CheckResult {
	return &CheckResult{Violation: v}
}
