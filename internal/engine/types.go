package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
)

// Policy is the set of runtime constraints applied to a single tool call.
// It is a value type: resolved per call and never stored past it.
type Policy struct {
	AllowPCC        bool    `json:"allow_pcc" yaml:"allow_pcc"`
	PIIRedact       bool    `json:"pii_redact" yaml:"pii_redact"`
	MaxOutputTokens int     `json:"max_output_tokens" yaml:"max_output_tokens"` // 0 = unlimited
	Temperature     float64 `json:"temperature" yaml:"temperature"`
}

// DefaultPolicy returns the process-wide default policy.
func DefaultPolicy() Policy {
	return Policy{
		AllowPCC:        false,
		PIIRedact:       true,
		MaxOutputTokens: 0,
		Temperature:     0.7,
	}
}

// Validate reports an InvalidPolicy violation for out-of-range fields.
func (p Policy) Validate() error {
	if p.MaxOutputTokens < 0 {
		return &Violation{
			Kind:   ViolationInvalidPolicy,
			Detail: fmt.Sprintf("max_output_tokens must be >= 0, got %d", p.MaxOutputTokens),
		}
	}
	if math.IsNaN(p.Temperature) || p.Temperature < 0 || p.Temperature > 2 {
		return &Violation{
			Kind:   ViolationInvalidPolicy,
			Detail: fmt.Sprintf("temperature must be within [0, 2], got %v", p.Temperature),
		}
	}
	return nil
}

// ExecutionContext identifies one call. Created at call entry, discarded after.
type ExecutionContext struct {
	ClientID  string
	RequestID string
	ToolName  string
	StartTime time.Time
}

// NewExecutionContext builds a context with a fresh request id.
func NewExecutionContext(clientID, toolName string) ExecutionContext {
	return ExecutionContext{
		ClientID:  clientID,
		RequestID: uuid.New().String(),
		ToolName:  toolName,
		StartTime: time.Now(),
	}
}

// Request is the input to the enforcement middleware.
type Request struct {
	Exec ExecutionContext

	// Permissions are checked against the oracle before the operation runs.
	// Callers that already verified them (the registry) pass nil.
	Permissions []permission.Kind

	// Override replaces the resolved policy for this call when non-nil.
	Override *Policy
}
