package engine

import "fmt"

// ViolationKind enumerates the ways a call can break policy.
type ViolationKind int

const (
	ViolationPermissionDenied ViolationKind = iota + 1
	ViolationRateLimitExceeded
	ViolationPCCNotAllowed
	ViolationToolNotAvailable
	ViolationInsufficientMemory
	ViolationNetworkRequired
	ViolationMaxExecutionTimeExceeded
	ViolationContentTooLarge
	ViolationInvalidPolicy
)

var violationCodes = map[ViolationKind]string{
	ViolationPermissionDenied:         "PERMISSION_DENIED",
	ViolationRateLimitExceeded:        "RATE_LIMIT_EXCEEDED",
	ViolationPCCNotAllowed:            "PCC_NOT_ALLOWED",
	ViolationToolNotAvailable:         "TOOL_NOT_AVAILABLE",
	ViolationInsufficientMemory:       "INSUFFICIENT_MEMORY",
	ViolationNetworkRequired:          "NETWORK_REQUIRED",
	ViolationMaxExecutionTimeExceeded: "MAX_EXECUTION_TIME_EXCEEDED",
	ViolationContentTooLarge:          "CONTENT_TOO_LARGE",
	ViolationInvalidPolicy:            "INVALID_POLICY",
}

func (k ViolationKind) String() string {
	if c, ok := violationCodes[k]; ok {
		return c
	}
	return fmt.Sprintf("VIOLATION_%d", int(k))
}

// Violation is raised when a pre-execution check or an execution bound fails.
type Violation struct {
	Kind   ViolationKind
	Tool   string
	Detail string

	// Set for ViolationInsufficientMemory.
	RequiredMB  uint64
	AvailableMB uint64
}

func (v *Violation) Error() string {
	if v.Tool != "" {
		return fmt.Sprintf("policy violation %s for tool %s: %s", v.Kind, v.Tool, v.Detail)
	}
	return fmt.Sprintf("policy violation %s: %s", v.Kind, v.Detail)
}

// Code returns the stable error code for the response envelope.
func (v *Violation) Code() string {
	return v.Kind.String()
}

// Details returns structured context for the response envelope.
func (v *Violation) Details() map[string]any {
	d := map[string]any{"violation": v.Kind.String()}
	if v.Tool != "" {
		d["tool"] = v.Tool
	}
	if v.Kind == ViolationInsufficientMemory {
		d["required_mb"] = v.RequiredMB
		d["available_mb"] = v.AvailableMB
	}
	return d
}

// ProcessingKind enumerates post-processing failures.
type ProcessingKind int

const (
	ProcessingContentTruncated ProcessingKind = iota + 1
	ProcessingPIIRedactionFailed
	ProcessingTokenLimitExceeded
	ProcessingInvalidContentType
)

var processingCodes = map[ProcessingKind]string{
	ProcessingContentTruncated:   "CONTENT_TRUNCATED",
	ProcessingPIIRedactionFailed: "PII_REDACTION_FAILED",
	ProcessingTokenLimitExceeded: "TOKEN_LIMIT_EXCEEDED",
	ProcessingInvalidContentType: "INVALID_CONTENT_TYPE",
}

func (k ProcessingKind) String() string {
	if c, ok := processingCodes[k]; ok {
		return c
	}
	return fmt.Sprintf("PROCESSING_%d", int(k))
}

// ProcessingError is raised by post-execution processing of textual results.
type ProcessingError struct {
	Kind   ProcessingKind
	Detail string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("post-processing %s: %s", e.Kind, e.Detail)
}

func (e *ProcessingError) Code() string {
	return e.Kind.String()
}
