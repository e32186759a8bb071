package registry

import "errors"

var (
	ErrInvalidTool       = errors.New("invalid tool")
	ErrDuplicateTool     = errors.New("duplicate tool")
	ErrToolNotFound      = errors.New("tool not found")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrToolPanicked      = errors.New("tool panicked")
)

// CodeExecutionFailed is reported for errors that carry no code of their own.
const CodeExecutionFailed = "EXECUTION_FAILED"

var sentinelCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidTool, "INVALID_TOOL"},
	{ErrDuplicateTool, "DUPLICATE_TOOL"},
	{ErrToolNotFound, "TOOL_NOT_FOUND"},
	{ErrInvalidParameters, "INVALID_PARAMETERS"},
	{ErrPermissionDenied, "PERMISSION_DENIED"},
	{ErrToolPanicked, "TOOL_PANICKED"},
}

// coder is implemented by errors that carry a stable code (policy
// violations, post-processing errors, tool-defined errors).
type coder interface {
	Code() string
}

type detailer interface {
	Details() map[string]any
}

// ErrorCode maps err to the stable code used in responses.
func ErrorCode(err error) string {
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeExecutionFailed
}

// ErrorDetails returns structured context for err, if it has any.
func ErrorDetails(err error) map[string]any {
	var d detailer
	if errors.As(err, &d) {
		return d.Details()
	}
	return nil
}
