package registry

import (
	"context"
	"regexp"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
	"google.golang.org/protobuf/types/known/structpb"
)

// Category groups tools by the kind of work they do.
type Category string

const (
	CategoryTextProcessing Category = "text_processing"
	CategoryAudioDomain    Category = "audio_domain"
	CategorySystem         Category = "system"
	CategoryFileSystem     Category = "file_system"
	CategoryNetwork        Category = "network"
	CategoryUtility        Category = "utility"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryTextProcessing,
	CategoryAudioDomain,
	CategorySystem,
	CategoryFileSystem,
	CategoryNetwork,
	CategoryUtility,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Sensitive categories handle user content and must declare permissions.
func (c Category) Sensitive() bool {
	return c == CategoryTextProcessing || c == CategoryAudioDomain
}

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Descriptor is the immutable metadata of a registered tool.
type Descriptor struct {
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	InputSchema         map[string]any    `json:"input_schema"` // JSON Schema
	Category            Category          `json:"category"`
	RequiredPermissions []permission.Kind `json:"required_permissions"`
	OfflineCapable      bool              `json:"offline_capable"`
}

// clone returns a deep copy, so registered descriptors cannot be changed
// through values handed out by the registry.
func (d Descriptor) clone() Descriptor {
	if d.RequiredPermissions != nil {
		d.RequiredPermissions = append([]permission.Kind(nil), d.RequiredPermissions...)
	}
	if d.InputSchema != nil {
		d.InputSchema = copyJSONValue(d.InputSchema).(map[string]any)
	}
	return d
}

// copyJSONValue deep-copies the composite types a decoded JSON document is
// made of. Scalars are returned as is.
func copyJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyJSONValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyJSONValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	default:
		return v
	}
}

// HasPermission reports whether the descriptor lists kind.
func (d Descriptor) HasPermission(kind permission.Kind) bool {
	for _, k := range d.RequiredPermissions {
		if k == kind {
			return true
		}
	}
	return false
}

// Parameters are the tagged values a caller passes to a tool.
type Parameters map[string]*structpb.Value

// AsMap converts the parameters to plain Go values.
func (p Parameters) AsMap() map[string]any {
	return (&structpb.Struct{Fields: p}).AsMap()
}

// Handler is the executable body of a tool.
type Handler interface {
	Execute(ctx context.Context, params Parameters, ec engine.ExecutionContext) (*structpb.Value, error)
}

// TextHandler is implemented by tools that produce text. Their output goes
// through policy post-processing (redaction, truncation).
type TextHandler interface {
	Handler
	ExecuteText(ctx context.Context, params Parameters, ec engine.ExecutionContext) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, params Parameters, ec engine.ExecutionContext) (*structpb.Value, error)

func (f HandlerFunc) Execute(ctx context.Context, params Parameters, ec engine.ExecutionContext) (*structpb.Value, error) {
	return f(ctx, params, ec)
}

// TextHandlerFunc adapts a function to TextHandler.
type TextHandlerFunc func(ctx context.Context, params Parameters, ec engine.ExecutionContext) (string, error)

func (f TextHandlerFunc) ExecuteText(ctx context.Context, params Parameters, ec engine.ExecutionContext) (string, error) {
	return f(ctx, params, ec)
}

func (f TextHandlerFunc) Execute(ctx context.Context, params Parameters, ec engine.ExecutionContext) (*structpb.Value, error) {
	s, err := f(ctx, params, ec)
	if err != nil {
		return nil, err
	}
	return structpb.NewStringValue(s), nil
}
