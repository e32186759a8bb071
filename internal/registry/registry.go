package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/metrics"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// Enforcer wraps tool bodies with policy pre-checks and post-processing.
// *engine.Middleware implements it.
type Enforcer interface {
	Execute(ctx context.Context, req engine.Request, op func(context.Context) (*structpb.Value, error)) (*structpb.Value, error)
	ExecuteText(ctx context.Context, req engine.Request, op func(context.Context) (string, error)) (string, error)
}

// Recorder receives the start and completion of every dispatched call.
// *metrics.Collector implements it.
type Recorder interface {
	StartOperation(toolName, clientID, operationID string, params map[string]any) *metrics.OperationContext
	CompleteOperation(operationID string, success bool, result any, err error) *metrics.OperationMetrics
}

type nopRecorder struct{}

func (nopRecorder) StartOperation(string, string, string, map[string]any) *metrics.OperationContext {
	return nil
}

func (nopRecorder) CompleteOperation(string, bool, any, error) *metrics.OperationMetrics {
	return nil
}

type entry struct {
	desc    Descriptor
	handler Handler
	schema  *jsonschema.Schema
}

// Registry maps tool names to descriptors and handlers. The mutex guards the
// map only; tool bodies always run outside it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry

	enforcer Enforcer
	recorder Recorder
	oracle   permission.Oracle
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. enforcer must not be nil; a nil
// recorder discards operation events and a nil oracle allows everything.
func NewRegistry(enforcer Enforcer, recorder Recorder, oracle permission.Oracle, logger *zap.Logger) *Registry {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if oracle == nil {
		oracle = permission.AllowAll{}
	}
	return &Registry{
		tools:    make(map[string]*entry),
		enforcer: enforcer,
		recorder: recorder,
		oracle:   oracle,
		tracer:   otel.Tracer("tool_gateway/registry"),
		logger:   logger,
	}
}

// Register validates desc, compiles its input schema and adds the tool.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrInvalidTool, desc.Name)
	}
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	schema, err := compileSchema(desc.Name, desc.InputSchema)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTool, desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, desc.Name)
	}
	r.tools[desc.Name] = &entry{desc: desc.clone(), handler: handler, schema: schema}

	r.logger.Info("tool registered",
		zap.String("tool_name", desc.Name),
		zap.String("category", string(desc.Category)),
	)
	return nil
}

// Unregister removes a tool. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()

	if existed {
		r.logger.Info("tool unregistered", zap.String("tool_name", name))
	}
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.handler, nil
}

// Create is an alias of Get kept for callers that instantiate tools by name.
func (r *Registry) Create(name string) (Handler, error) {
	return r.Get(name)
}

// Descriptor returns the metadata of a registered tool.
func (r *Registry) Descriptor(name string) (Descriptor, error) {
	e, ok := r.lookup(name)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.desc.clone(), nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// --- discovery ---

// ListAll returns every descriptor sorted by name.
func (r *Registry) ListAll() []Descriptor {
	return r.filter(func(Descriptor) bool { return true })
}

// ByCategory returns the tools in category c.
func (r *Registry) ByCategory(c Category) []Descriptor {
	return r.filter(func(d Descriptor) bool { return d.Category == c })
}

// ByPermission returns the tools that require kind.
func (r *Registry) ByPermission(kind permission.Kind) []Descriptor {
	return r.filter(func(d Descriptor) bool { return d.HasPermission(kind) })
}

// OfflineCapable returns the tools that work without network access.
func (r *Registry) OfflineCapable() []Descriptor {
	return r.filter(func(d Descriptor) bool { return d.OfflineCapable })
}

// Search returns tools whose name or description contains query,
// case-insensitively. An empty query matches everything.
func (r *Registry) Search(query string) []Descriptor {
	q := strings.ToLower(query)
	return r.filter(func(d Descriptor) bool {
		return strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Description), q)
	})
}

// CategoryStat summarizes the tools of one category.
type CategoryStat struct {
	Category       Category `json:"category"`
	Tools          int      `json:"tools"`
	OfflineCapable int      `json:"offline_capable"`
}

// CategoryStatistics counts tools per category, sorted by category name.
// Categories without tools are omitted.
func (r *Registry) CategoryStatistics() []CategoryStat {
	r.mu.RLock()
	byCat := make(map[Category]*CategoryStat)
	for _, e := range r.tools {
		s, ok := byCat[e.desc.Category]
		if !ok {
			s = &CategoryStat{Category: e.desc.Category}
			byCat[e.desc.Category] = s
		}
		s.Tools++
		if e.desc.OfflineCapable {
			s.OfflineCapable++
		}
	}
	r.mu.RUnlock()

	out := make([]CategoryStat, 0, len(byCat))
	for _, s := range byCat {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func (r *Registry) filter(keep func(Descriptor) bool) []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, e := range r.tools {
		if keep(e.desc) {
			out = append(out, e.desc.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- validation ---

func validateDescriptor(d Descriptor) error {
	if !toolNamePattern.MatchString(d.Name) {
		return fmt.Errorf("%w: name %q must match %s", ErrInvalidTool, d.Name, toolNamePattern)
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("%w: %s: empty description", ErrInvalidTool, d.Name)
	}
	if len(d.InputSchema) == 0 {
		return fmt.Errorf("%w: %s: empty input schema", ErrInvalidTool, d.Name)
	}
	if !d.Category.Valid() {
		return fmt.Errorf("%w: %s: unknown category %q", ErrInvalidTool, d.Name, d.Category)
	}
	if d.Category.Sensitive() && len(d.RequiredPermissions) == 0 {
		return fmt.Errorf("%w: %s: category %s requires at least one permission", ErrInvalidTool, d.Name, d.Category)
	}
	return nil
}

// compileSchema round-trips the schema through JSON so the compiler sees
// canonical JSON values.
func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}

	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	return sch, nil
}
