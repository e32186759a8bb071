package registry

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// State is a step of the per-call dispatch state machine.
type State int

const (
	StateReceived State = iota
	StateNameValidated
	StatePermissionChecked
	StateParametersValidated
	StateDispatched
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateNameValidated:
		return "name_validated"
	case StatePermissionChecked:
		return "permission_checked"
	case StateParametersValidated:
		return "parameters_validated"
	case StateDispatched:
		return "dispatched"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// permissionError lists the permissions a client is missing.
type permissionError struct {
	tool     string
	clientID string
	missing  []permission.Kind
}

func (e *permissionError) Error() string {
	names := make([]string, len(e.missing))
	for i, k := range e.missing {
		names[i] = string(k)
	}
	return fmt.Sprintf("%s: client %s lacks %s for tool %s",
		ErrPermissionDenied, e.clientID, strings.Join(names, ", "), e.tool)
}

func (e *permissionError) Unwrap() error { return ErrPermissionDenied }

func (e *permissionError) Details() map[string]any {
	missing := make([]any, len(e.missing))
	for i, k := range e.missing {
		missing[i] = string(k)
	}
	return map[string]any{"tool": e.tool, "missing_permissions": missing}
}

// ExecuteTool dispatches one call. It never returns an error or panics:
// every failure is reported through the response envelope. The operation
// is reported to the recorder at entry and on every terminal path.
func (r *Registry) ExecuteTool(ctx context.Context, name string, params Parameters, ec engine.ExecutionContext) *Response {
	if ec.RequestID == "" {
		ec.RequestID = uuid.NewString()
	}
	if ec.StartTime.IsZero() {
		ec.StartTime = time.Now()
	}
	ec.ToolName = name
	opID := uuid.NewString()

	ctx, span := r.tracer.Start(ctx, "registry.ExecuteTool", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("client.id", ec.ClientID),
		attribute.String("request.id", ec.RequestID),
	))
	defer span.End()

	r.recorder.StartOperation(name, ec.ClientID, opID, params.AsMap())

	state := StateReceived
	data, err := r.guardedDispatch(ctx, name, params, ec, &state)
	elapsed := time.Since(ec.StartTime)

	r.recorder.CompleteOperation(opID, err == nil, data, err)

	if err != nil {
		code := ErrorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		r.logger.Warn("tool execution failed",
			zap.String("tool_name", name),
			zap.String("client_id", ec.ClientID),
			zap.String("request_id", ec.RequestID),
			zap.String("operation_id", opID),
			zap.String("state", StateFailed.String()),
			zap.String("failed_after", state.String()),
			zap.String("error_code", code),
			zap.Duration("execution_time", elapsed),
			zap.Error(err),
		)
		return failure(err, elapsed)
	}

	span.SetStatus(codes.Ok, "")
	r.logger.Info("tool execution succeeded",
		zap.String("state", state.String()),
		zap.String("tool_name", name),
		zap.String("client_id", ec.ClientID),
		zap.String("request_id", ec.RequestID),
		zap.String("operation_id", opID),
		zap.Duration("execution_time", elapsed),
	)
	return &Response{Success: true, Data: data, ExecutionTime: elapsed.Seconds()}
}

// guardedDispatch runs dispatch with panic recovery so injected
// collaborators (oracle, enforcer) cannot skip operation completion.
func (r *Registry) guardedDispatch(ctx context.Context, name string, params Parameters, ec engine.ExecutionContext, state *State) (data *structpb.Value, err error) {
	defer r.recoverPanic(ec, &err)
	return r.dispatch(ctx, name, params, ec, state)
}

// dispatch walks the state machine. state is left at the last step reached.
func (r *Registry) dispatch(ctx context.Context, name string, params Parameters, ec engine.ExecutionContext, state *State) (*structpb.Value, error) {
	// Check the handler out; the lock is not held past this point.
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	*state = StateNameValidated

	missing, err := permission.Missing(ctx, r.oracle, ec.ClientID, e.desc.RequiredPermissions)
	if err != nil {
		return nil, &engine.Violation{
			Kind:   engine.ViolationToolNotAvailable,
			Tool:   name,
			Detail: err.Error(),
		}
	}
	if len(missing) > 0 {
		return nil, &permissionError{tool: name, clientID: ec.ClientID, missing: missing}
	}
	*state = StatePermissionChecked

	if err := validateParameters(e.schema, params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	*state = StateParametersValidated

	*state = StateDispatched
	data, err := r.invoke(ctx, e, params, ec)
	if err != nil {
		return nil, err
	}
	*state = StateSucceeded
	return data, nil
}

// invoke runs the handler through the enforcer. Permissions were verified
// by dispatch, so the request carries none.
func (r *Registry) invoke(ctx context.Context, e *entry, params Parameters, ec engine.ExecutionContext) (*structpb.Value, error) {
	req := engine.Request{Exec: ec}

	if th, ok := e.handler.(TextHandler); ok {
		out, err := r.enforcer.ExecuteText(ctx, req, func(ctx context.Context) (s string, err error) {
			defer r.recoverPanic(ec, &err)
			return th.ExecuteText(ctx, params, ec)
		})
		if err != nil {
			return nil, err
		}
		return structpb.NewStringValue(out), nil
	}

	return r.enforcer.Execute(ctx, req, func(ctx context.Context) (v *structpb.Value, err error) {
		defer r.recoverPanic(ec, &err)
		return e.handler.Execute(ctx, params, ec)
	})
}

func (r *Registry) recoverPanic(ec engine.ExecutionContext, err *error) {
	if p := recover(); p != nil {
		r.logger.Error("panic during tool dispatch",
			zap.String("tool_name", ec.ToolName),
			zap.String("request_id", ec.RequestID),
			zap.Any("panic", p),
			zap.ByteString("stack", debug.Stack()),
		)
		*err = fmt.Errorf("%w: %v", ErrToolPanicked, p)
	}
}

func validateParameters(schema *jsonschema.Schema, params Parameters) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = Parameters{}
	}
	raw, err := protojson.Marshal(&structpb.Struct{Fields: params})
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return schema.Validate(doc)
}
