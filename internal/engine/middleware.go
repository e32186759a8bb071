package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// Execute runs op under the effective policy. Non-textual results pass
// through unmodified.
func (m *Middleware) Execute(
	ctx context.Context,
	req Request,
	op func(context.Context) (*structpb.Value, error),
) (*structpb.Value, error) {
	return enforce[*structpb.Value](ctx, m, req, op, nil)
}

// ExecuteText runs op under the effective policy and post-processes its
// textual result (PII redaction, output truncation).
func (m *Middleware) ExecuteText(
	ctx context.Context,
	req Request,
	op func(context.Context) (string, error),
) (string, error) {
	return enforce(ctx, m, req, op, m.postProcessText)
}

// enforce is the shared pipeline: resolve, pre-check, execute, post-process.
// op is never invoked when resolution or any pre-check fails.
func enforce[T any](
	ctx context.Context,
	m *Middleware,
	req Request,
	op func(context.Context) (T, error),
	post func(T, Policy) (T, bool, error),
) (T, error) {
	var zero T
	ec := req.Exec

	policy, err := m.resolve(req)
	if err != nil {
		return zero, err
	}

	warnings, err := m.runChecks(ctx, &CheckRequest{
		Exec:        ec,
		Permissions: req.Permissions,
		Policy:      policy,
		Rules:       m.rules,
	})
	for _, w := range warnings {
		m.logger.Warn("policy warning",
			zap.String("tool_name", ec.ToolName),
			zap.String("client_id", ec.ClientID),
			zap.String("warning", w),
		)
	}
	if err != nil {
		m.logger.Warn("policy violation",
			zap.String("event", "security"),
			zap.String("tool_name", ec.ToolName),
			zap.String("client_id", ec.ClientID),
			zap.String("request_id", ec.RequestID),
			zap.Error(err),
		)
		return zero, err
	}

	opCtx := ctx
	var maxExec time.Duration
	if r, ok := m.rules.RequirementFor(ec.ToolName); ok && r.MaxExecutionTime > 0 {
		maxExec = r.MaxExecutionTime
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, maxExec)
		defer cancel()
	}

	start := time.Now()
	out, err := op(opCtx)
	elapsed := time.Since(start)

	if maxExec > 0 && ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return zero, &Violation{
			Kind:   ViolationMaxExecutionTimeExceeded,
			Tool:   ec.ToolName,
			Detail: fmt.Sprintf("exceeded %s (ran %s)", maxExec, elapsed.Round(time.Millisecond)),
		}
	}
	if err != nil {
		return zero, err
	}

	altered := false
	if post != nil {
		out, altered, err = post(out, policy)
		if err != nil {
			var v *Violation
			if errors.As(err, &v) && v.Tool == "" {
				v.Tool = ec.ToolName
			}
			return zero, err
		}
	}

	m.logger.Info("policy execution completed",
		zap.String("event", "performance"),
		zap.String("tool_name", ec.ToolName),
		zap.String("client_id", ec.ClientID),
		zap.String("request_id", ec.RequestID),
		zap.Duration("execution_time", elapsed),
		zap.Bool("policy_applied", policy != m.DefaultPolicy()),
		zap.Bool("content_altered", altered),
	)
	return out, nil
}

func (m *Middleware) resolve(req Request) (Policy, error) {
	if req.Override != nil {
		if err := req.Override.Validate(); err != nil {
			var v *Violation
			if errors.As(err, &v) {
				v.Tool = req.Exec.ToolName
			}
			return Policy{}, err
		}
		return *req.Override, nil
	}
	return m.EffectivePolicy(req.Exec.ToolName, req.Exec.ClientID), nil
}
