package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCheckTimeout is the max time pre-execution checks get to complete.
const DefaultCheckTimeout = 250 * time.Millisecond

// Middleware resolves effective policies and enforces them around operations.
// The override tables are owned by the middleware and guarded by mu; checks,
// rules and the logger are immutable after construction.
type Middleware struct {
	mu             sync.RWMutex
	defaultPolicy  Policy
	toolPolicies   map[string]Policy
	clientPolicies map[string]Policy

	checks  []Check
	rules   *Rules
	timeout time.Duration
	logger  *zap.Logger
}

// NewMiddleware creates a middleware that runs the given checks, in declared
// order of precedence, before every operation. A nil rules table uses the
// embedded defaults.
func NewMiddleware(checks []Check, rules *Rules, timeout time.Duration, logger *zap.Logger) *Middleware {
	if rules == nil {
		rules = DefaultRules()
	}
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Middleware{
		defaultPolicy:  DefaultPolicy(),
		toolPolicies:   make(map[string]Policy),
		clientPolicies: make(map[string]Policy),
		checks:         checks,
		rules:          rules,
		timeout:        timeout,
		logger:         logger,
	}
}

// Rules returns the rule table the middleware enforces.
func (m *Middleware) Rules() *Rules {
	return m.rules
}

// checkOutput holds a single check's result alongside its position.
type checkOutput struct {
	index  int
	name   string
	result *CheckResult
	err    error
}

// runChecks runs all checks in parallel against the request and waits for
// every one of them, or for the deadline. The first check in declared order
// that reports a violation, fails, or misses the deadline decides the outcome,
// so the result does not depend on goroutine scheduling.
//
// Each goroutine sends its result through a buffered channel, so checks that
// outlive the deadline never block.
func (m *Middleware) runChecks(ctx context.Context, req *CheckRequest) ([]string, error) {
	if len(m.checks) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	ch := make(chan checkOutput, len(m.checks))
	for i, c := range m.checks {
		go func(i int, c Check) {
			out := checkOutput{index: i, name: c.Name()}
			defer func() {
				if p := recover(); p != nil {
					m.logger.Error("pre-execution check panicked",
						zap.String("check", out.name),
						zap.String("tool_name", req.Exec.ToolName),
						zap.Any("panic", p),
					)
					out.result, out.err = nil, fmt.Errorf("panic: %v", p)
				}
				ch <- out
			}()
			out.result, out.err = c.Run(ctx, req)
		}(i, c)
	}

	outputs := make([]*checkOutput, len(m.checks))
	remaining := len(m.checks)
	for remaining > 0 {
		select {
		case out := <-ch:
			outputs[out.index] = &out
			remaining--
		case <-ctx.Done():
			m.logger.Warn("pre-execution checks did not complete before deadline",
				zap.String("tool_name", req.Exec.ToolName),
				zap.Duration("timeout", m.timeout),
			)
			remaining = 0
		}
	}

	var warnings []string
	for i, out := range outputs {
		if out == nil {
			return warnings, &Violation{
				Kind:   ViolationToolNotAvailable,
				Tool:   req.Exec.ToolName,
				Detail: fmt.Sprintf("check %s did not complete: %v", m.checks[i].Name(), ctx.Err()),
			}
		}
		if out.err != nil {
			return warnings, &Violation{
				Kind:   ViolationToolNotAvailable,
				Tool:   req.Exec.ToolName,
				Detail: fmt.Sprintf("check %s failed: %v", out.name, out.err),
			}
		}
		if out.result == nil {
			continue
		}
		warnings = append(warnings, out.result.Warnings...)
		if v := out.result.Violation; v != nil {
			if v.Tool == "" {
				v.Tool = req.Exec.ToolName
			}
			return warnings, v
		}
	}
	return warnings, nil
}
