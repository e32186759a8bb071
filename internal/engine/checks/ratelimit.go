package checks

import (
	"context"
	"fmt"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
)

// RateLimiter decides whether a client may call a tool now.
type RateLimiter interface {
	Allow(ctx context.Context, clientID, toolName string) (bool, error)
}

// PassThrough admits every call. It is the default limiter.
type PassThrough struct{}

func (PassThrough) Allow(context.Context, string, string) (bool, error) {
	return true, nil
}

// RateLimitCheck consults a RateLimiter before each call.
type RateLimitCheck struct {
	limiter RateLimiter
}

// NewRateLimitCheck creates the check. A nil limiter admits everything.
func NewRateLimitCheck(limiter RateLimiter) *RateLimitCheck {
	if limiter == nil {
		limiter = PassThrough{}
	}
	return &RateLimitCheck{limiter: limiter}
}

func (c *RateLimitCheck) Name() string {
	return "rate_limit"
}

func (c *RateLimitCheck) Run(ctx context.Context, req *engine.CheckRequest) (*engine.CheckResult, error) {
	ok, err := c.limiter.Allow(ctx, req.Exec.ClientID, req.Exec.ToolName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return engine.Fail(&engine.Violation{
			Kind:   engine.ViolationRateLimitExceeded,
			Detail: fmt.Sprintf("client %s is over its call budget", req.Exec.ClientID),
		}), nil
	}
	return engine.Pass(), nil
}
