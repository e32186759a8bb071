package checks

import (
	"context"
	"fmt"
	"strings"

	"github.com/triage-ai/palisade/services/tool_gateway/internal/engine"
	"github.com/triage-ai/palisade/services/tool_gateway/internal/permission"
)

// PermissionCheck asks the oracle for every permission the request names.
type PermissionCheck struct {
	oracle permission.Oracle
}

// NewPermissionCheck creates the check. A nil oracle allows everything.
func NewPermissionCheck(oracle permission.Oracle) *PermissionCheck {
	if oracle == nil {
		oracle = permission.AllowAll{}
	}
	return &PermissionCheck{oracle: oracle}
}

func (c *PermissionCheck) Name() string {
	return "permission"
}

func (c *PermissionCheck) Run(ctx context.Context, req *engine.CheckRequest) (*engine.CheckResult, error) {
	if len(req.Permissions) == 0 {
		return engine.Pass(), nil
	}

	missing, err := permission.Missing(ctx, c.oracle, req.Exec.ClientID, req.Permissions)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, k := range missing {
			names[i] = string(k)
		}
		return engine.Fail(&engine.Violation{
			Kind:   engine.ViolationPermissionDenied,
			Detail: fmt.Sprintf("client %s lacks: %s", req.Exec.ClientID, strings.Join(names, ", ")),
		}), nil
	}
	return engine.Pass(), nil
}
