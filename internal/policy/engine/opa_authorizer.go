package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"planning-board/internal/identity/domain"
)

const allowQuery = "data.planboard.authz.allow"

// DefaultRegoPolicy lets anyone authenticated view the board, schedulers and supervisors move
// and reorder orders, and only supervisors change order status or read the audit trail.
const DefaultRegoPolicy = `package planboard.authz

default allow = false

planner_roles := {"scheduler", "supervisor"}

move_actions := {"order.move.start", "order.move", "order.reorder"}

allow if {
	input.action == "board.view"
	input.user.id != ""
}

allow if {
	move_actions[input.action]
	planner_roles[input.user.role]
}

supervisor_actions := {"order.status.update", "audit.view"}

allow if {
	supervisor_actions[input.action]
	input.user.role == "supervisor"
}
`

// OPAAuthorizer evaluates the board policy with OPA Rego. The policy is compiled once.
type OPAAuthorizer struct {
	query rego.PreparedEvalQuery
}

// NewOPAAuthorizer compiles policy (DefaultRegoPolicy when empty). The policy must define
// data.planboard.authz.allow.
func NewOPAAuthorizer(ctx context.Context, policy string) (*OPAAuthorizer, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"board.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &OPAAuthorizer{query: q}, nil
}

// NewOPAAuthorizerFromFile reads a Rego policy from path. An empty path uses DefaultRegoPolicy.
func NewOPAAuthorizerFromFile(ctx context.Context, path string) (*OPAAuthorizer, error) {
	if path == "" {
		return NewOPAAuthorizer(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return NewOPAAuthorizer(ctx, string(b))
}

// Allow evaluates the policy for ident and action. An undefined result denies.
func (a *OPAAuthorizer) Allow(ctx context.Context, ident *domain.Identity, action string) (bool, error) {
	if ident == nil {
		return false, nil
	}
	input := map[string]interface{}{
		"action": action,
		"user": map[string]interface{}{
			"id":   ident.UserID,
			"name": ident.DisplayName,
			"role": ident.Role,
		},
	}
	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, errors.New("policy allow is not a boolean")
	}
	return allowed, nil
}

// HealthCheck evaluates the prepared policy against a minimal input. Returns nil on success.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	_, err := a.Allow(ctx, &domain.Identity{UserID: "health"}, ActionViewBoard)
	return err
}
