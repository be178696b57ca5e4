// Package engine decides administrative actions on users and sessions with an embedded OPA Rego policy.
package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Action is an administrative operation subject to policy.
type Action string

const (
	ActionBlockUser  Action = "block_user"
	ActionDeleteUser Action = "delete_user"
)

const policyQuery = "data.auth.admin.allow"

// Users may act on themselves; admins may act on anyone.
const defaultRegoPolicy = `package auth.admin

default allow := false

allow if {
	input.actor.role == "ADMIN"
}

allow if {
	input.actor.user_id != ""
	input.actor.user_id == input.target.user_id
}
`

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   string
}

// Authorizer evaluates the admin policy.
type Authorizer struct {
	query rego.PreparedEvalQuery
}

// NewAuthorizer compiles the default policy, or rules when non-empty.
func NewAuthorizer(ctx context.Context, rules string) (*Authorizer, error) {
	if rules == "" {
		rules = defaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"admin.rego": rules})
	if err != nil {
		return nil, fmt.Errorf("compile admin policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare admin policy: %w", err)
	}
	return &Authorizer{query: q}, nil
}

// Allowed reports whether actor may perform action on the user targetUserID.
// Evaluation errors deny.
func (a *Authorizer) Allowed(ctx context.Context, actor Actor, action Action, targetUserID string) (bool, error) {
	input := map[string]any{
		"action": string(action),
		"actor": map[string]any{
			"user_id": actor.UserID,
			"role":    actor.Role,
		},
		"target": map[string]any{
			"user_id": targetUserID,
		},
	}
	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval admin policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (a *Authorizer) HealthCheck(ctx context.Context) error {
	if _, err := a.Allowed(ctx, Actor{Role: "USER"}, ActionBlockUser, ""); err != nil {
		return err
	}
	return nil
}
