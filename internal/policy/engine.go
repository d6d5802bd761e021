// Package policy gates ledger operations with an OPA policy.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the outcome of evaluating one operation.
type Decision struct {
	Allow  bool
	Reason string
}

// Input is what the policy sees for one operation. UserID is the caller's id.
type Input struct {
	Operation string
	UserID    string
	Args      map[string]any
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
// The module must define data.ledger_policy.decision as {"allow": bool, "reason": string}.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.ledger_policy.decision"),
		rego.Module("ledger_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine builds an engine from the rego file at path, or from DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks one operation against the policy.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	input := map[string]any{
		"operation": in.Operation,
		"user_id":   in.UserID,
		"args":      args,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// An undefined decision means the module has no default; treat it as allow.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true}, nil
	}

	val, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	allow, ok := val["allow"].(bool)
	if !ok {
		return Decision{}, fmt.Errorf("policy decision is missing a boolean allow")
	}
	reason, _ := val["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package ledger_policy

default decision = {"allow": true}

decision = {"allow": false, "reason": "amount must be greater than zero"} {
	input.operation == "add_expense"
	is_number(input.args.amount)
	input.args.amount <= 0
}

decision = {"allow": false, "reason": "start_date must not be after end_date"} {
	{"query_total", "query_category_totals"}[input.operation]
	is_string(input.args.start_date)
	is_string(input.args.end_date)
	input.args.start_date > input.args.end_date
}
`
