// Package policyopa evaluates the escalation policy as a rego document,
// so operators can tune when a claim requires quorum approval without a
// redeploy. The query result shape is {"escalate": bool, "reason": string}.
package policyopa

import (
	"context"
	"encoding/json"
	"errors"

	"coverpool/internal/domain/claims"

	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.coverpool.escalation.result"

type Engine struct {
	query    rego.PreparedEvalQuery
	bundleID string
}

type Result struct {
	Escalate bool   `json:"escalate"`
	Reason   string `json:"reason,omitempty"`
}

// NewEngineFromBundlePath loads and prepares the policy from a rego file
// or bundle directory on disk.
func NewEngineFromBundlePath(ctx context.Context, bundlePath, bundleID string) (*Engine, error) {
	if bundlePath == "" {
		return nil, errors.New("bundle path is required")
	}
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Capabilities(deterministicCapabilities()),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{query: prepared, bundleID: bundleID}, nil
}

// NewEngineFromModule prepares the policy from an in-memory rego module.
func NewEngineFromModule(ctx context.Context, filename, module, bundleID string) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Capabilities(deterministicCapabilities()),
		rego.Module(filename, module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{query: prepared, bundleID: bundleID}, nil
}

func (e *Engine) BundleID() string {
	return e.bundleID
}

// RequiresEscalation implements the ledger's escalation policy.
func (e *Engine) RequiresEscalation(ctx context.Context, policy claims.Policy, amount int64) (bool, error) {
	if e == nil {
		return false, errors.New("policy engine is nil")
	}
	input := map[string]any{
		"amount":     amount,
		"asset":      string(policy.Asset),
		"coverage":   policy.Coverage,
		"policy_ref": policy.Ref,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, errors.New("empty policy result")
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return false, err
	}
	return result.Escalate, nil
}

func decodeResult(value any) (Result, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Result{}, err
	}
	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return Result{}, err
	}
	return result, nil
}
