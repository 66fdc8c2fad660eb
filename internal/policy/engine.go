// Package policy evaluates the artifact policy with OPA.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/xiaot623/lazarus/internal/domain"
)

// DefaultPolicy is the embedded artifact policy.
//
//go:embed artifact_policy.rego
var DefaultPolicy string

// Actions evaluated by the policy.
const (
	ActionGenerate = "generate"
	ActionCommit   = "commit"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the policy input for one artifact.
type Input struct {
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	Action   string `json:"action"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Decision string
	Reason   string
}

// Allowed reports whether the artifact may pass.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.artifact_policy.decision"),
		rego.Module("artifact_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Load creates an engine from a policy file, or from DefaultPolicy when
// path is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks one artifact.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Decision: DecisionAllow, Reason: "default"}, nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Decision: val}, nil
	case map[string]interface{}:
		d := Decision{Decision: DecisionAllow}
		if s, ok := val["decision"].(string); ok {
			d.Decision = s
		}
		if s, ok := val["reason"].(string); ok {
			d.Reason = s
		}
		return d, nil
	}
	return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
}

// Check evaluates an artifact and returns an error wrapping
// domain.ErrPolicyDenied when it is blocked.
func (e *Engine) Check(ctx context.Context, action string, a domain.Artifact) error {
	d, err := e.Evaluate(ctx, Input{Filename: a.Filename, Size: len(a.Content), Action: action})
	if err != nil {
		return err
	}
	if !d.Allowed() {
		return fmt.Errorf("%w: %s: %s", domain.ErrPolicyDenied, a.Filename, d.Reason)
	}
	return nil
}

// Blocked is an artifact rejected by the policy.
type Blocked struct {
	Filename string
	Reason   string
}

// Filter splits artifacts into the allowed ones, in order, and the blocked ones.
func (e *Engine) Filter(ctx context.Context, action string, artifacts domain.Artifacts) (domain.Artifacts, []Blocked, error) {
	kept := make(domain.Artifacts, 0, len(artifacts))
	var blocked []Blocked
	for _, a := range artifacts {
		d, err := e.Evaluate(ctx, Input{Filename: a.Filename, Size: len(a.Content), Action: action})
		if err != nil {
			return nil, nil, err
		}
		if !d.Allowed() {
			blocked = append(blocked, Blocked{Filename: a.Filename, Reason: d.Reason})
			continue
		}
		kept = append(kept, a)
	}
	return kept, blocked, nil
}
