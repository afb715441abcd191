package policy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/aegisgrid/mandate/pkg/contracts"
)

// ScopeEvaluator evaluates per-ministry CEL constraints against the action a
// signature authorizes. A ministry may attach a constraint via its quorum
// override (for example `action == "OPEN_FLOOD_GATE" && scope.region ==
// "coastal-east"`); a signature violating the constraint is refused before it
// enters the decision.
type ScopeEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewScopeEvaluator creates an evaluator exposing `action` (string) and
// `scope` (map) to constraint expressions.
func NewScopeEvaluator() (*ScopeEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("scope", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	return &ScopeEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Allow evaluates the constraint against the action and scope. An empty
// constraint always allows. Compile and evaluation errors fail closed.
func (e *ScopeEvaluator) Allow(constraint, actionType string, scope contracts.ActionScope) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	prg, err := e.program(constraint)
	if err != nil {
		return false, err
	}

	// Round-trip through JSON so CEL sees plain maps, not structs.
	raw, err := json.Marshal(scope)
	if err != nil {
		return false, fmt.Errorf("policy: marshal scope: %w", err)
	}
	var scopeMap map[string]any
	if err := json.Unmarshal(raw, &scopeMap); err != nil {
		return false, fmt.Errorf("policy: decode scope: %w", err)
	}
	if scopeMap == nil {
		scopeMap = map[string]any{}
	}

	out, _, err := prg.Eval(map[string]any{
		"action": actionType,
		"scope":  scopeMap,
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluate constraint: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: constraint did not evaluate to bool: %q", constraint)
	}
	return allowed, nil
}

func (e *ScopeEvaluator) program(constraint string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[constraint]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(constraint)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile constraint: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: build constraint program: %w", err)
	}

	e.mu.Lock()
	e.cache[constraint] = prg
	e.mu.Unlock()
	return prg, nil
}
