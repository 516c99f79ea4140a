package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/solvient/problem-engine/internal/models"
)

// Runner is the step-execution capability contract
type Runner interface {
	RunStep(ctx context.Context, op *models.Operator, payload json.RawMessage) (json.RawMessage, error)
}

// StepFunc is a builtin step implementation running in-process
type StepFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Registry dispatches operators to builtin implementations and delegates
// everything else to a fallback runner (the model-backed capability).
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]StepFunc
	fallback Runner
}

// NewRegistry creates a registry delegating unknown operators to fallback
func NewRegistry(fallback Runner) *Registry {
	return &Registry{
		builtins: make(map[string]StepFunc),
		fallback: fallback,
	}
}

// Register adds a builtin step implementation
func (r *Registry) Register(name string, fn StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[name] = fn
}

// RunStep runs an operator's step: a registered builtin executes locally,
// anything else goes to the fallback runner.
func (r *Registry) RunStep(ctx context.Context, op *models.Operator, payload json.RawMessage) (json.RawMessage, error) {
	if op.Builtin != "" {
		r.mu.RLock()
		fn, ok := r.builtins[op.Builtin]
		r.mu.RUnlock()

		if !ok {
			return nil, fmt.Errorf("builtin %s not registered", op.Builtin)
		}
		return fn(ctx, payload)
	}

	if r.fallback == nil {
		return nil, fmt.Errorf("no runner available for operator %s", op.Name)
	}

	return r.fallback.RunStep(ctx, op, payload)
}

// Passthrough returns the input payload unchanged
func Passthrough(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return payload, nil
}
