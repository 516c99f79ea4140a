package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solvient/problem-engine/internal/models"
	"github.com/solvient/problem-engine/internal/storage"
)

// StepRunner is the external step-execution capability: given an operator
// descriptor and an input payload, return a transformed payload or fail.
// Calls are side-effecting, latency-bearing, and fallible.
type StepRunner interface {
	RunStep(ctx context.Context, op *models.Operator, payload json.RawMessage) (json.RawMessage, error)
}

// Engine drives problems through the execution lifecycle:
// PAID -> EXECUTING -> COMPLETED | FAILED.
type Engine struct {
	repo     storage.Repository
	runner   StepRunner
	currency string
}

// NewEngine creates a new execution engine
func NewEngine(repo storage.Repository, runner StepRunner, currency string) *Engine {
	if currency == "" {
		currency = "EUR"
	}

	return &Engine{
		repo:     repo,
		runner:   runner,
		currency: currency,
	}
}

// Execute runs a confirmed problem through its flow's steps.
//
// Precondition failures (missing problem, unconfirmed payment, lost claim)
// return sentinel errors without mutating the problem. Everything that
// goes wrong after the claim is converted into a persisted terminal FAILED
// state and does not propagate.
func (e *Engine) Execute(ctx context.Context, problemID string) error {
	p, err := e.repo.GetProblem(ctx, problemID)
	if err != nil {
		return fmt.Errorf("failed to load problem: %w", err)
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrProblemNotFound, problemID)
	}

	if p.PaymentStatus != models.PaymentConfirmed {
		return fmt.Errorf("%w: %s", ErrPaymentNotConfirmed, problemID)
	}

	flow, err := e.repo.GetFlow(ctx, p.FlowName)
	if err != nil {
		return fmt.Errorf("failed to load flow: %w", err)
	}
	if flow == nil {
		// The only failure path that runs no steps
		slog.Error("flow missing at execution time", "id", p.ID, "flow", p.FlowName)
		if err := e.repo.FailProblem(ctx, p.ID, "Flow not found"); err != nil {
			return fmt.Errorf("failed to record flow-not-found failure: %w", err)
		}
		return nil
	}

	claimed, err := e.repo.ClaimProblem(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to claim problem: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: %s", ErrAlreadyClaimed, p.ID)
	}

	slog.Info("problem execution started", "id", p.ID, "flow", flow.Name, "steps", len(flow.Steps))

	final, runErr := e.runSteps(ctx, p, flow)
	if runErr != nil {
		slog.Error("problem execution failed", "id", p.ID, "error", runErr)
		if err := e.repo.FailProblem(ctx, p.ID, runErr.Error()); err != nil {
			return fmt.Errorf("failed to record execution failure: %w", err)
		}
		return nil
	}

	result, err := json.Marshal(map[string]json.RawMessage{"output": final})
	if err != nil {
		// Unreachable for valid step output, but never leave the problem EXECUTING
		if ferr := e.repo.FailProblem(ctx, p.ID, fmt.Sprintf("failed to encode result: %v", err)); ferr != nil {
			return fmt.Errorf("failed to record result-encoding failure: %w", ferr)
		}
		return nil
	}

	entry := &models.RevenueEntry{
		ID:        uuid.New().String(),
		ProblemID: p.ID,
		Amount:    p.Price,
		Currency:  e.currency,
		CreatedAt: time.Now().UTC(),
	}

	if err := e.repo.CompleteProblem(ctx, p.ID, result, entry); err != nil {
		slog.Error("failed to record completion", "id", p.ID, "error", err)
		if ferr := e.repo.FailProblem(ctx, p.ID, fmt.Sprintf("failed to record completion: %v", err)); ferr != nil {
			return fmt.Errorf("failed to record completion failure: %w", ferr)
		}
		return nil
	}

	slog.Info("problem completed", "id", p.ID, "amount", entry.Amount, "currency", entry.Currency)
	return nil
}

// runSteps iterates the flow's steps in declared order, threading a single
// running payload seeded from the problem's original payload. The first
// failure aborts the run; there is no per-step retry.
func (e *Engine) runSteps(ctx context.Context, p *models.Problem, flow *models.Flow) (json.RawMessage, error) {
	seed, _, err := CanonicalPayload(p.Payload)
	if err != nil {
		return nil, err
	}

	current := json.RawMessage(seed)
	prevOutput := ""

	for i, step := range flow.Steps {
		op, err := e.repo.GetOperator(ctx, step.OperatorName)
		if err != nil {
			return nil, fmt.Errorf("operator lookup failed: %w", err)
		}
		if op == nil {
			return nil, fmt.Errorf("operator %s not found", step.OperatorName)
		}

		if typeMismatch(prevOutput, op.InputType) {
			return nil, fmt.Errorf("step %d: operator %s expects input type %q but previous step produced %q",
				i+1, op.Name, op.InputType, prevOutput)
		}

		out, err := e.runner.RunStep(ctx, op, current)
		if err != nil {
			if ierr := e.repo.IncrementOperatorFailure(ctx, op.Name); ierr != nil {
				slog.Warn("failed to update operator fail count", "operator", op.Name, "error", ierr)
			}
			return nil, fmt.Errorf("operator %s: %w", op.Name, err)
		}

		if ierr := e.repo.IncrementOperatorSuccess(ctx, op.Name); ierr != nil {
			slog.Warn("failed to update operator success count", "operator", op.Name, "error", ierr)
		}

		slog.Debug("step completed", "id", p.ID, "step", i+1, "operator", op.Name)

		current = out
		prevOutput = op.OutputType
	}

	return current, nil
}

// typeMismatch reports whether two concrete type tags disagree. Empty and
// "generic" tags match anything.
func typeMismatch(produced, expected string) bool {
	if produced == "" || produced == models.TypeGeneric {
		return false
	}
	if expected == "" || expected == models.TypeGeneric {
		return false
	}
	return produced != expected
}
