package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/solvient/problem-engine/internal/models"
)

// Repository defines the interface for problem-engine persistence.
//
// Lookup methods return (nil, nil) for absence; only infrastructure
// failures surface as errors.
type Repository interface {
	// Problems
	CreateProblem(ctx context.Context, p *models.Problem) error
	GetProblem(ctx context.Context, id string) (*models.Problem, error)
	ListProblems(ctx context.Context, filters models.ProblemFilters) ([]*models.Problem, error)

	// MarkPaid flips a PRICED problem to PAID/CONFIRMED. Returns false
	// when the problem is missing or not awaiting payment.
	MarkPaid(ctx context.Context, id string) (bool, error)

	// ClaimProblem atomically moves a confirmed PAID problem to EXECUTING.
	// Returns false when the claim was lost (already executing, terminal,
	// or not eligible).
	ClaimProblem(ctx context.Context, id string) (bool, error)

	// FailProblem moves a problem to the terminal FAILED state.
	FailProblem(ctx context.Context, id, errMsg string) error

	// CompleteProblem moves a problem to COMPLETED and books the revenue
	// entry in the same transaction.
	CompleteProblem(ctx context.Context, id string, result json.RawMessage, entry *models.RevenueEntry) error

	// GetStalePaid returns ids of problems stuck in PAID longer than the
	// given duration, oldest first.
	GetStalePaid(ctx context.Context, olderThan time.Duration) ([]string, error)

	// Catalog
	UpsertFlow(ctx context.Context, f *models.Flow) error
	UpsertOperator(ctx context.Context, op *models.Operator) error
	GetFlow(ctx context.Context, name string) (*models.Flow, error)
	GetFlowByProblemType(ctx context.Context, problemType string) (*models.Flow, error)
	ListFlows(ctx context.Context) ([]*models.Flow, error)
	GetOperator(ctx context.Context, name string) (*models.Operator, error)
	ListOperators(ctx context.Context) ([]*models.Operator, error)
	IncrementOperatorSuccess(ctx context.Context, name string) error
	IncrementOperatorFailure(ctx context.Context, name string) error

	// Revenue
	RevenueTotal(ctx context.Context) (float64, error)

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
