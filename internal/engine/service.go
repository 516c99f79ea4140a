package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solvient/problem-engine/internal/models"
	"github.com/solvient/problem-engine/internal/queue"
	"github.com/solvient/problem-engine/internal/storage"
)

// Common errors
var (
	ErrFlowNotFound        = errors.New("no flow for problem type")
	ErrProblemNotFound     = errors.New("problem not found")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrAlreadyClaimed      = errors.New("problem already claimed")
	ErrNotPayable          = errors.New("problem is not awaiting payment")
	ErrInvalidSubmission   = errors.New("invalid submission")
)

// Service handles problem intake and payment confirmation
type Service struct {
	repo  storage.Repository
	queue queue.Queue
}

// NewService creates a new intake service
func NewService(repo storage.Repository, q queue.Queue) *Service {
	return &Service{repo: repo, queue: q}
}

// Submit selects a flow for the request, prices it, and persists the
// problem in PRICED state awaiting payment. Nothing is persisted when
// flow selection or pricing rejects the request.
func (s *Service) Submit(ctx context.Context, clientID int64, req models.SubmitRequest) (*models.Problem, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidSubmission)
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidSubmission)
	}

	flow, err := s.repo.GetFlowByProblemType(ctx, req.Type)
	if err != nil {
		return nil, fmt.Errorf("flow selection failed: %w", err)
	}
	if flow == nil {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, req.Type)
	}

	price, err := ComputePrice(flow, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	now := time.Now().UTC()
	p := &models.Problem{
		ID:            uuid.New().String(),
		ClientID:      clientID,
		Type:          req.Type,
		Payload:       req.Payload,
		Context:       req.Context,
		Status:        models.StatusPriced,
		Price:         price,
		PaymentStatus: models.PaymentRequired,
		FlowName:      flow.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.CreateProblem(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to persist problem: %w", err)
	}

	slog.Info("problem submitted",
		"id", p.ID,
		"type", p.Type,
		"flow", flow.Name,
		"price", price,
	)

	return p, nil
}

// ConfirmPayment flips a priced problem to PAID/CONFIRMED and hands it to
// the execution queue. A failed enqueue is not fatal: the stale-PAID sweep
// picks the problem up later.
func (s *Service) ConfirmPayment(ctx context.Context, problemID string) (*models.Problem, error) {
	ok, err := s.repo.MarkPaid(ctx, problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	if !ok {
		p, err := s.repo.GetProblem(ctx, problemID)
		if err != nil {
			return nil, fmt.Errorf("failed to get problem: %w", err)
		}
		if p == nil {
			return nil, ErrProblemNotFound
		}
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPayable, problemID, p.Status)
	}

	if err := s.queue.Enqueue(ctx, problemID); err != nil {
		slog.Warn("failed to enqueue problem, sweep will retry", "id", problemID, "error", err)
	}

	slog.Info("payment confirmed", "id", problemID)

	return s.repo.GetProblem(ctx, problemID)
}
