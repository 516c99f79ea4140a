package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/solvient/problem-engine/internal/engine"
	"github.com/solvient/problem-engine/internal/models"
)

// apiResponse is the standard response envelope
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// canAccessProblem reports whether the client may act on the problem.
// Admin clients see everything, everyone else only their own submissions.
// The admin capability lives in its own namespace so a problems:* grant
// cannot expand into it.
func canAccessProblem(client *models.ApiClient, p *models.Problem) bool {
	if client.HasPermission("admin:problems") {
		return true
	}
	return p.ClientID == client.ID
}

// handleSubmitProblem handles POST /api/v1/problems
func (s *Server) handleSubmitProblem(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	problem, err := s.service.Submit(r.Context(), client.ID, req)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidSubmission):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrFlowNotFound):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("failed to submit problem", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to submit problem")
		}
		return
	}

	respondJSON(w, http.StatusCreated, problem)
}

// handleGetProblem handles GET /api/v1/problems/{id}
func (s *Server) handleGetProblem(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := chi.URLParam(r, "id")

	problem, err := s.repo.GetProblem(r.Context(), id)
	if err != nil {
		slog.Error("failed to get problem", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get problem")
		return
	}

	if problem == nil || !canAccessProblem(client, problem) {
		respondError(w, http.StatusNotFound, "problem not found")
		return
	}

	respondJSON(w, http.StatusOK, problem)
}

// handleListProblems handles GET /api/v1/problems
func (s *Server) handleListProblems(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	filters := models.ProblemFilters{
		Type:   r.URL.Query().Get("type"),
		Status: models.ProblemStatus(r.URL.Query().Get("status")),
		Limit:  50,
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit <= 200 {
			filters.Limit = limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filters.Offset = offset
		}
	}

	if !client.HasPermission("admin:problems") {
		filters.ClientID = client.ID
	}

	problems, err := s.repo.ListProblems(r.Context(), filters)
	if err != nil {
		slog.Error("failed to list problems", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list problems")
		return
	}

	respondJSON(w, http.StatusOK, problems)
}

// handleConfirmPayment handles POST /api/v1/payments/confirm
func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req models.ConfirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ProblemID == "" {
		respondError(w, http.StatusBadRequest, "problem_id is required")
		return
	}

	existing, err := s.repo.GetProblem(r.Context(), req.ProblemID)
	if err != nil {
		slog.Error("failed to get problem", "id", req.ProblemID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to confirm payment")
		return
	}
	if existing == nil || !canAccessProblem(client, existing) {
		respondError(w, http.StatusNotFound, "problem not found")
		return
	}

	problem, err := s.service.ConfirmPayment(r.Context(), req.ProblemID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrProblemNotFound):
			respondError(w, http.StatusNotFound, "problem not found")
		case errors.Is(err, engine.ErrNotPayable):
			respondError(w, http.StatusConflict, err.Error())
		default:
			slog.Error("failed to confirm payment", "id", req.ProblemID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to confirm payment")
		}
		return
	}

	slog.Info("payment confirmed via API",
		"id", req.ProblemID,
		"client", client.Name,
		"reference", req.Reference,
	)

	respondJSON(w, http.StatusOK, problem)
}

// handleRevenueSummary handles GET /api/v1/revenue/summary
func (s *Server) handleRevenueSummary(w http.ResponseWriter, r *http.Request) {
	total, err := s.repo.RevenueTotal(r.Context())
	if err != nil {
		slog.Error("failed to compute revenue total", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to compute revenue total")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total": total,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "problem-engine",
	})
}

// handleReady handles GET /ready
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	if err := s.queue.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
