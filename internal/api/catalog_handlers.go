package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListFlows handles GET /api/v1/catalog/flows
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.repo.ListFlows(r.Context())
	if err != nil {
		slog.Error("failed to list flows", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list flows")
		return
	}

	respondJSON(w, http.StatusOK, flows)
}

// handleGetFlow handles GET /api/v1/catalog/flows/{name}
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	flow, err := s.repo.GetFlow(r.Context(), name)
	if err != nil {
		slog.Error("failed to get flow", "name", name, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get flow")
		return
	}

	if flow == nil {
		respondError(w, http.StatusNotFound, "flow not found")
		return
	}

	respondJSON(w, http.StatusOK, flow)
}

// handleListOperators handles GET /api/v1/catalog/operators
func (s *Server) handleListOperators(w http.ResponseWriter, r *http.Request) {
	operators, err := s.repo.ListOperators(r.Context())
	if err != nil {
		slog.Error("failed to list operators", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list operators")
		return
	}

	respondJSON(w, http.StatusOK, operators)
}

// handleGetOperator handles GET /api/v1/catalog/operators/{name}
func (s *Server) handleGetOperator(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	operator, err := s.repo.GetOperator(r.Context(), name)
	if err != nil {
		slog.Error("failed to get operator", "name", name, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get operator")
		return
	}

	if operator == nil {
		respondError(w, http.StatusNotFound, "operator not found")
		return
	}

	respondJSON(w, http.StatusOK, operator)
}
