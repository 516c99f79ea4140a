package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/solvient/problem-engine/internal/models"
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// statusUpdate is one message on the watch stream
type statusUpdate struct {
	ProblemID     string               `json:"problem_id"`
	Status        models.ProblemStatus `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Error         string               `json:"error,omitempty"`
	Final         bool                 `json:"final"`
}

// handleWatchProblem handles GET /api/v1/problems/{id}/watch.
// It upgrades to a websocket and streams status transitions until the
// problem reaches a terminal state or the client disconnects.
func (s *Server) handleWatchProblem(w http.ResponseWriter, r *http.Request) {
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

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "id", id, "error", err)
		return
	}
	defer conn.Close()

	slog.Info("watch stream opened", "id", id, "client", client.Name)

	// Drain the reader so close frames from the client are noticed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastStatus := models.ProblemStatus("")

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			p, err := s.repo.GetProblem(r.Context(), id)
			if err != nil {
				slog.Error("watch poll failed", "id", id, "error", err)
				return
			}
			if p == nil {
				return
			}

			if p.Status == lastStatus {
				continue
			}
			lastStatus = p.Status

			update := statusUpdate{
				ProblemID:     p.ID,
				Status:        p.Status,
				PaymentStatus: p.PaymentStatus,
				Error:         p.Error,
				Final:         p.Status.IsTerminal(),
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}

			if update.Final {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
		}
	}
}
