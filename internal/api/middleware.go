package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/solvient/problem-engine/internal/storage"
)

// AuthMiddleware handles API key authentication
type AuthMiddleware struct {
	repo storage.Repository
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(repo storage.Repository) *AuthMiddleware {
	return &AuthMiddleware{repo: repo}
}

// Authenticate validates the API key from the Authorization header and
// stores the resolved client in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractApiKey(r)
		if apiKey == "" {
			respondError(w, http.StatusUnauthorized, "API key required")
			return
		}

		client, err := m.repo.GetClientByApiKey(r.Context(), apiKey)
		if err != nil {
			slog.Error("failed to look up API client", "error", err)
			respondError(w, http.StatusInternalServerError, "authentication failed")
			return
		}

		if client == nil || !client.IsActive {
			respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		slog.Debug("api client authenticated", "client", client.Name, "key", client.MaskedApiKey())

		// Best effort; an authenticated request should not fail on this
		if err := m.repo.UpdateClientLastUsed(r.Context(), apiKey); err != nil {
			slog.Warn("failed to update client last used", "client", client.Name, "error", err)
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), client)))
	})
}

// RequirePermission gates a route on a client permission
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := ClientFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !client.HasPermission(permission) {
				slog.Warn("permission denied",
					"client", client.Name,
					"required", permission,
				)
				respondError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractApiKey pulls the API key from "Authorization: Bearer <key>" or
// the X-API-Key header.
func extractApiKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
