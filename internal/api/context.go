package api

import (
	"context"

	"github.com/solvient/problem-engine/internal/models"
)

type contextKey string

const clientContextKey contextKey = "api_client"

// ContextWithClient stores the authenticated client in the context
func ContextWithClient(ctx context.Context, client *models.ApiClient) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// ClientFromContext retrieves the authenticated client from the context
func ClientFromContext(ctx context.Context) (*models.ApiClient, bool) {
	client, ok := ctx.Value(clientContextKey).(*models.ApiClient)
	return client, ok
}
