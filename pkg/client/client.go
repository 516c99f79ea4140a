// Package client provides a Go SDK for the problem-engine API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/solvient/problem-engine/internal/models"
)

// Client is a problem-engine API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a new API client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiResponse mirrors the server's response envelope
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RevenueSummaryResponse is the revenue summary payload
type RevenueSummaryResponse struct {
	Total float64 `json:"total"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !envelope.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}

	if out != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}

// APIError is an error response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Submit submits a new problem and returns it in PRICED state
func (c *Client) Submit(ctx context.Context, req models.SubmitRequest) (*models.Problem, error) {
	var problem models.Problem
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/problems", req, &problem); err != nil {
		return nil, err
	}
	return &problem, nil
}

// GetProblem retrieves a problem by id
func (c *Client) GetProblem(ctx context.Context, id string) (*models.Problem, error) {
	var problem models.Problem
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/problems/"+url.PathEscape(id), nil, &problem); err != nil {
		return nil, err
	}
	return &problem, nil
}

// ListProblems lists the caller's problems
func (c *Client) ListProblems(ctx context.Context, filters models.ProblemFilters) ([]*models.Problem, error) {
	q := url.Values{}
	if filters.Type != "" {
		q.Set("type", filters.Type)
	}
	if filters.Status != "" {
		q.Set("status", string(filters.Status))
	}
	if filters.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", filters.Limit))
	}
	if filters.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", filters.Offset))
	}

	path := "/api/v1/problems"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var problems []*models.Problem
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &problems); err != nil {
		return nil, err
	}
	return problems, nil
}

// ConfirmPayment confirms payment for a priced problem, which hands it
// to the execution queue.
func (c *Client) ConfirmPayment(ctx context.Context, problemID, reference string) (*models.Problem, error) {
	req := models.ConfirmPaymentRequest{ProblemID: problemID, Reference: reference}

	var problem models.Problem
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/payments/confirm", req, &problem); err != nil {
		return nil, err
	}
	return &problem, nil
}

// WaitForCompletion polls until the problem reaches a terminal state
func (c *Client) WaitForCompletion(ctx context.Context, problemID string, interval time.Duration) (*models.Problem, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			problem, err := c.GetProblem(ctx, problemID)
			if err != nil {
				return nil, err
			}
			if problem.Status.IsTerminal() {
				return problem, nil
			}
		}
	}
}

// ListFlows lists the flow catalog
func (c *Client) ListFlows(ctx context.Context) ([]*models.Flow, error) {
	var flows []*models.Flow
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/catalog/flows", nil, &flows); err != nil {
		return nil, err
	}
	return flows, nil
}

// ListOperators lists the operator catalog
func (c *Client) ListOperators(ctx context.Context) ([]*models.Operator, error) {
	var operators []*models.Operator
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/catalog/operators", nil, &operators); err != nil {
		return nil, err
	}
	return operators, nil
}

// RevenueSummary returns the booked revenue total
func (c *Client) RevenueSummary(ctx context.Context) (*RevenueSummaryResponse, error) {
	var summary RevenueSummaryResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/revenue/summary", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Health checks service health (unauthenticated)
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
