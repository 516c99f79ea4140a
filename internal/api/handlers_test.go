package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/solvient/problem-engine/internal/config"
	"github.com/solvient/problem-engine/internal/engine"
	"github.com/solvient/problem-engine/internal/models"
	"github.com/solvient/problem-engine/internal/storage"
)

// apiRepo implements the repository methods the HTTP layer touches
type apiRepo struct {
	storage.Repository

	clients  map[string]*models.ApiClient
	problems map[string]*models.Problem
	flows    []*models.Flow
	revenue  float64
}

func (r *apiRepo) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	return r.clients[apiKey], nil
}

func (r *apiRepo) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	return nil
}

func (r *apiRepo) GetProblem(ctx context.Context, id string) (*models.Problem, error) {
	return r.problems[id], nil
}

func (r *apiRepo) ListProblems(ctx context.Context, filters models.ProblemFilters) ([]*models.Problem, error) {
	var out []*models.Problem
	for _, p := range r.problems {
		if filters.ClientID != 0 && p.ClientID != filters.ClientID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *apiRepo) ListFlows(ctx context.Context) ([]*models.Flow, error) {
	return r.flows, nil
}

func (r *apiRepo) RevenueTotal(ctx context.Context) (float64, error) {
	return r.revenue, nil
}

func (r *apiRepo) Ping(ctx context.Context) error { return nil }

// stubService returns canned intake responses
type stubService struct {
	submitted *models.Problem
	submitErr error

	confirmed  *models.Problem
	confirmErr error
}

func (s *stubService) Submit(ctx context.Context, clientID int64, req models.SubmitRequest) (*models.Problem, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.submitted, nil
}

func (s *stubService) ConfirmPayment(ctx context.Context, problemID string) (*models.Problem, error) {
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return s.confirmed, nil
}

type stubQueue struct{}

func (stubQueue) Enqueue(ctx context.Context, problemID string) error { return nil }
func (stubQueue) Dequeue(ctx context.Context) (string, error)         { return "", nil }
func (stubQueue) Ping(ctx context.Context) error                      { return nil }
func (stubQueue) Close() error                                        { return nil }

func newTestServer(repo *apiRepo, svc ProblemService) *Server {
	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, svc, repo, stubQueue{})
}

func newTestRepo() *apiRepo {
	return &apiRepo{
		clients: map[string]*models.ApiClient{
			"key-alice": {
				ID: 1, Name: "alice", ApiKey: "key-alice", IsActive: true,
				Permissions: []string{"problems:*", "catalog:read", "revenue:read"},
			},
			"key-admin": {
				ID: 2, Name: "admin", ApiKey: "key-admin", IsActive: true,
				Permissions: []string{"*"},
			},
			"key-inactive": {
				ID: 3, Name: "ghost", ApiKey: "key-inactive", IsActive: false,
				Permissions: []string{"problems:*"},
			},
		},
		problems: make(map[string]*models.Problem),
	}
}

func doRequest(t *testing.T, s *Server, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if !envelope.Success {
		t.Fatalf("expected success envelope, got error %q", envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(newTestRepo(), &stubService{})

	rr := doRequest(t, s, http.MethodGet, "/api/v1/problems", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rr.Code)
	}

	rr = doRequest(t, s, http.MethodGet, "/api/v1/problems", "wrong-key", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown key, got %d", rr.Code)
	}

	rr = doRequest(t, s, http.MethodGet, "/api/v1/problems", "key-inactive", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for inactive client, got %d", rr.Code)
	}
}

func TestSubmitProblem(t *testing.T) {
	repo := newTestRepo()
	svc := &stubService{
		submitted: &models.Problem{
			ID: "p1", ClientID: 1, Type: "analysis",
			Status: models.StatusPriced, Price: 7.00,
			PaymentStatus: models.PaymentRequired,
		},
	}
	s := newTestServer(repo, svc)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/problems", "key-alice", models.SubmitRequest{
		Type:    "analysis",
		Payload: json.RawMessage(`{"text":"hi"}`),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var problem models.Problem
	decodeData(t, rr, &problem)
	if problem.ID != "p1" || problem.Status != models.StatusPriced {
		t.Errorf("unexpected problem in response: %+v", problem)
	}
	if problem.Price != 7.00 {
		t.Errorf("expected quoted price 7.00, got %v", problem.Price)
	}
}

func TestSubmitProblemNoFlow(t *testing.T) {
	svc := &stubService{submitErr: fmt.Errorf("%w: weird", engine.ErrFlowNotFound)}
	s := newTestServer(newTestRepo(), svc)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/problems", "key-alice", models.SubmitRequest{
		Type:    "weird",
		Payload: json.RawMessage(`{}`),
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", rr.Code)
	}
}

func TestGetProblemOwnership(t *testing.T) {
	repo := newTestRepo()
	repo.problems["p1"] = &models.Problem{ID: "p1", ClientID: 1, Status: models.StatusPriced}
	repo.problems["p2"] = &models.Problem{ID: "p2", ClientID: 99, Status: models.StatusPriced}
	s := newTestServer(repo, &stubService{})

	rr := doRequest(t, s, http.MethodGet, "/api/v1/problems/p1", "key-alice", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for own problem, got %d", rr.Code)
	}

	// Someone else's problem looks like it does not exist
	rr = doRequest(t, s, http.MethodGet, "/api/v1/problems/p2", "key-alice", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign problem, got %d", rr.Code)
	}

	// Admin sees everything
	rr = doRequest(t, s, http.MethodGet, "/api/v1/problems/p2", "key-admin", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rr.Code)
	}
}

func TestListProblemsScopedToClient(t *testing.T) {
	repo := newTestRepo()
	repo.problems["p1"] = &models.Problem{ID: "p1", ClientID: 1, Status: models.StatusPriced}
	repo.problems["p2"] = &models.Problem{ID: "p2", ClientID: 99, Status: models.StatusPriced}
	s := newTestServer(repo, &stubService{})

	rr := doRequest(t, s, http.MethodGet, "/api/v1/problems", "key-alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var own []models.Problem
	decodeData(t, rr, &own)
	if len(own) != 1 || own[0].ID != "p1" {
		t.Errorf("expected only own problem, got %+v", own)
	}

	rr = doRequest(t, s, http.MethodGet, "/api/v1/problems", "key-admin", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var all []models.Problem
	decodeData(t, rr, &all)
	if len(all) != 2 {
		t.Errorf("expected admin to see both problems, got %+v", all)
	}
}

func TestConfirmPaymentOwnership(t *testing.T) {
	repo := newTestRepo()
	repo.problems["p2"] = &models.Problem{ID: "p2", ClientID: 99, Status: models.StatusPriced}
	s := newTestServer(repo, &stubService{
		confirmed: &models.Problem{ID: "p2", ClientID: 99, Status: models.StatusPaid},
	})

	// A tenant with problems:* must not pay for another tenant's problem
	rr := doRequest(t, s, http.MethodPost, "/api/v1/payments/confirm", "key-alice",
		models.ConfirmPaymentRequest{ProblemID: "p2"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign problem, got %d", rr.Code)
	}
}

func TestConfirmPayment(t *testing.T) {
	repo := newTestRepo()
	repo.problems["p1"] = &models.Problem{ID: "p1", ClientID: 1, Status: models.StatusPriced}

	svc := &stubService{
		confirmed: &models.Problem{
			ID: "p1", ClientID: 1,
			Status: models.StatusPaid, PaymentStatus: models.PaymentConfirmed,
		},
	}
	s := newTestServer(repo, svc)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/payments/confirm", "key-alice",
		models.ConfirmPaymentRequest{ProblemID: "p1", Reference: "tx-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var problem models.Problem
	decodeData(t, rr, &problem)
	if problem.Status != models.StatusPaid {
		t.Errorf("expected PAID, got %s", problem.Status)
	}
}

func TestConfirmPaymentConflict(t *testing.T) {
	repo := newTestRepo()
	repo.problems["p1"] = &models.Problem{ID: "p1", ClientID: 1, Status: models.StatusCompleted}

	svc := &stubService{confirmErr: fmt.Errorf("%w: p1 is COMPLETED", engine.ErrNotPayable)}
	s := newTestServer(repo, svc)

	rr := doRequest(t, s, http.MethodPost, "/api/v1/payments/confirm", "key-alice",
		models.ConfirmPaymentRequest{ProblemID: "p1"})
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
}

func TestConfirmPaymentMissingProblem(t *testing.T) {
	s := newTestServer(newTestRepo(), &stubService{})

	rr := doRequest(t, s, http.MethodPost, "/api/v1/payments/confirm", "key-alice",
		models.ConfirmPaymentRequest{ProblemID: "ghost"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestRevenueSummary(t *testing.T) {
	repo := newTestRepo()
	repo.revenue = 123.45
	s := newTestServer(repo, &stubService{})

	rr := doRequest(t, s, http.MethodGet, "/api/v1/revenue/summary", "key-alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var summary struct {
		Total float64 `json:"total"`
	}
	decodeData(t, rr, &summary)
	if summary.Total != 123.45 {
		t.Errorf("expected total 123.45, got %v", summary.Total)
	}
}

func TestPermissionDenied(t *testing.T) {
	repo := newTestRepo()
	repo.clients["key-limited"] = &models.ApiClient{
		ID: 4, Name: "limited", ApiKey: "key-limited", IsActive: true,
		Permissions: []string{"catalog:read"},
	}
	s := newTestServer(repo, &stubService{})

	rr := doRequest(t, s, http.MethodGet, "/api/v1/problems", "key-limited", nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}

	rr = doRequest(t, s, http.MethodGet, "/api/v1/catalog/flows", "key-limited", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for permitted route, got %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(newTestRepo(), &stubService{})

	rr := doRequest(t, s, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	rr = doRequest(t, s, http.MethodGet, "/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}
