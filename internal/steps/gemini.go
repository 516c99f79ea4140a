package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/solvient/problem-engine/internal/models"
)

// GeminiRunner executes operator steps by delegating to the Gemini API.
// The operator's name and description become the system instruction and
// the response is requested as a JSON document so it can be threaded into
// the next step.
type GeminiRunner struct {
	client *genai.Client
	model  string
}

// NewGeminiRunner creates a new Gemini-backed step runner
func NewGeminiRunner(ctx context.Context, apiKey, model string) (*GeminiRunner, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiRunner{
		client: client,
		model:  model,
	}, nil
}

// RunStep invokes the model with the operator description and current
// payload. The response must be a parseable JSON document.
func (r *GeminiRunner) RunStep(ctx context.Context, op *models.Operator, payload json.RawMessage) (json.RawMessage, error) {
	instruction := fmt.Sprintf(
		"You are an operator performing step %q. %s Return the transformed data as a single JSON document.",
		op.Name, op.Description,
	)

	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf("Input data: %s", payload), genai.RoleUser),
	}

	resp, err := r.client.Models.GenerateContent(ctx, r.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
	})
	if err != nil {
		return nil, fmt.Errorf("step execution call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.New("empty response from model")
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("model returned unparseable payload: %w", err)
	}

	return json.RawMessage(text), nil
}

// Name identifies the runner for logging
func (r *GeminiRunner) Name() string {
	return fmt.Sprintf("gemini:%s", r.model)
}
