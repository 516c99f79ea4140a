package engine

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/solvient/problem-engine/internal/models"
)

// complexityHintKey is the optional numeric field clients may embed in a
// payload to raise its billed complexity.
const complexityHintKey = "complexity"

// ComputePrice prices a payload against a flow. It is a pure function of
// its inputs and deterministic for auditing:
//
//	price = base_price + price_per_complexity * complexity
//	complexity = len(canonical JSON encoding) + complexity hint
//
// The canonical encoding is the compact encoding/json marshaling of the
// decoded payload; map keys marshal in sorted order, so equal payloads
// always measure the same byte length. The hint defaults to 0 when absent
// and negative hints are ignored. The result is rounded half-up to 2
// decimal places.
func ComputePrice(flow *models.Flow, payload json.RawMessage) (float64, error) {
	canonical, hint, err := CanonicalPayload(payload)
	if err != nil {
		return 0, err
	}

	complexity := float64(len(canonical)) + hint
	price := flow.BasePrice + flow.PricePerComplexity*complexity

	return math.Round(price*100) / 100, nil
}

// CanonicalPayload returns the canonical JSON encoding of a payload and
// its complexity hint. The same encoding is used for complexity
// measurement and as the seed payload of the step loop.
func CanonicalPayload(payload json.RawMessage) ([]byte, float64, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, 0, fmt.Errorf("invalid payload: %w", err)
	}

	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	var hint float64
	if obj, ok := v.(map[string]any); ok {
		if h, ok := obj[complexityHintKey].(float64); ok && h > 0 {
			hint = h
		}
	}

	return canonical, hint, nil
}
