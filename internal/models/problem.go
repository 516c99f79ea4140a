package models

import (
	"encoding/json"
	"time"
)

// ProblemStatus represents the lifecycle state of a problem
type ProblemStatus string

const (
	StatusIntake    ProblemStatus = "INTAKE"
	StatusPriced    ProblemStatus = "PRICED"
	StatusPaid      ProblemStatus = "PAID"
	StatusExecuting ProblemStatus = "EXECUTING"
	StatusCompleted ProblemStatus = "COMPLETED"
	StatusFailed    ProblemStatus = "FAILED"
)

// IsTerminal returns true if the status is a terminal state
func (s ProblemStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PaymentStatus represents the payment state of a problem
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = "NONE"
	PaymentRequired  PaymentStatus = "REQUIRED"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
)

// Problem is one submitted unit of work progressing through the lifecycle
type Problem struct {
	ID            string            `json:"id"`
	ClientID      int64             `json:"client_id"`
	Type          string            `json:"type"`
	Payload       json.RawMessage   `json:"payload"`
	Context       map[string]string `json:"context,omitempty"`
	Status        ProblemStatus     `json:"status"`
	Price         float64           `json:"price"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	FlowName      string            `json:"flow_name,omitempty"`
	Result        json.RawMessage   `json:"result,omitempty"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// RevenueEntry is an immutable ledger row booked once per completed problem
type RevenueEntry struct {
	ID        string    `json:"id"`
	ProblemID string    `json:"problem_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// ProblemFilters defines filters for listing problems
type ProblemFilters struct {
	ClientID int64
	Type     string
	Status   ProblemStatus
	Limit    int
	Offset   int
}

// SubmitRequest represents a request to submit a problem
type SubmitRequest struct {
	Type    string            `json:"type"`
	Payload json.RawMessage   `json:"payload"`
	Context map[string]string `json:"context,omitempty"`
}

// ConfirmPaymentRequest represents an external payment confirmation
type ConfirmPaymentRequest struct {
	ProblemID string `json:"problem_id"`
	Reference string `json:"reference,omitempty"`
}
