// Package store provides the relational persistence layer for exchanges,
// checkpoints, approvals, route logs, and route metrics. It exposes a
// single Store interface with a Postgres-backed implementation for
// production and a Memory implementation for tests and for running
// without a configured database.
package store

import "time"

// ExchangeStatus is the lifecycle state of an ExchangeState row.
type ExchangeStatus string

const (
	ExchangeStatusPending         ExchangeStatus = "PENDING"
	ExchangeStatusRunning         ExchangeStatus = "RUNNING"
	ExchangeStatusPaused          ExchangeStatus = "PAUSED"
	ExchangeStatusWaitingApproval ExchangeStatus = "WAITING_APPROVAL"
	ExchangeStatusCompleted       ExchangeStatus = "COMPLETED"
	ExchangeStatusFailed          ExchangeStatus = "FAILED"
	ExchangeStatusCancelled       ExchangeStatus = "CANCELLED"
)

// ExchangeState is one invocation of a route.
type ExchangeState struct {
	ExchangeID      string         `json:"exchangeId"`
	RouteID         string         `json:"routeId"`
	Status          ExchangeStatus `json:"status"`
	CurrentStep     int            `json:"currentStep"`
	CurrentStepName string         `json:"currentStepName,omitempty"`
	Payload         string         `json:"payload"`
	Context         string         `json:"context,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	LastCheckpoint  time.Time      `json:"lastCheckpoint"`
}

// Copy returns a deep-enough copy for safe concurrent use across the
// mutex boundary in Memory and across REST response serialization.
func (e *ExchangeState) Copy() *ExchangeState {
	if e == nil {
		return nil
	}
	c := *e
	if e.StartedAt != nil {
		t := *e.StartedAt
		c.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ExchangeCheckpoint is an append-only record that a named step
// succeeded for an exchange. (ExchangeID, StepName) is unique.
type ExchangeCheckpoint struct {
	ID         int64     `json:"id"`
	ExchangeID string    `json:"exchangeId"`
	StepIndex  int       `json:"stepIndex"`
	StepName   string    `json:"stepName"`
	StepData   string    `json:"stepData,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ApprovalStatus is the lifecycle state of an ApprovalRequest row.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// ApprovalRequest is a human-in-the-loop approval gate instance.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	ExchangeID  string         `json:"exchangeId"`
	RouteID     string         `json:"routeId"`
	Payload     string         `json:"payload,omitempty"`
	Status      ApprovalStatus `json:"status"`
	Response    string         `json:"response,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

func (a *ApprovalRequest) Copy() *ApprovalRequest {
	if a == nil {
		return nil
	}
	c := *a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// RouteLog is an append-only audit log entry for a route/exchange.
type RouteLog struct {
	ID         int64     `json:"id"`
	ExchangeID string    `json:"exchangeId"`
	RouteID    string    `json:"routeId"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RouteMetric is a per-route running total of executions.
type RouteMetric struct {
	RouteID string `json:"routeId"`
	Total   int64  `json:"total"`
	Success int64  `json:"success"`
	Failure int64  `json:"failure"`
}

// ExchangeFilter narrows ListExchanges results.
type ExchangeFilter struct {
	Status  ExchangeStatus
	RouteID string
	Limit   int
	Offset  int
}
