package engine

import (
	"context"
	"time"

	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

// StepRuntime is the per-exchange handle a RouteStep's StepFunc uses to
// reach the engine's shared collaborators (approval gate, audit log)
// without importing RouteEngine itself: a narrow facade handed to step
// bodies rather than the full engine.
type StepRuntime struct {
	ExchangeID string
	RouteID    string

	approvals *ApprovalService
	store     store.Store
}

func newStepRuntime(exchangeID, routeID string, approvals *ApprovalService, s store.Store) *StepRuntime {
	return &StepRuntime{ExchangeID: exchangeID, RouteID: routeID, approvals: approvals, store: s}
}

// RequestApproval blocks the current step until an operator approves or
// rejects, or the timeout elapses. timeoutMinutes <= 0 uses the
// service default (60 minutes).
func (rt *StepRuntime) RequestApproval(ctx context.Context, payload string, timeoutMinutes float64) (string, error) {
	var timeout time.Duration
	if timeoutMinutes > 0 {
		timeout = time.Duration(timeoutMinutes * float64(time.Minute))
	}
	return rt.approvals.RequestApproval(ctx, rt.ExchangeID, rt.RouteID, payload, timeout)
}

// AuditLog appends a RouteLog row tied to the current exchange.
func (rt *StepRuntime) AuditLog(ctx context.Context, level, message string) error {
	return rt.store.AppendRouteLog(ctx, &store.RouteLog{
		ExchangeID: rt.ExchangeID,
		RouteID:    rt.RouteID,
		Level:      level,
		Message:    message,
		CreatedAt:  time.Now(),
	})
}

// IncrementMetric records one success or failure against the current
// route's running totals.
func (rt *StepRuntime) IncrementMetric(ctx context.Context, success bool) error {
	return rt.store.IncrementRouteMetric(ctx, rt.RouteID, success)
}

// ApprovalGateStep is the default approval-gate step helper: it calls
// RequestApproval with the current body as the approval payload and
// returns the approver's response (or the original body if the
// response is empty) as the step's new body.
func ApprovalGateStep(name string, timeoutMinutes float64) RouteStep {
	return RouteStep{
		Name: name,
		Kind: StepKindApproval,
		Run: func(ctx context.Context, rt *StepRuntime, body string) (string, error) {
			response, err := rt.RequestApproval(ctx, body, timeoutMinutes)
			if err != nil {
				return "", err
			}
			if response == "" {
				return body, nil
			}
			return response, nil
		},
	}
}
