package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

// defaultApprovalTimeout is the default suspension bound for the
// approval gate.
const defaultApprovalTimeout = 60 * time.Minute

// decision is what a completed signal carries back to a blocked waiter.
type decision struct {
	approved bool
	response string
	reason   string
}

// ApprovalService creates approval requests, blocks the executing step
// until an operator decides, and unblocks it on decision or timeout. The
// process-local signal map is an in-memory coordination pattern: each
// pending approval owns a completion channel that the deciding call
// sends its decision on.
type ApprovalService struct {
	store   store.Store
	bus     *eventbus.Bus
	states  *ExchangeStateManager
	logger  *slog.Logger
	signals sync.Map // approvalID -> chan decision
}

// NewApprovalService constructs an approval service. logger defaults to
// a discard logger if nil.
func NewApprovalService(s store.Store, bus *eventbus.Bus, states *ExchangeStateManager, logger *slog.Logger) *ApprovalService {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return &ApprovalService{store: s, bus: bus, states: states, logger: logger}
}

func (a *ApprovalService) signalChan(approvalID string) chan decision {
	ch, _ := a.signals.LoadOrStore(approvalID, make(chan decision, 1))
	return ch.(chan decision)
}

// CreateApprovalRequest is the non-blocking variant: it inserts a
// PENDING approval, transitions the exchange to WAITING_APPROVAL, and
// publishes APPROVAL_REQUESTED, returning the new approval id. The
// caller (RouteEngine) is expected to stop its route cleanly; recovery
// resumes it later.
//
// If a PENDING approval already exists for this exchange (the
// recovery-resubmission case, where re-running the approval-gate step
// would otherwise create a second PENDING row and violate the
// at-most-one-PENDING invariant), the existing request is returned
// instead of a new one.
func (a *ApprovalService) CreateApprovalRequest(ctx context.Context, exchangeID, routeID, payload string) (*store.ApprovalRequest, error) {
	if existing, ok, err := a.store.GetPendingApprovalByExchange(ctx, exchangeID); err != nil {
		return nil, wrapErr(ErrorKindExternal, "check pending approval", err)
	} else if ok {
		a.signalChan(existing.ID)
		return existing, nil
	}

	req := &store.ApprovalRequest{
		ID:         uuid.NewString(),
		ExchangeID: exchangeID,
		RouteID:    routeID,
		Payload:    payload,
		Status:     store.ApprovalStatusPending,
		CreatedAt:  time.Now(),
	}
	if err := a.store.CreateApproval(ctx, req); err != nil {
		return nil, wrapErr(ErrorKindExternal, "create approval", err)
	}
	if _, err := a.states.EnterWaitingApproval(ctx, exchangeID); err != nil {
		return nil, err
	}
	a.signalChan(req.ID)
	a.bus.Publish(eventbus.Event{
		Type:       EventApprovalRequested,
		ExchangeID: exchangeID,
		RouteID:    routeID,
		Data:       map[string]string{"approvalId": req.ID},
	})
	return req, nil
}

// RequestApproval is the blocking variant used by the default approval
// gate step: it creates (or reattaches to) the approval request, then
// waits up to timeout for a decision. On grant it returns the
// approver's response text; on reject it returns ApprovalRejectedErr;
// on timeout it marks the row REJECTED and returns ApprovalTimeoutErr.
func (a *ApprovalService) RequestApproval(ctx context.Context, exchangeID, routeID, payload string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}
	req, err := a.CreateApprovalRequest(ctx, exchangeID, routeID, payload)
	if err != nil {
		return "", err
	}
	ch := a.signalChan(req.ID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		if d.approved {
			return d.response, nil
		}
		return "", ApprovalRejectedErr(d.reason)
	case <-timer.C:
		if err := a.timeoutReject(ctx, req.ID); err != nil {
			a.logger.Error("auto-reject timed-out approval failed", "approvalId", req.ID, "error", err)
		}
		return "", ApprovalTimeoutErr()
	case <-ctx.Done():
		return "", wrapErr(ErrorKindTransient, "approval wait cancelled", ctx.Err())
	}
}

// Approve marks approvalID APPROVED, transitions its exchange back to
// RUNNING, and — only after that transaction commits — completes the
// in-memory signal and publishes APPROVAL_GRANTED. This ordering is
// mandatory: the executor must never observe the signal before the
// committed row it depends on.
func (a *ApprovalService) Approve(ctx context.Context, approvalID, response string) (*store.ApprovalRequest, error) {
	req, err := a.decide(ctx, approvalID, store.ApprovalStatusApproved, response, "")
	if err != nil {
		return nil, err
	}
	if _, err := a.states.ResumeAfterApproval(ctx, req.ExchangeID); err != nil {
		return nil, err
	}
	a.completeSignal(approvalID, decision{approved: true, response: response})
	a.bus.Publish(eventbus.Event{
		Type:       EventApprovalGranted,
		ExchangeID: req.ExchangeID,
		RouteID:    req.RouteID,
		Data:       map[string]string{"approvalId": approvalID},
	})
	return req, nil
}

// Reject marks approvalID REJECTED, fails its exchange with the
// operator's reason, and completes the in-memory signal with rejection.
func (a *ApprovalService) Reject(ctx context.Context, approvalID, reason string) (*store.ApprovalRequest, error) {
	if reason == "" {
		reason = "no reason given"
	}
	req, err := a.decide(ctx, approvalID, store.ApprovalStatusRejected, "", reason)
	if err != nil {
		return nil, err
	}
	if _, err := a.states.Fail(ctx, req.ExchangeID, "Approval rejected: "+reason); err != nil {
		a.logger.Error("fail exchange after rejection", "exchangeId", req.ExchangeID, "error", err)
	}
	a.completeSignal(approvalID, decision{approved: false, reason: reason})
	a.bus.Publish(eventbus.Event{
		Type:       EventApprovalRejected,
		ExchangeID: req.ExchangeID,
		RouteID:    req.RouteID,
		Data:       map[string]string{"approvalId": approvalID, "reason": reason},
	})
	return req, nil
}

// decide validates that approvalID is PENDING and commits its terminal
// status, returning the updated row.
func (a *ApprovalService) decide(ctx context.Context, approvalID string, status store.ApprovalStatus, response, reason string) (*store.ApprovalRequest, error) {
	req, err := a.store.GetApproval(ctx, approvalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundf("approval %q not found", approvalID)
		}
		return nil, wrapErr(ErrorKindExternal, "load approval", err)
	}
	if req.Status != store.ApprovalStatusPending {
		return nil, InvalidStatef("approval %q is not pending", approvalID)
	}
	now := time.Now()
	req.Status = status
	req.Response = response
	req.Reason = reason
	req.CompletedAt = &now
	if err := a.store.UpdateApproval(ctx, req); err != nil {
		return nil, wrapErr(ErrorKindExternal, "persist approval decision", err)
	}
	return req, nil
}

// timeoutReject auto-rejects a PENDING approval whose wait has expired,
// without touching the exchange — the blocking waiter itself surfaces
// ApprovalTimeoutErr to the route.
func (a *ApprovalService) timeoutReject(ctx context.Context, approvalID string) error {
	req, err := a.store.GetApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	if req.Status != store.ApprovalStatusPending {
		return nil
	}
	now := time.Now()
	req.Status = store.ApprovalStatusRejected
	req.Reason = "Approval timed out"
	req.CompletedAt = &now
	return a.store.UpdateApproval(ctx, req)
}

func (a *ApprovalService) completeSignal(approvalID string, d decision) {
	ch := a.signalChan(approvalID)
	select {
	case ch <- d:
	default:
	}
}

// RestorePendingApprovals reinstalls an in-memory signal for every
// PENDING approval row found at startup, so that a later Approve/Reject
// can unblock a future executor even though the process that originally
// created the signal is gone.
func (a *ApprovalService) RestorePendingApprovals(ctx context.Context) error {
	pending, err := a.store.ListPendingApprovals(ctx)
	if err != nil {
		return wrapErr(ErrorKindExternal, "list pending approvals", err)
	}
	for _, req := range pending {
		a.signalChan(req.ID)
	}
	return nil
}

// AutoRejectTimedOut finds PENDING approvals older than threshold and
// rejects them with reason "Approval timed out", used by
// CrashRecoveryService's periodic timeout scan.
func (a *ApprovalService) AutoRejectTimedOut(ctx context.Context, threshold time.Time) (int, error) {
	timedOut, err := a.store.ListTimedOutPendingApprovals(ctx, threshold)
	if err != nil {
		return 0, wrapErr(ErrorKindExternal, "list timed out approvals", err)
	}
	n := 0
	for _, req := range timedOut {
		if _, err := a.Reject(ctx, req.ID, "Approval timed out"); err != nil {
			a.logger.Error("auto-reject timed out approval", "approvalId", req.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}
