// Package recovery implements CrashRecoveryService: the startup scan
// and periodic tickers that resubmit abandoned RUNNING exchanges,
// restore approval waiters, flag stalled runs, and auto-reject expired
// approvals.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/chiefkemist/dur-exec-wf-ai/engine"
	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

const (
	resumeTickInterval  = 30 * time.Second
	stalledTickInterval = 5 * time.Minute
	timeoutTickInterval = 10 * time.Minute

	stalledThreshold = 30 * time.Minute
	approvalTimeout  = 60 * time.Minute
)

// Submitter is the subset of RouteEngine the recovery service needs,
// kept as an interface so tests can supply a stub instead of a full
// engine.
type Submitter interface {
	SubmitRecovery(ctx context.Context, exchangeID string) error
}

// Service runs CrashRecoveryService's startup scan and periodic ticks.
type Service struct {
	store     store.Store
	bus       *eventbus.Bus
	states    *engine.ExchangeStateManager
	approvals *engine.ApprovalService
	engine    Submitter
	logger    *slog.Logger

	stop chan struct{}
}

// New constructs a recovery service. logger defaults to slog.Default if
// nil.
func New(s store.Store, bus *eventbus.Bus, states *engine.ExchangeStateManager, approvals *engine.ApprovalService, eng Submitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		bus:       bus,
		states:    states,
		approvals: approvals,
		engine:    eng,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// OnStartup resubmits every RUNNING and WAITING_APPROVAL exchange found
// at process start and restores the approval signal map from PENDING
// rows. Must run before the REST server starts accepting operator
// traffic.
//
// A WAITING_APPROVAL exchange has a worker blocked on the approval
// gate that died with the process; resubmitting it replays the route
// from the start, skipping every already-checkpointed step via the
// idempotent checkpoint log, until it reaches the approval-gate step
// again. There it calls CreateApprovalRequest, which finds the
// still-PENDING row left behind and reattaches to it instead of
// creating a second one, re-establishing the blocked waiter so a
// later Approve/Reject has a worker to signal.
func (s *Service) OnStartup(ctx context.Context) error {
	running, err := s.store.ListRunningExchanges(ctx)
	if err != nil {
		return err
	}
	waiting, err := s.store.ListWaitingApprovalExchanges(ctx)
	if err != nil {
		return err
	}
	if err := s.approvals.RestorePendingApprovals(ctx); err != nil {
		return err
	}

	resubmit := make([]*store.ExchangeState, 0, len(running)+len(waiting))
	resubmit = append(resubmit, running...)
	resubmit = append(resubmit, waiting...)
	for _, ex := range resubmit {
		s.bus.Publish(eventbus.Event{
			Type:       engine.EventExchangeRecovering,
			ExchangeID: ex.ExchangeID,
			RouteID:    ex.RouteID,
		})
		if err := s.engine.SubmitRecovery(ctx, ex.ExchangeID); err != nil {
			s.logger.Error("recovery: resubmit exchange", "exchangeId", ex.ExchangeID, "status", ex.Status, "error", err)
		}
	}
	s.logger.Info("recovery: startup scan complete", "running", len(running), "waitingApproval", len(waiting))
	return nil
}

// Start launches the three periodic tickers in background goroutines.
// Call Stop to terminate them.
func (s *Service) Start(ctx context.Context) {
	go s.tick(ctx, resumeTickInterval, s.resumeApprovedWaiters)
	go s.tick(ctx, stalledTickInterval, s.scanStalled)
	go s.tick(ctx, timeoutTickInterval, s.scanApprovalTimeouts)
}

// Stop terminates the periodic tickers started by Start.
func (s *Service) Stop() {
	close(s.stop)
}

func (s *Service) tick(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// resumeApprovedWaiters implements the 30s non-blocking-resume tick:
// any WAITING_APPROVAL exchange with no PENDING approval but a matching
// APPROVED row is transitioned to RUNNING and resubmitted.
func (s *Service) resumeApprovedWaiters(ctx context.Context) {
	resumable, err := s.store.ListResumableWaitingApprovals(ctx)
	if err != nil {
		s.logger.Error("recovery: list resumable waiting approvals", "error", err)
		return
	}
	for _, ex := range resumable {
		if _, err := s.states.ResumeAfterApproval(ctx, ex.ExchangeID); err != nil {
			s.logger.Error("recovery: resume after approval", "exchangeId", ex.ExchangeID, "error", err)
			continue
		}
		if err := s.engine.SubmitRecovery(ctx, ex.ExchangeID); err != nil {
			s.logger.Error("recovery: resubmit resumed exchange", "exchangeId", ex.ExchangeID, "error", err)
		}
	}
}

// scanStalled implements the 5min stalled-exchange scan: any RUNNING
// exchange whose lastCheckpoint predates the threshold publishes
// EXCHANGE_STALLED. No automatic transition; the operator decides.
func (s *Service) scanStalled(ctx context.Context) {
	threshold := time.Now().Add(-stalledThreshold)
	stalled, err := s.store.ListStalledExchanges(ctx, threshold)
	if err != nil {
		s.logger.Error("recovery: list stalled exchanges", "error", err)
		return
	}
	for _, ex := range stalled {
		s.bus.Publish(eventbus.Event{
			Type:       engine.EventExchangeStalled,
			ExchangeID: ex.ExchangeID,
			RouteID:    ex.RouteID,
		})
	}
}

// scanApprovalTimeouts implements the 10min timeout-auto-reject scan.
func (s *Service) scanApprovalTimeouts(ctx context.Context) {
	threshold := time.Now().Add(-approvalTimeout)
	n, err := s.approvals.AutoRejectTimedOut(ctx, threshold)
	if err != nil {
		s.logger.Error("recovery: auto-reject timed out approvals", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("recovery: auto-rejected timed out approvals", "count", n)
	}
}
