package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

// maxStepRetries and stepRetryDelay bound the transport-level error
// handler: a step that returns a retryable error is redelivered up to
// 3 times with ~1s delay before the exchange fails.
const (
	maxStepRetries = 3
	stepRetryDelay = time.Second
)

// RouteEngine executes routes step-by-step, calling ExchangeStateManager
// before and after each step, honoring pause/cancel, and invoking the
// approval gate. Each exchange runs a single linear step sequence,
// with idempotent-skip-on-recovery for already-checkpointed steps.
type RouteEngine struct {
	routes    map[string]*Route
	states    *ExchangeStateManager
	approvals *ApprovalService
	store     store.Store
	bus       *eventbus.Bus
	logger    *slog.Logger
	locks     *lockSet
}

// NewRouteEngine constructs a route engine. logger defaults to a discard
// logger if nil.
func NewRouteEngine(states *ExchangeStateManager, approvals *ApprovalService, s store.Store, bus *eventbus.Bus, logger *slog.Logger) *RouteEngine {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return &RouteEngine{
		routes:    map[string]*Route{},
		states:    states,
		approvals: approvals,
		store:     s,
		bus:       bus,
		logger:    logger,
		locks:     newLockSet(),
	}
}

// RegisterRoute adds a route definition. Routes are registered once at
// startup; there is no runtime route-definition API.
func (e *RouteEngine) RegisterRoute(r Route) {
	e.routes[r.ID] = &r
}

// Route looks up a registered route by id.
func (e *RouteEngine) Route(routeID string) (*Route, bool) {
	r, ok := e.routes[routeID]
	return r, ok
}

// AllRoutes returns every registered route keyed by id, for the REST
// layer's GET /api/routes listing.
func (e *RouteEngine) AllRoutes() map[string]*Route {
	return e.routes
}

// Submit creates and begins executing a brand-new exchange. Submission
// is fire-and-forget: the caller gets the exchange back immediately and
// errors during execution surface only via EventBus / exchange status,
// never by blocking the caller.
func (e *RouteEngine) Submit(ctx context.Context, routeID, payload, exchangeContext string) (*store.ExchangeState, error) {
	if _, ok := e.routes[routeID]; !ok {
		return nil, NotFoundf("route %q not registered", routeID)
	}
	ex, err := e.states.CreateExchange(ctx, "", routeID, payload, exchangeContext)
	if err != nil {
		return nil, err
	}
	go e.run(context.Background(), ex.ExchangeID, true)
	return ex, nil
}

// SubmitRecovery re-submits an already-persisted exchange (already
// RUNNING or WAITING_APPROVAL) through the step loop from the start of
// the route; already-checkpointed steps are skipped via the idempotent
// checkpoint log. Used by operator resume and by CrashRecoveryService.
func (e *RouteEngine) SubmitRecovery(ctx context.Context, exchangeID string) error {
	ex, err := e.states.GetExchange(ctx, exchangeID)
	if err != nil {
		return err
	}
	if _, ok := e.routes[ex.RouteID]; !ok {
		return NotFoundf("route %q not registered", ex.RouteID)
	}
	go e.run(context.Background(), exchangeID, false)
	return nil
}

// Pause requests that a RUNNING exchange stop at its next
// shouldContinue check.
func (e *RouteEngine) Pause(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	return e.states.Pause(ctx, exchangeID)
}

// Resume transitions a PAUSED exchange back to RUNNING and resubmits it
// through the recovery path.
func (e *RouteEngine) Resume(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	ex, err := e.states.Resume(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if err := e.SubmitRecovery(ctx, exchangeID); err != nil {
		return nil, err
	}
	return ex, nil
}

// Cancel requests that a non-terminal exchange stop at its next
// shouldContinue check.
func (e *RouteEngine) Cancel(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	return e.states.Cancel(ctx, exchangeID)
}

// run is the per-exchange worker body. It holds the exchange's lock for
// its entire lifetime, guaranteeing at most one worker processes a given
// exchange at a time.
func (e *RouteEngine) run(ctx context.Context, exchangeID string, fresh bool) {
	e.locks.withLock(exchangeID, func() {
		e.execute(ctx, exchangeID, fresh)
	})
}

func (e *RouteEngine) execute(ctx context.Context, exchangeID string, fresh bool) {
	ex, err := e.states.GetExchange(ctx, exchangeID)
	if err != nil {
		e.logger.Error("route worker: load exchange", "exchangeId", exchangeID, "error", err)
		return
	}
	route, ok := e.routes[ex.RouteID]
	if !ok {
		e.logger.Error("route worker: unknown route", "exchangeId", exchangeID, "routeId", ex.RouteID)
		return
	}

	if fresh {
		if _, err := e.states.StartExchange(ctx, exchangeID); err != nil {
			e.logger.Error("route worker: start exchange", "exchangeId", exchangeID, "error", err)
			return
		}
	}

	rt := newStepRuntime(exchangeID, ex.RouteID, e.approvals, e.store)
	body := ex.Payload

	for i, step := range route.Steps {
		cont, err := e.states.ShouldContinue(ctx, exchangeID)
		if err != nil {
			e.logger.Error("route worker: shouldContinue", "exchangeId", exchangeID, "error", err)
			return
		}
		if !cont {
			e.logger.Info("route worker: stopping cleanly", "exchangeId", exchangeID, "step", step.Name)
			return
		}

		existing, found, err := e.store.GetCheckpointByName(ctx, exchangeID, step.Name)
		if err != nil {
			e.fail(ctx, exchangeID, err)
			return
		}
		if found {
			if existing.StepData != "" {
				body = existing.StepData
			}
			continue
		}

		newBody, err := e.runStepWithRetry(ctx, rt, step, body)
		if err != nil {
			e.fail(ctx, exchangeID, err)
			return
		}
		body = newBody

		if _, err := e.states.Checkpoint(ctx, exchangeID, i, step.Name, body); err != nil {
			e.fail(ctx, exchangeID, err)
			return
		}
	}

	if _, err := e.states.Complete(ctx, exchangeID, body); err != nil {
		e.logger.Error("route worker: complete exchange", "exchangeId", exchangeID, "error", err)
	}
}

// fail transitions exchangeID to FAILED with err's message. An
// already-terminal exchange (the approval-rejected path already failed
// it before the in-memory signal woke this worker) is logged at debug
// and otherwise ignored.
func (e *RouteEngine) fail(ctx context.Context, exchangeID string, err error) {
	if _, ferr := e.states.Fail(ctx, exchangeID, err.Error()); ferr != nil {
		if Kind(ferr) == ErrorKindInvalidState {
			e.logger.Debug("route worker: exchange already terminal", "exchangeId", exchangeID)
			return
		}
		e.logger.Error("route worker: fail exchange", "exchangeId", exchangeID, "error", ferr)
	}
}

func (e *RouteEngine) runStepWithRetry(ctx context.Context, rt *StepRuntime, step RouteStep, body string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxStepRetries; attempt++ {
		newBody, err := step.Run(ctx, rt, body)
		if err == nil {
			return newBody, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		e.logger.Warn("route worker: step failed, will retry", "step", step.Name, "attempt", attempt, "error", err)
		if attempt < maxStepRetries {
			time.Sleep(stepRetryDelay)
		}
	}
	return "", lastErr
}
