package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

// transitions enumerates every legal ExchangeStatus edge, covering
// both operator-driven (pause, cancel, approve/reject) and
// engine-driven (start, complete, fail) triggers.
var transitions = map[store.ExchangeStatus]map[store.ExchangeStatus]bool{
	store.ExchangeStatusPending: {
		store.ExchangeStatusRunning: true,
	},
	store.ExchangeStatusRunning: {
		store.ExchangeStatusPaused:          true,
		store.ExchangeStatusWaitingApproval: true,
		store.ExchangeStatusCancelled:       true,
		store.ExchangeStatusCompleted:       true,
		store.ExchangeStatusFailed:          true,
	},
	store.ExchangeStatusPaused: {
		store.ExchangeStatusRunning:   true,
		store.ExchangeStatusCancelled: true,
		store.ExchangeStatusFailed:    true,
	},
	store.ExchangeStatusWaitingApproval: {
		store.ExchangeStatusRunning:   true,
		store.ExchangeStatusCancelled: true,
		store.ExchangeStatusFailed:    true,
	},
}

func isTerminal(s store.ExchangeStatus) bool {
	switch s {
	case store.ExchangeStatusCompleted, store.ExchangeStatusFailed, store.ExchangeStatusCancelled:
		return true
	default:
		return false
	}
}

// ExchangeStateManager owns the exchange lifecycle state machine and the
// idempotent checkpoint log. It is the only component permitted to write
// ExchangeState rows or checkpoint rows.
type ExchangeStateManager struct {
	store  store.Store
	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewExchangeStateManager constructs a state manager. logger defaults to
// a discard logger if nil.
func NewExchangeStateManager(s store.Store, bus *eventbus.Bus, logger *slog.Logger) *ExchangeStateManager {
	if logger == nil {
		logger = NewDiscardLogger()
	}
	return &ExchangeStateManager{store: s, bus: bus, logger: logger}
}

func (m *ExchangeStateManager) publish(eventType string, e *store.ExchangeState, data any) {
	m.bus.Publish(eventbus.Event{
		Type:       eventType,
		ExchangeID: e.ExchangeID,
		RouteID:    e.RouteID,
		Data:       data,
	})
}

// CreateExchange persists a new PENDING exchange and publishes
// EXCHANGE_CREATED. exchangeID is generated when empty.
func (m *ExchangeStateManager) CreateExchange(ctx context.Context, exchangeID, routeID, payload, exchangeContext string) (*store.ExchangeState, error) {
	if exchangeID == "" {
		exchangeID = uuid.NewString()
	}
	now := time.Now()
	e := &store.ExchangeState{
		ExchangeID:     exchangeID,
		RouteID:        routeID,
		Status:         store.ExchangeStatusPending,
		CurrentStep:    0,
		Payload:        payload,
		Context:        exchangeContext,
		CreatedAt:      now,
		LastCheckpoint: now,
	}
	if err := m.store.CreateExchange(ctx, e); err != nil {
		return nil, wrapErr(ErrorKindExternal, "create exchange", err)
	}
	m.publish(EventExchangeCreated, e, nil)
	return e, nil
}

func (m *ExchangeStateManager) transition(ctx context.Context, exchangeID string, to store.ExchangeStatus, mutate func(*store.ExchangeState)) (*store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundf("exchange %q not found", exchangeID)
		}
		return nil, wrapErr(ErrorKindExternal, "load exchange", err)
	}
	if !transitions[e.Status][to] {
		return nil, InvalidStatef("cannot transition exchange %q from %s to %s", exchangeID, e.Status, to)
	}
	e.Status = to
	if mutate != nil {
		mutate(e)
	}
	if err := m.store.UpdateExchange(ctx, e); err != nil {
		return nil, wrapErr(ErrorKindExternal, "persist exchange transition", err)
	}
	return e, nil
}

// StartExchange transitions PENDING -> RUNNING, stamping startedAt.
func (m *ExchangeStateManager) StartExchange(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	e, err := m.transition(ctx, exchangeID, store.ExchangeStatusRunning, func(e *store.ExchangeState) {
		now := time.Now()
		e.StartedAt = &now
	})
	if err != nil {
		return nil, err
	}
	m.publish(EventExchangeStarted, e, nil)
	return e, nil
}

// Pause transitions RUNNING -> PAUSED.
func (m *ExchangeStateManager) Pause(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	e, err := m.transition(ctx, exchangeID, store.ExchangeStatusPaused, nil)
	if err != nil {
		return nil, err
	}
	m.publish(EventExchangePaused, e, nil)
	return e, nil
}

// Resume transitions PAUSED -> RUNNING. The caller is responsible for
// re-submitting the exchange to the route engine's recovery entry point.
func (m *ExchangeStateManager) Resume(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	e, err := m.transition(ctx, exchangeID, store.ExchangeStatusRunning, nil)
	if err != nil {
		return nil, err
	}
	m.publish(EventExchangeResumed, e, nil)
	return e, nil
}

// EnterWaitingApproval transitions RUNNING -> WAITING_APPROVAL.
func (m *ExchangeStateManager) EnterWaitingApproval(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	e, err := m.transition(ctx, exchangeID, store.ExchangeStatusWaitingApproval, nil)
	if err != nil {
		return nil, err
	}
	m.publish(EventWaitingApproval, e, nil)
	return e, nil
}

// ResumeAfterApproval transitions WAITING_APPROVAL -> RUNNING on grant.
func (m *ExchangeStateManager) ResumeAfterApproval(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	e, err := m.transition(ctx, exchangeID, store.ExchangeStatusRunning, nil)
	if err != nil {
		return nil, err
	}
	m.publish(EventExchangeResumed, e, nil)
	return e, nil
}

// Cancel transitions RUNNING/PAUSED/WAITING_APPROVAL -> CANCELLED.
func (m *ExchangeStateManager) Cancel(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	e, err := m.transition(ctx, exchangeID, store.ExchangeStatusCancelled, func(e *store.ExchangeState) {
		now := time.Now()
		e.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}
	m.publish(EventExchangeCancelled, e, nil)
	return e, nil
}

// Complete transitions RUNNING -> COMPLETED, overwriting context with the
// final result.
func (m *ExchangeStateManager) Complete(ctx context.Context, exchangeID, resultContext string) (*store.ExchangeState, error) {
	e, err := m.transition(ctx, exchangeID, store.ExchangeStatusCompleted, func(e *store.ExchangeState) {
		now := time.Now()
		e.CompletedAt = &now
		e.Context = resultContext
	})
	if err != nil {
		return nil, err
	}
	m.publish(EventExchangeCompleted, e, nil)
	return e, nil
}

// Fail transitions any non-terminal status -> FAILED. Failing an
// already-terminal exchange is a no-op-with-error.
func (m *ExchangeStateManager) Fail(ctx context.Context, exchangeID, message string) (*store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundf("exchange %q not found", exchangeID)
		}
		return nil, wrapErr(ErrorKindExternal, "load exchange", err)
	}
	if isTerminal(e.Status) {
		return nil, InvalidStatef("exchange %q is already terminal (%s)", exchangeID, e.Status)
	}
	now := time.Now()
	e.Status = store.ExchangeStatusFailed
	e.CompletedAt = &now
	e.Context = message
	if err := m.store.UpdateExchange(ctx, e); err != nil {
		return nil, wrapErr(ErrorKindExternal, "persist exchange failure", err)
	}
	m.publish(EventExchangeFailed, e, map[string]string{"message": message})
	return e, nil
}

// ShouldContinue reports whether the engine's step loop may proceed:
// true iff status is RUNNING or WAITING_APPROVAL.
func (m *ExchangeStateManager) ShouldContinue(ctx context.Context, exchangeID string) (bool, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, NotFoundf("exchange %q not found", exchangeID)
		}
		return false, wrapErr(ErrorKindExternal, "load exchange", err)
	}
	return e.Status == store.ExchangeStatusRunning || e.Status == store.ExchangeStatusWaitingApproval, nil
}

// Checkpoint implements the checkpoint contract: a duplicate
// (exchangeId, stepName) returns created=false and leaves
// currentStep/lastCheckpoint untouched; otherwise it inserts the
// checkpoint row and advances the exchange's progress markers.
func (m *ExchangeStateManager) Checkpoint(ctx context.Context, exchangeID string, stepIndex int, stepName, stepData string) (bool, error) {
	cp := &store.ExchangeCheckpoint{
		ExchangeID: exchangeID,
		StepIndex:  stepIndex,
		StepName:   stepName,
		StepData:   stepData,
		Timestamp:  time.Now(),
	}
	created, err := m.store.InsertCheckpointIfAbsent(ctx, cp)
	if err != nil {
		return false, wrapErr(ErrorKindTransient, "insert checkpoint", err)
	}
	if !created {
		return false, nil
	}

	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, NotFoundf("exchange %q not found", exchangeID)
		}
		return false, wrapErr(ErrorKindExternal, "load exchange", err)
	}
	e.CurrentStep = stepIndex
	e.CurrentStepName = stepName
	e.LastCheckpoint = cp.Timestamp
	if err := m.store.UpdateExchange(ctx, e); err != nil {
		return false, wrapErr(ErrorKindExternal, "persist checkpoint progress", err)
	}
	m.publish(EventExchangeCheckpoint, e, map[string]string{"stepName": stepName})
	return true, nil
}

// GetExchange is a read-through convenience used by the REST layer and
// by RouteEngine to re-read state after a checkpoint.
func (m *ExchangeStateManager) GetExchange(ctx context.Context, exchangeID string) (*store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundf("exchange %q not found", exchangeID)
		}
		return nil, wrapErr(ErrorKindExternal, "load exchange", err)
	}
	return e, nil
}
