package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store implementation backed by mutex-guarded
// maps. It is used in tests and as the engine's persistence layer when
// no database DSN is configured: a real implementation and a
// dependency-free stand-in sharing one interface.
type Memory struct {
	mu sync.RWMutex

	exchanges   map[string]*ExchangeState
	checkpoints map[string][]*ExchangeCheckpoint // keyed by exchangeID, ordered by insertion
	approvals   map[string]*ApprovalRequest
	routeLogs   []*RouteLog
	routeLogID  int64
	metrics     map[string]*RouteMetric
	cpID        int64
}

// NewMemory returns a ready-to-use in-memory store.
func NewMemory() *Memory {
	return &Memory{
		exchanges:   map[string]*ExchangeState{},
		checkpoints: map[string][]*ExchangeCheckpoint{},
		approvals:   map[string]*ApprovalRequest{},
		metrics:     map[string]*RouteMetric{},
	}
}

func (m *Memory) CreateExchange(ctx context.Context, e *ExchangeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges[e.ExchangeID] = e.Copy()
	return nil
}

func (m *Memory) GetExchange(ctx context.Context, exchangeID string) (*ExchangeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exchanges[exchangeID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Copy(), nil
}

func (m *Memory) UpdateExchange(ctx context.Context, e *ExchangeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exchanges[e.ExchangeID]; !ok {
		return ErrNotFound
	}
	m.exchanges[e.ExchangeID] = e.Copy()
	return nil
}

func (m *Memory) ListExchanges(ctx context.Context, filter ExchangeFilter) ([]*ExchangeState, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*ExchangeState
	for _, e := range m.exchanges {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.RouteID != "" && e.RouteID != filter.RouteID {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	total := len(matched)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*ExchangeState{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*ExchangeState, 0, end-offset)
	for _, e := range matched[offset:end] {
		out = append(out, e.Copy())
	}
	return out, total, nil
}

func (m *Memory) InsertCheckpointIfAbsent(ctx context.Context, cp *ExchangeCheckpoint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.checkpoints[cp.ExchangeID] {
		if existing.StepName == cp.StepName {
			return false, nil
		}
	}
	m.cpID++
	stored := *cp
	stored.ID = m.cpID
	m.checkpoints[cp.ExchangeID] = append(m.checkpoints[cp.ExchangeID], &stored)
	return true, nil
}

func (m *Memory) ListCheckpoints(ctx context.Context, exchangeID string) ([]*ExchangeCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.checkpoints[exchangeID]
	out := make([]*ExchangeCheckpoint, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

func (m *Memory) GetCheckpointByName(ctx context.Context, exchangeID, stepName string) (*ExchangeCheckpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cp := range m.checkpoints[exchangeID] {
		if cp.StepName == stepName {
			c := *cp
			return &c, true, nil
		}
	}
	return nil, false, nil
}

func (m *Memory) CreateApproval(ctx context.Context, a *ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[a.ID] = a.Copy()
	return nil
}

func (m *Memory) GetApproval(ctx context.Context, id string) (*ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Copy(), nil
}

func (m *Memory) GetPendingApprovalByExchange(ctx context.Context, exchangeID string) (*ApprovalRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.approvals {
		if a.ExchangeID == exchangeID && a.Status == ApprovalStatusPending {
			return a.Copy(), true, nil
		}
	}
	return nil, false, nil
}

func (m *Memory) ListPendingApprovals(ctx context.Context) ([]*ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ApprovalRequest
	for _, a := range m.approvals {
		if a.Status == ApprovalStatusPending {
			out = append(out, a.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateApproval(ctx context.Context, a *ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[a.ID]; !ok {
		return ErrNotFound
	}
	m.approvals[a.ID] = a.Copy()
	return nil
}

func (m *Memory) AppendRouteLog(ctx context.Context, l *RouteLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routeLogID++
	stored := *l
	stored.ID = m.routeLogID
	m.routeLogs = append(m.routeLogs, &stored)
	return nil
}

func (m *Memory) ListRouteLogs(ctx context.Context, routeID string) ([]*RouteLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*RouteLog
	for _, l := range m.routeLogs {
		if l.RouteID == routeID {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *Memory) ListRouteLogsByExchange(ctx context.Context, exchangeID string) ([]*RouteLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*RouteLog
	for _, l := range m.routeLogs {
		if l.ExchangeID == exchangeID {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *Memory) IncrementRouteMetric(ctx context.Context, routeID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.metrics[routeID]
	if !ok {
		metric = &RouteMetric{RouteID: routeID}
		m.metrics[routeID] = metric
	}
	metric.Total++
	if success {
		metric.Success++
	} else {
		metric.Failure++
	}
	return nil
}

func (m *Memory) GetRouteMetric(ctx context.Context, routeID string) (*RouteMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metric, ok := m.metrics[routeID]
	if !ok {
		return &RouteMetric{RouteID: routeID}, nil
	}
	c := *metric
	return &c, nil
}

func (m *Memory) ListRouteMetrics(ctx context.Context) ([]*RouteMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*RouteMetric, 0, len(m.metrics))
	for _, metric := range m.metrics {
		c := *metric
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouteID < out[j].RouteID })
	return out, nil
}

func (m *Memory) ListRunningExchanges(ctx context.Context) ([]*ExchangeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ExchangeState
	for _, e := range m.exchanges {
		if e.Status == ExchangeStatusRunning {
			out = append(out, e.Copy())
		}
	}
	return out, nil
}

func (m *Memory) ListWaitingApprovalExchanges(ctx context.Context) ([]*ExchangeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ExchangeState
	for _, e := range m.exchanges {
		if e.Status == ExchangeStatusWaitingApproval {
			out = append(out, e.Copy())
		}
	}
	return out, nil
}

func (m *Memory) ListStalledExchanges(ctx context.Context, threshold time.Time) ([]*ExchangeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ExchangeState
	for _, e := range m.exchanges {
		if e.Status == ExchangeStatusRunning && e.LastCheckpoint.Before(threshold) {
			out = append(out, e.Copy())
		}
	}
	return out, nil
}

func (m *Memory) ListResumableWaitingApprovals(ctx context.Context) ([]*ExchangeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ExchangeState
	for _, e := range m.exchanges {
		if e.Status != ExchangeStatusWaitingApproval {
			continue
		}
		hasPending := false
		hasApproved := false
		for _, a := range m.approvals {
			if a.ExchangeID != e.ExchangeID {
				continue
			}
			if a.Status == ApprovalStatusPending {
				hasPending = true
			}
			if a.Status == ApprovalStatusApproved {
				hasApproved = true
			}
		}
		if !hasPending && hasApproved {
			out = append(out, e.Copy())
		}
	}
	return out, nil
}

func (m *Memory) ListTimedOutPendingApprovals(ctx context.Context, threshold time.Time) ([]*ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ApprovalRequest
	for _, a := range m.approvals {
		if a.Status == ApprovalStatusPending && a.CreatedAt.Before(threshold) {
			out = append(out, a.Copy())
		}
	}
	return out, nil
}
