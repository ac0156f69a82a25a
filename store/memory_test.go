package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

func TestCreateAndGetExchange(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	e := &store.ExchangeState{ExchangeID: "ex-1", RouteID: "echo-demo", Status: store.ExchangeStatusPending, Payload: "hi"}
	require.NoError(t, m.CreateExchange(ctx, e))

	got, err := m.GetExchange(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Payload)

	_, err = m.GetExchange(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetExchangeReturnsIndependentCopy(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateExchange(ctx, &store.ExchangeState{ExchangeID: "ex-1", Payload: "one"}))

	got, err := m.GetExchange(ctx, "ex-1")
	require.NoError(t, err)
	got.Payload = "mutated"

	got2, err := m.GetExchange(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "one", got2.Payload, "mutating a returned ExchangeState must not affect stored state")
}

func TestInsertCheckpointIfAbsentIsIdempotent(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	created, err := m.InsertCheckpointIfAbsent(ctx, &store.ExchangeCheckpoint{ExchangeID: "ex-1", StepName: "step-a", StepData: "v1"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.InsertCheckpointIfAbsent(ctx, &store.ExchangeCheckpoint{ExchangeID: "ex-1", StepName: "step-a", StepData: "v2"})
	require.NoError(t, err)
	assert.False(t, created, "duplicate (exchangeId, stepName) must not create a second row")

	cp, ok, err := m.GetCheckpointByName(ctx, "ex-1", "step-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", cp.StepData, "first-writer wins on duplicate checkpoint insert")
}

func TestListExchangesFilterAndPagination(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	base := time.Now()
	for i, routeID := range []string{"a", "a", "b"} {
		require.NoError(t, m.CreateExchange(ctx, &store.ExchangeState{
			ExchangeID: string(rune('1' + i)),
			RouteID:    routeID,
			Status:     store.ExchangeStatusRunning,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	out, total, err := m.ListExchanges(ctx, store.ExchangeFilter{RouteID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, out, 2)

	out, total, err = m.ListExchanges(ctx, store.ExchangeFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, out, 1)
}

func TestGetPendingApprovalByExchange(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateApproval(ctx, &store.ApprovalRequest{ID: "ap-1", ExchangeID: "ex-1", Status: store.ApprovalStatusPending}))

	_, ok, err := m.GetPendingApprovalByExchange(ctx, "ex-2")
	require.NoError(t, err)
	assert.False(t, ok)

	req, ok, err := m.GetPendingApprovalByExchange(ctx, "ex-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ap-1", req.ID)
}

func TestIncrementRouteMetric(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.IncrementRouteMetric(ctx, "chat-durable", true))
	require.NoError(t, m.IncrementRouteMetric(ctx, "chat-durable", false))

	metric, err := m.GetRouteMetric(ctx, "chat-durable")
	require.NoError(t, err)
	assert.Equal(t, int64(2), metric.Total)
	assert.Equal(t, int64(1), metric.Success)
	assert.Equal(t, int64(1), metric.Failure)
}

func TestListStalledExchanges(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.CreateExchange(ctx, &store.ExchangeState{
		ExchangeID: "stale", Status: store.ExchangeStatusRunning, LastCheckpoint: now.Add(-time.Hour),
	}))
	require.NoError(t, m.CreateExchange(ctx, &store.ExchangeState{
		ExchangeID: "fresh", Status: store.ExchangeStatusRunning, LastCheckpoint: now,
	}))

	stalled, err := m.ListStalledExchanges(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, "stale", stalled[0].ExchangeID)
}

func TestListWaitingApprovalExchanges(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateExchange(ctx, &store.ExchangeState{ExchangeID: "ex-blocked", Status: store.ExchangeStatusWaitingApproval}))
	require.NoError(t, m.CreateApproval(ctx, &store.ApprovalRequest{ID: "ap-1", ExchangeID: "ex-blocked", Status: store.ApprovalStatusPending}))
	require.NoError(t, m.CreateExchange(ctx, &store.ExchangeState{ExchangeID: "ex-running", Status: store.ExchangeStatusRunning}))

	waiting, err := m.ListWaitingApprovalExchanges(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "ex-blocked", waiting[0].ExchangeID)
}

func TestListResumableWaitingApprovals(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateExchange(ctx, &store.ExchangeState{ExchangeID: "ex-approved", Status: store.ExchangeStatusWaitingApproval}))
	require.NoError(t, m.CreateApproval(ctx, &store.ApprovalRequest{ID: "ap-1", ExchangeID: "ex-approved", Status: store.ApprovalStatusApproved}))

	require.NoError(t, m.CreateExchange(ctx, &store.ExchangeState{ExchangeID: "ex-pending", Status: store.ExchangeStatusWaitingApproval}))
	require.NoError(t, m.CreateApproval(ctx, &store.ApprovalRequest{ID: "ap-2", ExchangeID: "ex-pending", Status: store.ApprovalStatusPending}))

	resumable, err := m.ListResumableWaitingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, resumable, 1)
	assert.Equal(t, "ex-approved", resumable[0].ExchangeID)
}
