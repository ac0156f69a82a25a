package routes_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiefkemist/dur-exec-wf-ai/engine"
	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
	"github.com/chiefkemist/dur-exec-wf-ai/routes"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Chat(ctx context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubLLM) StreamChat(ctx context.Context, prompt string, onToken func(string)) error {
	return errors.New("not used in tests")
}

func newChatTestEngine(llm *stubLLM, cfg routes.Config) (*engine.RouteEngine, *engine.ExchangeStateManager, *engine.ApprovalService, store.Store) {
	s := store.NewMemory()
	bus := eventbus.New(nil)
	states := engine.NewExchangeStateManager(s, bus, nil)
	approvals := engine.NewApprovalService(s, bus, states, nil)
	re := engine.NewRouteEngine(states, approvals, s, bus, nil)
	re.RegisterRoute(routes.ChatDurable(llm, cfg))
	return re, states, approvals, s
}

func TestChatDurableRejectsEmptyPayload(t *testing.T) {
	re, states, _, _ := newChatTestEngine(&stubLLM{reply: "ok"}, routes.DefaultConfig())

	ex, err := re.Submit(context.Background(), routes.ChatDurableRouteID, "", "")
	require.NoError(t, err)

	waitForChatStatus(t, states, ex.ExchangeID, store.ExchangeStatusFailed)
	final, err := states.GetExchange(context.Background(), ex.ExchangeID)
	require.NoError(t, err)
	assert.Contains(t, final.Context, "must not be empty")
}

func TestChatDurableRejectsOversizePayload(t *testing.T) {
	cfg := routes.Config{ApprovalTimeoutMinutes: 60, MaxPayloadLength: 10}
	re, states, _, _ := newChatTestEngine(&stubLLM{reply: "ok"}, cfg)

	ex, err := re.Submit(context.Background(), routes.ChatDurableRouteID, "this payload is far too long", "")
	require.NoError(t, err)

	waitForChatStatus(t, states, ex.ExchangeID, store.ExchangeStatusFailed)
	final, err := states.GetExchange(context.Background(), ex.ExchangeID)
	require.NoError(t, err)
	assert.Contains(t, final.Context, "exceeds maximum length")
}

func TestChatDurableApprovedPathCallsLLMAndRecordsMetric(t *testing.T) {
	re, states, approvals, s := newChatTestEngine(&stubLLM{reply: "llm reply"}, routes.DefaultConfig())

	ex, err := re.Submit(context.Background(), routes.ChatDurableRouteID, "hello there", "")
	require.NoError(t, err)

	waitForChatStatus(t, states, ex.ExchangeID, store.ExchangeStatusWaitingApproval)

	req, err := approvals.CreateApprovalRequest(context.Background(), ex.ExchangeID, routes.ChatDurableRouteID, "hello there")
	require.NoError(t, err)
	_, err = approvals.Approve(context.Background(), req.ID, "")
	require.NoError(t, err)

	final := waitForChatStatus(t, states, ex.ExchangeID, store.ExchangeStatusCompleted)
	assert.Equal(t, "llm reply", final.Context)

	metric, err := s.GetRouteMetric(context.Background(), routes.ChatDurableRouteID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metric.Success)
}

func waitForChatStatus(t *testing.T, states *engine.ExchangeStateManager, exchangeID string, want store.ExchangeStatus) *store.ExchangeState {
	t.Helper()
	var ex *store.ExchangeState
	require.Eventually(t, func() bool {
		var err error
		ex, err = states.GetExchange(context.Background(), exchangeID)
		return err == nil && ex.Status == want
	}, 2*time.Second, 2*time.Millisecond)
	return ex
}
