package restapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiefkemist/dur-exec-wf-ai/engine"
	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
	"github.com/chiefkemist/dur-exec-wf-ai/restapi"
	"github.com/chiefkemist/dur-exec-wf-ai/routes"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

func newTestServer(t *testing.T) (*gin.Engine, store.Store, *engine.ExchangeStateManager, *engine.ApprovalService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemory()
	bus := eventbus.New(nil)
	states := engine.NewExchangeStateManager(s, bus, nil)
	approvals := engine.NewApprovalService(s, bus, states, nil)
	re := engine.NewRouteEngine(states, approvals, s, bus, nil)
	re.RegisterRoute(routes.Echo())

	server := restapi.New(re, states, approvals, s, bus, nil)
	return server.SetupRoutes(), s, states, approvals
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetExchange(t *testing.T) {
	router, _, states, _ := newTestServer(t)

	rec := doJSON(router, http.MethodPost, "/api/exchanges", restapi.CreateExchangeRequest{RouteID: "echo-demo", Payload: "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created restapi.CreateExchangeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ExchangeID)

	require.Eventually(t, func() bool {
		ex, err := states.GetExchange(context.Background(), created.ExchangeID)
		return err == nil && ex.Status == store.ExchangeStatusCompleted
	}, time.Second, 2*time.Millisecond)

	rec = doJSON(router, http.MethodGet, "/api/exchanges/"+created.ExchangeID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got store.ExchangeState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "HELLO", got.Context)
}

func TestCreateExchangeUnknownRouteReturns404(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	rec := doJSON(router, http.MethodPost, "/api/exchanges", restapi.CreateExchangeRequest{RouteID: "nope", Payload: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateExchangeMissingRouteIDReturns400(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	rec := doJSON(router, http.MethodPost, "/api/exchanges", restapi.CreateExchangeRequest{Payload: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExchangeNotFoundReturns404(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	rec := doJSON(router, http.MethodGet, "/api/exchanges/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExchangesUnknownStatusFilterReturns400(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	rec := doJSON(router, http.MethodGet, "/api/exchanges?status=NOT_A_STATUS", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListExchangesFiltersByStatus(t *testing.T) {
	router, _, states, _ := newTestServer(t)

	rec := doJSON(router, http.MethodPost, "/api/exchanges", restapi.CreateExchangeRequest{RouteID: "echo-demo", Payload: "a"})
	var created restapi.CreateExchangeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	require.Eventually(t, func() bool {
		ex, err := states.GetExchange(context.Background(), created.ExchangeID)
		return err == nil && ex.Status == store.ExchangeStatusCompleted
	}, time.Second, 2*time.Millisecond)

	rec = doJSON(router, http.MethodGet, "/api/exchanges?status=COMPLETED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed restapi.ListExchangesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.GreaterOrEqual(t, listed.Total, 1)
}

func TestCancelUnknownExchangeReturns404(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	rec := doJSON(router, http.MethodPost, "/api/exchanges/does-not-exist/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveUnknownApprovalReturns404(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	rec := doJSON(router, http.MethodPost, "/api/approvals/does-not-exist/approve", restapi.ApproveRequest{Response: "ok"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRoutesIncludesRegisteredRoute(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	rec := doJSON(router, http.MethodGet, "/api/routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Routes []restapi.RouteSummary `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	var found bool
	for _, r := range body.Routes {
		if r.ID == "echo-demo" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRecoveryStatsReportsRunningExchanges(t *testing.T) {
	router, _, _, _ := newTestServer(t)
	rec := doJSON(router, http.MethodGet, "/api/routes/recovery-stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats restapi.RecoveryStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.GreaterOrEqual(t, stats.RunningExchanges, 0)
}

func TestEventsHealthAndClientCount(t *testing.T) {
	router, _, _, _ := newTestServer(t)

	rec := doJSON(router, http.MethodGet, "/api/events/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/events/clients/count", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, body.Count, 0)
}
