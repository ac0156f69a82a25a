package restapi

import "github.com/chiefkemist/dur-exec-wf-ai/store"

// ErrorResponse is the JSON envelope for every non-2xx response,
// grounded on the REST pack's api.ErrorResponse shape
// (kode4food-argyll engine/pkg/api).
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// CreateExchangeRequest is the POST /api/exchanges body.
type CreateExchangeRequest struct {
	RouteID string `json:"routeId" binding:"required"`
	Payload string `json:"payload"`
	Headers string `json:"headers"`
}

// CreateExchangeResponse is the 202 response to a successful submission.
type CreateExchangeResponse struct {
	ExchangeID string `json:"exchangeId"`
	RouteID    string `json:"routeId"`
	Message    string `json:"message"`
}

// ListExchangesResponse wraps a page of exchanges.
type ListExchangesResponse struct {
	Exchanges []*store.ExchangeState `json:"exchanges"`
	Total     int                    `json:"total"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
}

// ApproveRequest is the POST /api/approvals/{id}/approve body.
type ApproveRequest struct {
	Response string `json:"response"`
}

// RejectRequest is the POST /api/approvals/{id}/reject body.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// RouteSummary describes one registered route for GET /api/routes.
type RouteSummary struct {
	ID        string   `json:"id"`
	StepNames []string `json:"stepNames"`
}

// RecoveryStats reports the counters GET /api/routes/recovery-stats
// exposes.
type RecoveryStats struct {
	RunningExchanges int `json:"runningExchanges"`
}
