package store

import (
	"context"
	"time"
)

// Store is the relational persistence contract shared by every engine
// component. Implementations must expose short, committing
// transactions: no transaction may be held across a blocking wait.
type Store interface {
	CreateExchange(ctx context.Context, e *ExchangeState) error
	GetExchange(ctx context.Context, exchangeID string) (*ExchangeState, error)
	UpdateExchange(ctx context.Context, e *ExchangeState) error
	ListExchanges(ctx context.Context, filter ExchangeFilter) ([]*ExchangeState, int, error)

	// InsertCheckpointIfAbsent inserts the checkpoint row and reports
	// created=true, or reports created=false without mutating anything
	// if (ExchangeID, StepName) already exists.
	InsertCheckpointIfAbsent(ctx context.Context, cp *ExchangeCheckpoint) (bool, error)
	ListCheckpoints(ctx context.Context, exchangeID string) ([]*ExchangeCheckpoint, error)
	GetCheckpointByName(ctx context.Context, exchangeID, stepName string) (*ExchangeCheckpoint, bool, error)

	CreateApproval(ctx context.Context, a *ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*ApprovalRequest, error)
	GetPendingApprovalByExchange(ctx context.Context, exchangeID string) (*ApprovalRequest, bool, error)
	ListPendingApprovals(ctx context.Context) ([]*ApprovalRequest, error)
	UpdateApproval(ctx context.Context, a *ApprovalRequest) error

	AppendRouteLog(ctx context.Context, l *RouteLog) error
	ListRouteLogs(ctx context.Context, routeID string) ([]*RouteLog, error)
	ListRouteLogsByExchange(ctx context.Context, exchangeID string) ([]*RouteLog, error)

	IncrementRouteMetric(ctx context.Context, routeID string, success bool) error
	GetRouteMetric(ctx context.Context, routeID string) (*RouteMetric, error)
	ListRouteMetrics(ctx context.Context) ([]*RouteMetric, error)

	// ListRunningExchanges supports CrashRecoveryService's startup scan.
	ListRunningExchanges(ctx context.Context) ([]*ExchangeState, error)

	// ListWaitingApprovalExchanges returns every WAITING_APPROVAL
	// exchange regardless of its approval row's status, so the startup
	// scan can resubmit the executors blocked on an approval gate —
	// otherwise a crash during that wait strands the exchange with no
	// worker to receive the eventual decision.
	ListWaitingApprovalExchanges(ctx context.Context) ([]*ExchangeState, error)

	// ListStalledExchanges returns RUNNING exchanges whose LastCheckpoint
	// predates the given threshold.
	ListStalledExchanges(ctx context.Context, threshold time.Time) ([]*ExchangeState, error)

	// ListResumableWaitingApprovals returns WAITING_APPROVAL exchanges
	// that have no PENDING approval but do have a terminal APPROVED row,
	// i.e. they're ready for the non-blocking resume path.
	ListResumableWaitingApprovals(ctx context.Context) ([]*ExchangeState, error)

	// ListTimedOutPendingApprovals returns PENDING approvals created
	// before the given threshold.
	ListTimedOutPendingApprovals(ctx context.Context, threshold time.Time) ([]*ApprovalRequest, error)
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }
