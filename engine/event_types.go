package engine

// Event type strings published to the EventBus. Every ExchangeState
// transition in the exchange state machine emits exactly one of these.
const (
	EventExchangeCreated    = "EXCHANGE_CREATED"
	EventExchangeStarted    = "EXCHANGE_STARTED"
	EventExchangeCheckpoint = "EXCHANGE_CHECKPOINT"
	EventExchangePaused     = "EXCHANGE_PAUSED"
	EventExchangeResumed    = "EXCHANGE_RESUMED"
	EventWaitingApproval    = "EXCHANGE_WAITING_APPROVAL"
	EventExchangeCancelled  = "EXCHANGE_CANCELLED"
	EventExchangeCompleted  = "EXCHANGE_COMPLETED"
	EventExchangeFailed     = "EXCHANGE_FAILED"
	EventExchangeRecovering = "EXCHANGE_RECOVERING"
	EventExchangeStalled    = "EXCHANGE_STALLED"
	EventApprovalRequested  = "APPROVAL_REQUESTED"
	EventApprovalGranted    = "APPROVAL_GRANTED"
	EventApprovalRejected   = "APPROVAL_REJECTED"
)
