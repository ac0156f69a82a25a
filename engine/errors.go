package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

// ErrorKind classifies an EngineError for both retry policy and HTTP
// status mapping in the REST layer.
type ErrorKind string

const (
	// ErrorKindNotFound maps to HTTP 404.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindInvalidState maps to HTTP 400; raised on illegal exchange
	// state transitions.
	ErrorKindInvalidState ErrorKind = "invalid_state"

	// ErrorKindBadInput maps to HTTP 400; raised on malformed requests.
	ErrorKindBadInput ErrorKind = "bad_input"

	// ErrorKindTransient is a store-busy error. Retried internally with
	// bounded backoff; surfaced only on exhaustion.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindApprovalRejected is raised inside the engine when an
	// operator rejects an approval request. Never surfaced over HTTP;
	// the exchange transitions to FAILED instead.
	ErrorKindApprovalRejected ErrorKind = "approval_rejected"

	// ErrorKindApprovalTimeout is raised when an approval wait expires.
	ErrorKindApprovalTimeout ErrorKind = "approval_timeout"

	// ErrorKindExternal is a failure from an out-of-scope collaborator
	// (the LLM client). Retried up to 3x with ~1s delay by the step
	// runner; on exhaustion the exchange transitions to FAILED.
	ErrorKindExternal ErrorKind = "external"
)

// EngineError is a structured error with a fixed classification, modeled
// on the WorkflowError pattern: a free-form Type became a closed set of
// Kinds since this spec's error taxonomy is fixed, not user-extensible.
type EngineError struct {
	Kind    ErrorKind
	Message string
	Wrapped error
}

func (e *EngineError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Wrapped
}

func newErr(kind ErrorKind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

func wrapErr(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Wrapped: err}
}

// NotFoundf builds an ErrorKindNotFound error.
func NotFoundf(format string, args ...any) error {
	return newErr(ErrorKindNotFound, fmt.Sprintf(format, args...))
}

// InvalidStatef builds an ErrorKindInvalidState error.
func InvalidStatef(format string, args ...any) error {
	return newErr(ErrorKindInvalidState, fmt.Sprintf(format, args...))
}

// BadInputf builds an ErrorKindBadInput error.
func BadInputf(format string, args ...any) error {
	return newErr(ErrorKindBadInput, fmt.Sprintf(format, args...))
}

// ApprovalRejectedErr builds an ErrorKindApprovalRejected error carrying
// the operator's reason.
func ApprovalRejectedErr(reason string) error {
	if reason == "" {
		reason = "no reason given"
	}
	return newErr(ErrorKindApprovalRejected, fmt.Sprintf("Approval rejected: %s", reason))
}

// ApprovalTimeoutErr builds an ErrorKindApprovalTimeout error.
func ApprovalTimeoutErr() error {
	return newErr(ErrorKindApprovalTimeout, "Approval timed out")
}

// Kind extracts the ErrorKind from err, defaulting to ErrorKindExternal
// for unclassified errors — unknown errors are treated as retryable
// external failures rather than fatal ones.
func Kind(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorKindTransient
	}
	var te *store.EngineTransientError
	if errors.As(err, &te) {
		return ErrorKindTransient
	}
	if strings.Contains(strings.ToLower(err.Error()), "busy") {
		return ErrorKindTransient
	}
	return ErrorKindExternal
}

// IsRetryable reports whether the step runner should redeliver the step
// that produced err. Approval outcomes are terminal by design: a
// rejection or timeout is a decision, not a transient fault.
func IsRetryable(err error) bool {
	switch Kind(err) {
	case ErrorKindApprovalRejected, ErrorKindApprovalTimeout, ErrorKindInvalidState, ErrorKindBadInput, ErrorKindNotFound:
		return false
	default:
		return true
	}
}
