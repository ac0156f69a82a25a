package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chiefkemist/dur-exec-wf-ai/engine"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

func TestKindClassifiesEngineErrors(t *testing.T) {
	assert.Equal(t, engine.ErrorKindNotFound, engine.Kind(engine.NotFoundf("x")))
	assert.Equal(t, engine.ErrorKindInvalidState, engine.Kind(engine.InvalidStatef("x")))
	assert.Equal(t, engine.ErrorKindBadInput, engine.Kind(engine.BadInputf("x")))
	assert.Equal(t, engine.ErrorKindApprovalRejected, engine.Kind(engine.ApprovalRejectedErr("no")))
	assert.Equal(t, engine.ErrorKindApprovalTimeout, engine.Kind(engine.ApprovalTimeoutErr()))
}

func TestKindClassifiesContextErrorsAsTransient(t *testing.T) {
	assert.Equal(t, engine.ErrorKindTransient, engine.Kind(context.DeadlineExceeded))
	assert.Equal(t, engine.ErrorKindTransient, engine.Kind(context.Canceled))
}

func TestKindClassifiesStoreTransientErrors(t *testing.T) {
	wrapped := &store.EngineTransientError{Wrapped: errors.New("serialization failure")}
	assert.Equal(t, engine.ErrorKindTransient, engine.Kind(wrapped))
}

func TestKindDefaultsUnclassifiedErrorsToExternal(t *testing.T) {
	assert.Equal(t, engine.ErrorKindExternal, engine.Kind(errors.New("some random failure")))
}

func TestIsRetryableExcludesApprovalAndInputErrors(t *testing.T) {
	assert.False(t, engine.IsRetryable(engine.ApprovalRejectedErr("no")))
	assert.False(t, engine.IsRetryable(engine.ApprovalTimeoutErr()))
	assert.False(t, engine.IsRetryable(engine.InvalidStatef("x")))
	assert.False(t, engine.IsRetryable(engine.BadInputf("x")))
	assert.False(t, engine.IsRetryable(engine.NotFoundf("x")))
	assert.True(t, engine.IsRetryable(errors.New("network blip")))
}
