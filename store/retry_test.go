package store

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBusyErrorRecognizesPostgresCodes(t *testing.T) {
	assert.True(t, isBusyError(&pq.Error{Code: "40001"}))
	assert.True(t, isBusyError(&pq.Error{Code: "40P01"}))
	assert.True(t, isBusyError(&pq.Error{Code: "55P03"}))
	assert.False(t, isBusyError(&pq.Error{Code: "23505"}))
}

func TestIsBusyErrorRecognizesStringFallbacks(t *testing.T) {
	assert.True(t, isBusyError(errors.New("database is locked")))
	assert.True(t, isBusyError(errors.New("server busy, try again")))
	assert.False(t, isBusyError(errors.New("syntax error")))
	assert.False(t, isBusyError(nil))
}

func TestWithBusyRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withBusyRetry(func() error {
		attempts++
		if attempts < 3 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBusyRetryExhaustsAndWrapsTransientError(t *testing.T) {
	attempts := 0
	err := withBusyRetry(func() error {
		attempts++
		return &pq.Error{Code: "40001"}
	})
	require.Error(t, err)
	assert.Equal(t, maxBusyRetries+1, attempts)
	var transient *EngineTransientError
	require.True(t, errors.As(err, &transient))
}

func TestWithBusyRetryDoesNotRetryNonBusyErrors(t *testing.T) {
	attempts := 0
	sentinel := errors.New("permanent failure")
	err := withBusyRetry(func() error {
		attempts++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, sentinel, err)
}
