package store

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// maxBusyRetries and busyRetryDelay bound the retry for the checkpoint
// insert path: concurrent writers can collide, so a transient
// "busy"/serialization-failure error is retried up to 3 times with
// ~100ms sleeps before being surfaced.
const (
	maxBusyRetries = 3
	busyRetryDelay = 100 * time.Millisecond
)

// pgBusyCodes are Postgres error codes worth retrying: 40001 (serialization
// failure), 40P01 (deadlock detected), 55P03 (lock not available).
var pgBusyCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// isBusyError reports whether err represents a transient contention
// error that withBusyRetry should retry: Postgres error codes plus a
// couple of driver-level string matches.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pgBusyCodes[string(pqErr.Code)]
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// withBusyRetry runs fn, retrying up to maxBusyRetries times with
// busyRetryDelay between attempts whenever fn's error is a transient
// contention error. Any other error, or exhaustion of retries, is
// returned to the caller.
func withBusyRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusyError(err) {
			return err
		}
		if attempt < maxBusyRetries {
			time.Sleep(busyRetryDelay)
		}
	}
	return wrapErrTransient(err)
}

func wrapErrTransient(err error) error {
	return &EngineTransientError{Wrapped: err}
}

// EngineTransientError marks an error as exhausted-retry transient so the
// engine layer can classify it as ErrorKindTransient without importing
// the store package's internals.
type EngineTransientError struct {
	Wrapped error
}

func (e *EngineTransientError) Error() string {
	return "store busy, retries exhausted: " + e.Wrapped.Error()
}

func (e *EngineTransientError) Unwrap() error {
	return e.Wrapped
}
