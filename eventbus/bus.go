// Package eventbus fans engine lifecycle events out to subscribers,
// a chain-of-observers pattern built around a single typed Event
// published to any number of registered
// sinks, the shape the REST layer's SSE stream needs.
package eventbus

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// bufferCapacity bounds the pre-subscriber buffer: events published
// while no sink is subscribed (e.g. during CrashRecoveryService's
// startup scan, or after every sink has left) are held here and
// replayed to the next subscriber, which empties the buffer.
const bufferCapacity = 1000

// replayRetryInterval and replayMaxWait bound how patiently Subscribe's
// backlog replay waits on a sink whose buffer is momentarily full,
// instead of evicting it outright the way Publish does for a live
// send failure.
const (
	replayRetryInterval = 10 * time.Millisecond
	replayMaxWait       = 10 * time.Second
)

// ErrSinkBusy is returned by a Sink whose delivery buffer is
// momentarily full but not dead. Subscribe's backlog replay retries on
// this error instead of evicting; any other error is treated as the
// sink being gone.
var ErrSinkBusy = errors.New("sink busy")

// Event is one engine lifecycle notification.
type Event struct {
	Type       string    `json:"type"`
	ExchangeID string    `json:"exchangeId"`
	RouteID    string    `json:"routeId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data,omitempty"`
}

// Sink receives published events. Send must not block for long: a
// slow or dead sink is evicted by Bus after a failed send, unless the
// error is ErrSinkBusy during backlog replay (see Subscribe).
type Sink interface {
	Send(Event) error
}

// Bus is an in-process publish/subscribe hub. The zero value is not
// usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	sinks  map[int]Sink
	nextID int
	buffer []Event
	logger *slog.Logger
}

// New returns a ready-to-use Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		sinks:  map[int]Sink{},
		logger: logger,
	}
}

// Publish delivers ev to every current subscriber. While no subscriber
// is registered, events are held in a bounded FIFO buffer; once full,
// the oldest buffered event is dropped with a warning.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	if len(b.sinks) == 0 {
		if len(b.buffer) >= bufferCapacity {
			b.logger.Warn("eventbus buffer full, dropping oldest event",
				"capacity", bufferCapacity, "dropped_type", b.buffer[0].Type)
			b.buffer = b.buffer[1:]
		}
		b.buffer = append(b.buffer, ev)
		b.mu.Unlock()
		return
	}
	sinks := make(map[int]Sink, len(b.sinks))
	for id, s := range b.sinks {
		sinks[id] = s
	}
	b.mu.Unlock()

	for id, s := range sinks {
		if err := s.Send(ev); err != nil {
			b.evict(id)
		}
	}
}

// Subscribe registers sink and, if a backlog built up before any
// subscriber existed, replays it in the background. Replay runs
// concurrently with the caller's own consumption of sink rather than
// blocking ahead of it, and a sink that reports ErrSinkBusy is retried
// instead of evicted — only a harder failure (or exceeding
// replayMaxWait) drops it — so a bounded-capacity sink has a real
// chance to drain the full backlog once its reader loop starts. The
// returned func unsubscribes the sink.
func (b *Bus) Subscribe(sink Sink) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sinks[id] = sink
	backlog := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	if len(backlog) > 0 {
		go b.replay(id, sink, backlog)
	}

	return func() { b.evict(id) }
}

// replay delivers backlog to sink, retrying a busy sink instead of
// evicting it immediately.
func (b *Bus) replay(id int, sink Sink, backlog []Event) {
	for _, ev := range backlog {
		deadline := time.Now().Add(replayMaxWait)
		for {
			err := sink.Send(ev)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrSinkBusy) || time.Now().After(deadline) {
				b.evict(id)
				return
			}
			time.Sleep(replayRetryInterval)
		}
	}
}

func (b *Bus) evict(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, id)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }
