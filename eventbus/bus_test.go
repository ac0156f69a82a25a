package eventbus_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
)

func collectSink() (*eventbus.Bus, func() []eventbus.Event) {
	bus := eventbus.New(nil)
	var mu sync.Mutex
	var got []eventbus.Event
	bus.Subscribe(eventbus.SinkFunc(func(ev eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	}))
	return bus, func() []eventbus.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]eventbus.Event, len(got))
		copy(out, got)
		return out
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus, read := collectSink()
	bus.Publish(eventbus.Event{Type: "EXCHANGE_CREATED", ExchangeID: "ex-1"})

	require.Eventually(t, func() bool { return len(read()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "EXCHANGE_CREATED", read()[0].Type)
	assert.False(t, read()[0].Timestamp.IsZero())
}

func TestPublishBuffersBeforeAnySubscriber(t *testing.T) {
	bus := eventbus.New(nil)
	bus.Publish(eventbus.Event{Type: "EXCHANGE_CREATED", ExchangeID: "ex-1"})
	bus.Publish(eventbus.Event{Type: "EXCHANGE_STARTED", ExchangeID: "ex-1"})

	var got []eventbus.Event
	done := make(chan struct{})
	bus.Subscribe(eventbus.SinkFunc(func(ev eventbus.Event) error {
		got = append(got, ev)
		if len(got) == 2 {
			close(done)
		}
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("buffered events were not replayed to the first subscriber")
	}
	assert.Equal(t, "EXCHANGE_CREATED", got[0].Type)
	assert.Equal(t, "EXCHANGE_STARTED", got[1].Type)
}

func TestSubscribeUnsubscribeStopsDelivery(t *testing.T) {
	bus := eventbus.New(nil)
	var n int
	var mu sync.Mutex
	unsub := bus.Subscribe(eventbus.SinkFunc(func(ev eventbus.Event) error {
		mu.Lock()
		n++
		mu.Unlock()
		return nil
	}))
	bus.Publish(eventbus.Event{Type: "A"})
	unsub()
	bus.Publish(eventbus.Event{Type: "B"})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, n)
}

// boundedSink models a fixed-capacity channel consumer, the shape of
// the SSE sink: Send reports ErrSinkBusy (not a hard failure) when the
// channel is momentarily full.
type boundedSink struct {
	ch chan eventbus.Event
}

func newBoundedSink(capacity int) *boundedSink {
	return &boundedSink{ch: make(chan eventbus.Event, capacity)}
}

func (s *boundedSink) Send(ev eventbus.Event) error {
	select {
	case s.ch <- ev:
		return nil
	default:
		return eventbus.ErrSinkBusy
	}
}

func TestSubscribeReplaysBacklogLargerThanSinkCapacityWithoutEviction(t *testing.T) {
	bus := eventbus.New(nil)
	for i := 0; i < 200; i++ {
		bus.Publish(eventbus.Event{Type: "EXCHANGE_CREATED"})
	}

	sink := newBoundedSink(16)
	unsub := bus.Subscribe(sink)
	defer unsub()

	received := 0
	timeout := time.After(2 * time.Second)
	for received < 200 {
		select {
		case <-sink.ch:
			received++
		case <-timeout:
			t.Fatalf("only received %d/200 backlogged events; busy sink was evicted instead of retried", received)
		}
	}
}

func TestPublishEvictsFailingSink(t *testing.T) {
	bus := eventbus.New(nil)
	var calls int
	var mu sync.Mutex
	bus.Subscribe(eventbus.SinkFunc(func(ev eventbus.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("dead sink")
	}))

	bus.Publish(eventbus.Event{Type: "A"})
	bus.Publish(eventbus.Event{Type: "B"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "a sink that errors should be evicted after its first failed send")
}
