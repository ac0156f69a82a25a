package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
)

// sseSink adapts a client connection's write channel to eventbus.Sink,
// the push-based counterpart of the poll loop in the pack's SSE
// examples (Erick-Chen1-execution-hub-seed__server.go,
// Prit-Patel08-FlowForge__server.go): instead of ticking and re-reading
// shared state, the Bus calls Send directly as events are published.
type sseSink struct {
	ch     chan eventbus.Event
	closed chan struct{}
	once   sync.Once
}

func newSSESink() *sseSink {
	return &sseSink{ch: make(chan eventbus.Event, 64), closed: make(chan struct{})}
}

func (s *sseSink) Send(ev eventbus.Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-s.closed:
		return fmt.Errorf("sink closed")
	default:
		return eventbus.ErrSinkBusy
	}
}

func (s *sseSink) close() {
	s.once.Do(func() { close(s.closed) })
}

var (
	clientsMu sync.Mutex
	clients   = map[string]*sseSink{}
)

// eventStream implements GET /api/events/stream: it registers a sink,
// writes a connected frame first, then relays every subsequent (and
// any buffered) event as `event: <TYPE>\ndata: <json>\n\n` until the
// client disconnects.
func (s *Server) eventStream(c *gin.Context) {
	clientID := uuid.NewString()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported", Status: http.StatusInternalServerError})
		return
	}

	connected, _ := json.Marshal(gin.H{"message": "connected", "clientId": clientID})
	fmt.Fprintf(c.Writer, "event: connected\ndata: %s\n\n", connected)
	flusher.Flush()

	sink := newSSESink()
	clientsMu.Lock()
	clients[clientID] = sink
	clientsMu.Unlock()
	unsubscribe := s.bus.Subscribe(sink)

	defer func() {
		unsubscribe()
		sink.close()
		clientsMu.Lock()
		delete(clients, clientID)
		clientsMu.Unlock()
	}()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-sink.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) eventsHealth(c *gin.Context) {
	clientsMu.Lock()
	n := len(clients)
	clientsMu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": n, "timestamp": time.Now()})
}

func (s *Server) eventsClientCount(c *gin.Context) {
	clientsMu.Lock()
	n := len(clients)
	clientsMu.Unlock()
	c.JSON(http.StatusOK, gin.H{"count": n})
}
