// Package restapi implements the HTTP surface: exchange CRUD/control,
// approval decisions, an SSE event stream, and metrics/log read APIs,
// built on the usual gin-gonic/gin + gin-contrib/slog server shape.
package restapi

import (
	"log/slog"
	"net/http"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/chiefkemist/dur-exec-wf-ai/engine"
	"github.com/chiefkemist/dur-exec-wf-ai/eventbus"
	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

// Server implements the HTTP API for the exchange execution engine.
type Server struct {
	routeEngine *engine.RouteEngine
	states      *engine.ExchangeStateManager
	approvals   *engine.ApprovalService
	store       store.Store
	bus         *eventbus.Bus
	logger      *slog.Logger
}

// New constructs a Server. logger defaults to slog.Default if nil.
func New(re *engine.RouteEngine, states *engine.ExchangeStateManager, approvals *engine.ApprovalService, s store.Store, bus *eventbus.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		routeEngine: re,
		states:      states,
		approvals:   approvals,
		store:       s,
		bus:         bus,
		logger:      logger,
	}
}

// SetupRoutes configures and returns the gin router with every
// exchange, approval, route, recovery, and event endpoint registered.
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return s.logger
		}),
	))

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	api := router.Group("/api")
	{
		ex := api.Group("/exchanges")
		ex.POST("", s.createExchange)
		ex.GET("", s.listExchanges)
		ex.GET("/:id", s.getExchange)
		ex.POST("/:id/pause", s.pauseExchange)
		ex.POST("/:id/resume", s.resumeExchange)
		ex.POST("/:id/cancel", s.cancelExchange)
		ex.GET("/:id/checkpoints", s.listCheckpoints)

		ap := api.Group("/approvals")
		ap.GET("", s.listPendingApprovals)
		ap.GET("/:id", s.getApproval)
		ap.GET("/by-exchange/:exchangeId", s.getApprovalByExchange)
		ap.POST("/:id/approve", s.approveApproval)
		ap.POST("/:id/reject", s.rejectApproval)

		rt := api.Group("/routes")
		rt.GET("", s.listRoutes)
		rt.GET("/:id/status", s.routeStatus)
		rt.GET("/:id/metrics", s.routeMetrics)
		rt.GET("/:id/logs", s.routeLogs)
		rt.GET("/metrics", s.allRouteMetrics)
		rt.GET("/recovery-stats", s.recoveryStats)
		rt.GET("/logs/exchange/:exchangeId", s.routeLogsByExchange)

		ev := api.Group("/events")
		ev.GET("/stream", s.eventStream)
		ev.GET("/health", s.eventsHealth)
		ev.GET("/clients/count", s.eventsClientCount)
	}

	return router
}

// statusForKind maps an engine.ErrorKind to the HTTP status it should
// surface as.
func statusForKind(kind engine.ErrorKind) int {
	switch kind {
	case engine.ErrorKindNotFound:
		return http.StatusNotFound
	case engine.ErrorKindInvalidState, engine.ErrorKindBadInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeErr maps err to a status code via its EngineError kind and
// writes the ErrorResponse envelope.
func writeErr(c *gin.Context, err error) {
	status := statusForKind(engine.Kind(err))
	c.JSON(status, ErrorResponse{Error: err.Error(), Status: status})
}
