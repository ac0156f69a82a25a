package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

func (s *Server) listRoutes(c *gin.Context) {
	var out []RouteSummary
	for id, r := range s.routeEngine.AllRoutes() {
		names := make([]string, len(r.Steps))
		for i, step := range r.Steps {
			names[i] = step.Name
		}
		out = append(out, RouteSummary{ID: id, StepNames: names})
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}

func (s *Server) routeStatus(c *gin.Context) {
	routeID := c.Param("id")
	if _, ok := s.routeEngine.Route(routeID); !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "route not found", Status: http.StatusNotFound})
		return
	}
	exchanges, total, err := s.store.ListExchanges(c.Request.Context(), store.ExchangeFilter{RouteID: routeID, Limit: 1})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routeId": routeID, "totalExchanges": total, "sample": exchanges})
}

func (s *Server) routeMetrics(c *gin.Context) {
	metric, err := s.store.GetRouteMetric(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, metric)
}

func (s *Server) allRouteMetrics(c *gin.Context) {
	metrics, err := s.store.ListRouteMetrics(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func (s *Server) routeLogs(c *gin.Context) {
	logs, err := s.store.ListRouteLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) routeLogsByExchange(c *gin.Context) {
	logs, err := s.store.ListRouteLogsByExchange(c.Request.Context(), c.Param("exchangeId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) recoveryStats(c *gin.Context) {
	running, err := s.store.ListRunningExchanges(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, RecoveryStats{RunningExchanges: len(running)})
}
