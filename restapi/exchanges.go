package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

func (s *Server) createExchange(c *gin.Context) {
	var req CreateExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Status: http.StatusBadRequest})
		return
	}

	ex, err := s.routeEngine.Submit(c.Request.Context(), req.RouteID, req.Payload, req.Headers)
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusAccepted, CreateExchangeResponse{
		ExchangeID: ex.ExchangeID,
		RouteID:    ex.RouteID,
		Message:    "exchange accepted",
	})
}

func (s *Server) listExchanges(c *gin.Context) {
	filter := store.ExchangeFilter{
		RouteID: c.Query("routeId"),
		Limit:   queryInt(c, "limit", 100),
		Offset:  queryInt(c, "offset", 0),
	}

	if statusParam := c.Query("status"); statusParam != "" {
		st := store.ExchangeStatus(statusParam)
		if !validExchangeStatus(st) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:  "unknown status filter: " + statusParam,
				Status: http.StatusBadRequest,
			})
			return
		}
		filter.Status = st
	}

	exchanges, total, err := s.store.ListExchanges(c.Request.Context(), filter)
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, ListExchangesResponse{
		Exchanges: exchanges,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

func (s *Server) getExchange(c *gin.Context) {
	ex, err := s.states.GetExchange(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

func (s *Server) pauseExchange(c *gin.Context) {
	ex, err := s.routeEngine.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

func (s *Server) resumeExchange(c *gin.Context) {
	ex, err := s.routeEngine.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

func (s *Server) cancelExchange(c *gin.Context) {
	ex, err := s.routeEngine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

func (s *Server) listCheckpoints(c *gin.Context) {
	checkpoints, err := s.store.ListCheckpoints(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": checkpoints})
}

func validExchangeStatus(st store.ExchangeStatus) bool {
	switch st {
	case store.ExchangeStatusPending, store.ExchangeStatusRunning, store.ExchangeStatusPaused,
		store.ExchangeStatusWaitingApproval, store.ExchangeStatusCompleted,
		store.ExchangeStatusFailed, store.ExchangeStatusCancelled:
		return true
	default:
		return false
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
