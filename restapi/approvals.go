package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chiefkemist/dur-exec-wf-ai/store"
)

func (s *Server) listPendingApprovals(c *gin.Context) {
	pending, err := s.store.ListPendingApprovals(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": pending})
}

func (s *Server) getApproval(c *gin.Context) {
	req, err := s.store.GetApproval(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == store.ErrNotFound {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "approval not found", Status: http.StatusNotFound})
			return
		}
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) getApprovalByExchange(c *gin.Context) {
	req, ok, err := s.store.GetPendingApprovalByExchange(c.Request.Context(), c.Param("exchangeId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no pending approval for exchange", Status: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) approveApproval(c *gin.Context) {
	var req ApproveRequest
	_ = c.ShouldBindJSON(&req)

	approval, err := s.approvals.Approve(c.Request.Context(), c.Param("id"), req.Response)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, approval)
}

func (s *Server) rejectApproval(c *gin.Context) {
	var req RejectRequest
	_ = c.ShouldBindJSON(&req)

	approval, err := s.approvals.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, approval)
}
