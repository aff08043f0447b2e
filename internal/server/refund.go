package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

type rejectRefundRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ApproveRefund(c *gin.Context) {
	id, err := parseIDParam(c, "id", paymentdomain.ErrRefundNotFound)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	refund, err := s.refundSvc.Approve(c.Request.Context(), id, actorName(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func (s *Server) RejectRefund(c *gin.Context) {
	id, err := parseIDParam(c, "id", paymentdomain.ErrRefundNotFound)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req rejectRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	refund, err := s.refundSvc.Reject(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refund})
}
