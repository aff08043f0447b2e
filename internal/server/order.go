package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
)

type transitionOrderRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id", orderdomain.ErrInvalidID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) TransitionOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id", orderdomain.ErrInvalidID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req transitionOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	to, err := orderdomain.ParseOrderStatus(req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.Transition(c.Request.Context(), orderdomain.TransitionRequest{
		OrderID: id,
		To:      to,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func parseIDParam(c *gin.Context, name string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		return 0, invalid
	}
	return id, nil
}
