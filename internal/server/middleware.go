package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCheckoutBody = 1 << 20

// CheckoutRateLimit throttles order placement per customer. Limiter errors
// fail open so a Redis outage does not block checkout.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCheckoutBody))
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var peek struct {
			UserID json.Number `json:"user_id"`
		}
		if err := json.Unmarshal(body, &peek); err != nil || peek.UserID == "" {
			c.Next()
			return
		}

		res, err := s.limiter.Allow(c.Request.Context(), peek.UserID.String())
		if err != nil {
			s.log.Warn("checkout rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			seconds := int(math.Ceil(res.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
