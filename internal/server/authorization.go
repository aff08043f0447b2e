package server

import (
	"github.com/gin-gonic/gin"
)

// authorize checks the authenticated key against the policy for object and action.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString(contextAPIKeySubjectKey)
		if subject == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		decision := s.authzSvc.Check(c.Request.Context(), subject, object, action)
		if !decision.Allowed {
			AbortWithError(c, &ForbiddenError{Reason: decision.Reason})
			return
		}
		c.Next()
	}
}

func actorName(c *gin.Context) string {
	return c.GetString(contextAPIKeyNameKey)
}
