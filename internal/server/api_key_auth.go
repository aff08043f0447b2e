package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
)

const (
	contextAPIKeyNameKey    = "api_key_name"
	contextAPIKeySubjectKey = "api_key_subject"
)

// APIKeyRequired authenticates admin requests with a "name:secret" bearer key.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, ok := s.authzSvc.Authenticate(parts[1])
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAPIKeyNameKey, key.Name)
		c.Set(contextAPIKeySubjectKey, key.Subject())

		ctx := obscontext.WithActor(c.Request.Context(), obscontext.ActorAdmin, key.Name)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
