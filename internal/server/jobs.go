package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunJob runs one reconciliation job, or all of them for "all", and waits
// for it to finish.
func (s *Server) RunJob(c *gin.Context) {
	if s.jobs == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	summaries, err := s.jobs.Run(c.Request.Context(), name)
	if err != nil && len(summaries) == 0 {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	body := gin.H{"data": summaries}
	if err != nil {
		s.log.Warn("admin job run finished with errors",
			zap.String("job", name),
			zap.String("actor", actorName(c)),
			zap.Error(err),
		)
		status = http.StatusInternalServerError
		body["error"] = errorPayload{Type: "job_failed", Message: err.Error()}
	}

	c.JSON(status, body)
}
