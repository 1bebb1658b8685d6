package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/version"
)

// healthHandler handles GET /health. Unauthenticated by design: only
// the process's own components are reported, never upstream secrets.
// An unhealthy HubSoft does not fail the probe, the engine queues and
// retries on its own.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, dbErr := s.db.Health(ctx)
	resp := &HealthResponse{
		Status:   "healthy",
		Version:  version.GitCommit,
		Database: dbHealth,
		Engine:   s.engine.Snapshot(ctx),
		Cache:    s.cache.Stats(),
	}

	status := http.StatusOK
	if dbErr != nil {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
