// Package api exposes the operational HTTP surface: health probe,
// system stats and the ticket/admin commands operators script against.
// It is not subscriber-facing; the bot adapter is.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/admin"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/cache"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
)

// SnapshotEngine is the engine surface the health endpoint reads.
type SnapshotEngine interface {
	Snapshot(ctx context.Context) integration.Health
}

// Server wires the handlers to their collaborators.
type Server struct {
	db     *database.Client
	engine SnapshotEngine
	cache  *cache.Cache
	admins *admin.Service
	cfg    config.ServerConfig
	logger *slog.Logger
}

// NewServer builds the API server.
func NewServer(db *database.Client, engine SnapshotEngine, c *cache.Cache, admins *admin.Service, cfg config.ServerConfig) *Server {
	return &Server{
		db:     db,
		engine: engine,
		cache:  c,
		admins: admins,
		cfg:    cfg,
		logger: slog.Default().With("component", "api"),
	}
}

// Router assembles the gin engine. /health is open; everything under
// /api/v1 requires the bearer token and an operator id.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), securityHeaders())

	r.GET("/health", s.healthHandler)

	v1 := r.Group("/api/v1", s.requireOperator())
	v1.GET("/stats", s.statsHandler)
	v1.GET("/tickets", s.listTicketsHandler)
	v1.POST("/tickets/:id/status", s.updateTicketStatusHandler)
	v1.POST("/tickets/:id/assign", s.assignTicketHandler)
	v1.POST("/tickets/bulk", s.bulkTicketsHandler)
	v1.POST("/admins/refresh", s.refreshAdminsHandler)
	v1.POST("/users/:id/ban", s.banUserHandler)
	v1.POST("/users/:id/unban", s.unbanUserHandler)

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("API server started", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
