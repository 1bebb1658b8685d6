package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// writeServiceError maps service-layer errors to HTTP responses.
// Internal detail stays in the logs; clients get a stable message.
func (s *Server) writeServiceError(c *gin.Context, err error) {
	var transitionErr *domain.IllegalTransitionError
	switch {
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "operator is not an admin"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case domain.IsInvalidValue(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{"error": transitionErr.Error()})
	default:
		s.logger.Error("Unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
