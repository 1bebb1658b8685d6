package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

const operatorKey = "operator_id"

// requestLogger logs one line per request. Paths never carry tokens or
// CPFs, so logging them verbatim is safe.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// requireOperator gates the admin routes: the static bearer token must
// match and X-Operator-ID must name a chat user. The admin service
// still authorizes that user per call, so a valid token alone is not
// enough.
func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AuthToken == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin API disabled: no auth token configured"})
			return
		}

		supplied := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.AuthToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		operatorID, err := strconv.ParseInt(c.GetHeader("X-Operator-ID"), 10, 64)
		if err != nil || operatorID == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				gin.H{"error": "X-Operator-ID header is required"})
			return
		}

		c.Set(operatorKey, domain.ChatUserID(operatorID))
		c.Next()
	}
}

// operatorID reads the acting admin set by requireOperator.
func operatorID(c *gin.Context) domain.ChatUserID {
	return c.MustGet(operatorKey).(domain.ChatUserID)
}
