package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

type banRequest struct {
	Reason   string `json:"reason" binding:"required"`
	Duration string `json:"duration"`
}

// statsHandler handles GET /api/v1/stats?window_hours=24.
func (s *Server) statsHandler(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("window_hours", "24"))
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	stats, err := s.admins.GetSystemStats(c.Request.Context(), operatorID(c), since)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// refreshAdminsHandler handles POST /api/v1/admins/refresh.
func (s *Server) refreshAdminsHandler(c *gin.Context) {
	count, err := s.admins.RefreshAdminCache(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cached_admins": count})
}

// banUserHandler handles POST /api/v1/users/:id/ban.
func (s *Server) banUserHandler(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var duration time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
			return
		}
		duration = d
	}

	if err := s.admins.BanUser(c.Request.Context(), operatorID(c), userID, req.Reason, duration); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": userID})
}

// unbanUserHandler handles POST /api/v1/users/:id/unban.
func (s *Server) unbanUserHandler(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}
	if err := s.admins.UnbanUser(c.Request.Context(), operatorID(c), userID); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unbanned": userID})
}

func pathUserID(c *gin.Context) (domain.ChatUserID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return domain.ChatUserID(id), true
}
