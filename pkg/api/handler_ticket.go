package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/admin"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type assignRequest struct {
	Technician string `json:"technician" binding:"required"`
	Notes      string `json:"notes"`
}

type bulkRequest struct {
	Action    string            `json:"action" binding:"required"`
	TicketIDs []domain.TicketID `json:"ticket_ids" binding:"required"`
	Params    map[string]string `json:"params"`
}

// listTicketsHandler handles GET /api/v1/tickets?filter=&limit=.
func (s *Server) listTicketsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	tickets, err := s.admins.ListTickets(c.Request.Context(), operatorID(c), c.Query("filter"), limit)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": ticketResponses(tickets)})
}

// updateTicketStatusHandler handles POST /api/v1/tickets/:id/status.
func (s *Server) updateTicketStatusHandler(c *gin.Context) {
	ticketID, ok := pathTicketID(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := domain.ParseTicketStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := s.admins.UpdateTicketStatus(c.Request.Context(), operatorID(c), ticketID, status, req.Reason)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticketResponse(ticket))
}

// assignTicketHandler handles POST /api/v1/tickets/:id/assign.
func (s *Server) assignTicketHandler(c *gin.Context) {
	ticketID, ok := pathTicketID(c)
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := s.admins.AssignTicket(c.Request.Context(), operatorID(c), ticketID, req.Technician, req.Notes)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticketResponse(ticket))
}

// bulkTicketsHandler handles POST /api/v1/tickets/bulk. The batch
// always returns 200; per-item failures are in the body.
func (s *Server) bulkTicketsHandler(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := s.admins.BulkUpdateTickets(c.Request.Context(), operatorID(c),
		req.TicketIDs, admin.BulkAction(req.Action), req.Params)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}

	items := make([]BulkItemResponse, 0, len(results))
	failed := 0
	for _, r := range results {
		item := BulkItemResponse{TicketID: r.TicketID, OK: r.Err == nil}
		if r.Err != nil {
			failed++
			item.Error = r.Err.Error()
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"results": items, "failed": failed})
}

func pathTicketID(c *gin.Context) (domain.TicketID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return 0, false
	}
	return domain.TicketID(id), true
}
