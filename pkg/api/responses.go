package api

import (
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/cache"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/integration"
)

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database"`
	Engine   integration.Health     `json:"engine"`
	Cache    cache.Stats            `json:"cache"`
}

// TicketResponse is the wire shape of a ticket.
type TicketResponse struct {
	ID              domain.TicketID     `json:"id"`
	UserID          domain.ChatUserID   `json:"user_id"`
	Category        string              `json:"category"`
	AffectedGame    string              `json:"affected_game,omitempty"`
	Timing          string              `json:"timing"`
	Description     string              `json:"description"`
	Urgency         string              `json:"urgency"`
	Status          string              `json:"status"`
	LocalProtocol   string              `json:"local_protocol"`
	HubSoftProtocol string              `json:"hubsoft_protocol,omitempty"`
	SyncStatus      string              `json:"sync_status"`
	Technician      string              `json:"assigned_technician,omitempty"`
	Attachments     []domain.Attachment `json:"attachments,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func ticketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:              t.ID,
		UserID:          t.UserID,
		Category:        string(t.Category),
		AffectedGame:    t.AffectedGame,
		Timing:          string(t.Timing),
		Description:     t.Description,
		Urgency:         string(t.Urgency),
		Status:          string(t.Status),
		LocalProtocol:   string(t.LocalProtocol),
		HubSoftProtocol: string(t.HubSoftProtocol),
		SyncStatus:      string(t.SyncStatus),
		Technician:      t.AssignedTechnician,
		Attachments:     t.Attachments,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func ticketResponses(tickets []*domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketResponse(t))
	}
	return out
}

// BulkItemResponse is one item of a bulk update result.
type BulkItemResponse struct {
	TicketID domain.TicketID `json:"ticket_id"`
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
}
