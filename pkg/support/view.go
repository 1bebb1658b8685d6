package support

import (
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/domain"
)

// TicketView is the read projection returned to the presentation layer.
type TicketView struct {
	ID              domain.TicketID
	LocalProtocol   domain.Protocol
	HubSoftProtocol domain.Protocol
	Category        domain.TicketCategory
	CategoryPT      string
	AffectedGame    string
	Timing          domain.ProblemTiming
	TimingPT        string
	Description     string
	Urgency         domain.Urgency
	Status          domain.TicketStatus
	StatusPT        string
	SyncStatus      domain.SyncStatus
	DaysOpen        int
	CreatedAt       time.Time
}

func newTicketView(t *domain.Ticket) TicketView {
	return TicketView{
		ID:              t.ID,
		LocalProtocol:   t.LocalProtocol,
		HubSoftProtocol: t.HubSoftProtocol,
		Category:        t.Category,
		CategoryPT:      t.Category.DisplayPT(),
		AffectedGame:    t.AffectedGame,
		Timing:          t.Timing,
		TimingPT:        t.Timing.DisplayPT(),
		Description:     t.Description,
		Urgency:         t.Urgency,
		Status:          t.Status,
		StatusPT:        t.Status.DisplayPT(),
		SyncStatus:      t.SyncStatus,
		DaysOpen:        t.DaysOpen(time.Now()),
		CreatedAt:       t.CreatedAt,
	}
}
