package domain

import (
	"fmt"
	"time"
)

// Description length bounds and the attachment cap enforced at
// construction time.
const (
	DescriptionMinLen = 10
	DescriptionMaxLen = 500
	MaxAttachments    = 3
)

// Attachment references a file uploaded through the chat platform. Only
// the platform file id is kept; there is no media pipeline.
type Attachment struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
}

// Ticket is the support ticket aggregate. All mutations go through its
// methods so the status machine and the sync invariants hold.
type Ticket struct {
	ID                 TicketID
	UserID             ChatUserID
	Category           TicketCategory
	AffectedGame       string
	Timing             ProblemTiming
	Description        string
	Attachments        []Attachment
	Urgency            Urgency
	Status             TicketStatus
	LocalProtocol      Protocol
	HubSoftTicketID    string
	HubSoftProtocol    Protocol
	SyncStatus         SyncStatus
	AssignedTechnician string
	CreatedAt          time.Time
	UpdatedAt          time.Time

	pending []Event
}

// NewTicket validates the intake data and builds a PENDING ticket. The
// id and local protocol are assigned by the repository on first save;
// the TicketCreated event is emitted there too, so the protocol it
// carries is final.
func NewTicket(userID ChatUserID, category TicketCategory, game string, timing ProblemTiming, description string, attachments []Attachment) (*Ticket, error) {
	if n := len([]rune(description)); n < DescriptionMinLen || n > DescriptionMaxLen {
		return nil, NewInvalidValue("description",
			fmt.Sprintf("length %d outside bounds %d-%d", n, DescriptionMinLen, DescriptionMaxLen))
	}
	if len(attachments) > MaxAttachments {
		return nil, NewInvalidValue("attachments",
			fmt.Sprintf("at most %d attachments allowed", MaxAttachments))
	}

	now := time.Now()
	return &Ticket{
		UserID:      userID,
		Category:    category,
		AffectedGame: game,
		Timing:      timing,
		Description: description,
		Attachments: attachments,
		Urgency:     DeriveUrgency(category, game),
		Status:      TicketStatusPending,
		SyncStatus:  SyncStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarkPersisted sets the store-assigned id, derives the local protocol,
// and emits TicketCreated. Called by the repository after the first
// durable write.
func (t *Ticket) MarkPersisted(id TicketID) {
	t.ID = id
	t.LocalProtocol = LocalProtocol(id)
	t.record(TicketCreated{
		BaseEvent:     now(),
		TicketID:      t.ID,
		UserID:        t.UserID,
		Category:      t.Category,
		Urgency:       t.Urgency,
		LocalProtocol: t.LocalProtocol,
	})
}

// Assign hands the ticket to a technician. Allowed from PENDING or
// OPEN; moves the ticket to IN_PROGRESS.
func (t *Ticket) Assign(technician string, byAdmin ChatUserID) error {
	if t.Status != TicketStatusPending && t.Status != TicketStatusOpen {
		return &IllegalTransitionError{Entity: "ticket", From: string(t.Status), To: string(TicketStatusInProgress)}
	}
	from := t.Status
	t.Status = TicketStatusInProgress
	t.AssignedTechnician = technician
	t.touch()
	t.record(TicketAssigned{BaseEvent: now(), TicketID: t.ID, Technician: technician, ByAdmin: byAdmin})
	t.record(TicketStatusChanged{BaseEvent: now(), TicketID: t.ID, From: from, To: t.Status, By: technician})
	return nil
}

// ChangeStatus applies a status transition after validating it against
// the transition table. Re-applying the current status is rejected.
func (t *Ticket) ChangeStatus(next TicketStatus, by string) error {
	if next == t.Status {
		return &IllegalTransitionError{Entity: "ticket", From: string(t.Status), To: string(next)}
	}
	if !t.Status.CanTransitionTo(next) {
		return &IllegalTransitionError{Entity: "ticket", From: string(t.Status), To: string(next)}
	}
	from := t.Status
	t.Status = next
	t.touch()
	t.record(TicketStatusChanged{BaseEvent: now(), TicketID: t.ID, From: from, To: next, By: by})
	return nil
}

// OverrideUrgency replaces the derived urgency (admin action).
func (t *Ticket) OverrideUrgency(u Urgency) {
	t.Urgency = u
	t.touch()
}

// AttachHubSoft binds the ticket to its upstream atendimento. Every
// ticket carrying a hubsoft id must be in sync status synced or
// correlated.
func (t *Ticket) AttachHubSoft(hubsoftID string, protocol Protocol, status SyncStatus) error {
	if status != SyncStatusSynced && status != SyncStatusCorrelated {
		return NewInvalidValue("sync_status", "hubsoft binding requires synced or correlated")
	}
	t.HubSoftTicketID = hubsoftID
	t.HubSoftProtocol = protocol
	t.SyncStatus = status
	t.touch()
	t.record(HubSoftTicketSynced{
		BaseEvent:       now(),
		TicketID:        t.ID,
		HubSoftTicketID: hubsoftID,
		HubSoftProtocol: protocol,
		SyncStatus:      status,
	})
	return nil
}

// MarkSyncFailed records a failed upstream sync without touching the
// status machine.
func (t *Ticket) MarkSyncFailed() {
	t.SyncStatus = SyncStatusFailed
	t.touch()
}

// DaysOpen returns how many whole days the ticket has existed.
func (t *Ticket) DaysOpen(ref time.Time) int {
	return int(ref.Sub(t.CreatedAt).Hours() / 24)
}

// TakeEvents returns and clears the pending domain events. The caller
// publishes them only after the aggregate is durably saved.
func (t *Ticket) TakeEvents() []Event {
	evs := t.pending
	t.pending = nil
	return evs
}

func (t *Ticket) record(e Event) { t.pending = append(t.pending, e) }

func (t *Ticket) touch() { t.UpdatedAt = time.Now() }
