package domain

import "time"

// Event is a domain event emitted by an aggregate. Events are collected
// on the aggregate and published by the use case after the write is
// durable (write-ahead-then-publish).
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

// BaseEvent carries the fields shared by every event.
type BaseEvent struct {
	At time.Time
}

// OccurredAt returns the event timestamp.
func (e BaseEvent) OccurredAt() time.Time { return e.At }

func now() BaseEvent { return BaseEvent{At: time.Now()} }

// Event type names, used as the bus subscription key.
const (
	EventTypeTicketCreated       = "ticket.created"
	EventTypeTicketAssigned      = "ticket.assigned"
	EventTypeTicketStatusChanged = "ticket.status_changed"
	EventTypeHubSoftTicketSynced = "hubsoft.ticket_synced"

	EventTypeVerificationStarted     = "verification.started"
	EventTypeVerificationAttemptMade = "verification.attempt_made"
	EventTypeVerificationCompleted   = "verification.completed"
	EventTypeVerificationFailed      = "verification.failed"
	EventTypeVerificationExpired     = "verification.expired"
	EventTypeVerificationCancelled   = "verification.cancelled"
	EventTypeCPFValidated            = "cpf.validated"
	EventTypeCPFDuplicateDetected    = "cpf.duplicate_detected"
	EventTypeCPFRemapped             = "cpf.remapped"

	EventTypeIntegrationScheduled = "integration.scheduled"
	EventTypeIntegrationStarted   = "integration.started"
	EventTypeIntegrationCompleted = "integration.completed"
	EventTypeIntegrationFailed    = "integration.failed"

	EventTypeHubSoftConnectionRestored = "hubsoft.connection_restored"
	EventTypeHubSoftConnectionLost     = "hubsoft.connection_lost"
	EventTypeHubSoftRateLimitHit       = "hubsoft.rate_limit_hit"
	EventTypeHubSoftBulkSyncCompleted  = "hubsoft.bulk_sync_completed"

	EventTypeInviteIssued = "invite.issued"
)

// TicketCreated is emitted when a ticket aggregate is born.
type TicketCreated struct {
	BaseEvent
	TicketID      TicketID
	UserID        ChatUserID
	Category      TicketCategory
	Urgency       Urgency
	LocalProtocol Protocol
}

func (TicketCreated) EventType() string { return EventTypeTicketCreated }

// TicketAssigned is emitted when a technician takes a ticket.
type TicketAssigned struct {
	BaseEvent
	TicketID   TicketID
	Technician string
	ByAdmin    ChatUserID
}

func (TicketAssigned) EventType() string { return EventTypeTicketAssigned }

// TicketStatusChanged is emitted on every ticket status transition.
type TicketStatusChanged struct {
	BaseEvent
	TicketID TicketID
	From     TicketStatus
	To       TicketStatus
	By       string
}

func (TicketStatusChanged) EventType() string { return EventTypeTicketStatusChanged }

// HubSoftTicketSynced is emitted when a local ticket gets bound to an
// upstream atendimento (fresh sync or correlation).
type HubSoftTicketSynced struct {
	BaseEvent
	TicketID        TicketID
	HubSoftTicketID string
	HubSoftProtocol Protocol
	SyncStatus      SyncStatus
}

func (HubSoftTicketSynced) EventType() string { return EventTypeHubSoftTicketSynced }

// VerificationStarted is emitted when a verification request is created.
type VerificationStarted struct {
	BaseEvent
	VerificationID VerificationID
	UserID         ChatUserID
	Type           VerificationType
}

func (VerificationStarted) EventType() string { return EventTypeVerificationStarted }

// VerificationAttemptMade is emitted on every CPF submission attempt.
type VerificationAttemptMade struct {
	BaseEvent
	VerificationID VerificationID
	UserID         ChatUserID
	Attempt        int
	Success        bool
	FailureReason  string
}

func (VerificationAttemptMade) EventType() string { return EventTypeVerificationAttemptMade }

// VerificationCompleted is emitted when the identity check succeeds.
type VerificationCompleted struct {
	BaseEvent
	VerificationID VerificationID
	UserID         ChatUserID
	CPFMasked      string
}

func (VerificationCompleted) EventType() string { return EventTypeVerificationCompleted }

// VerificationFailed is emitted when the identity check fails for good.
type VerificationFailed struct {
	BaseEvent
	VerificationID VerificationID
	UserID         ChatUserID
	Reason         string
}

func (VerificationFailed) EventType() string { return EventTypeVerificationFailed }

// VerificationExpired is emitted by the 24-hour expiration sweep.
type VerificationExpired struct {
	BaseEvent
	VerificationID VerificationID
	UserID         ChatUserID
	Type           VerificationType
}

func (VerificationExpired) EventType() string { return EventTypeVerificationExpired }

// VerificationCancelled is emitted when a verification is superseded or
// cancelled by an admin.
type VerificationCancelled struct {
	BaseEvent
	VerificationID VerificationID
	UserID         ChatUserID
	Reason         string
}

func (VerificationCancelled) EventType() string { return EventTypeVerificationCancelled }

// CPFValidated is emitted once the CPF is bound to the chat account.
type CPFValidated struct {
	BaseEvent
	UserID     ChatUserID
	CPFMasked  string
	ClientName string
}

func (CPFValidated) EventType() string { return EventTypeCPFValidated }

// CPFDuplicateDetected is emitted when the submitted CPF is already
// bound to a different active chat account.
type CPFDuplicateDetected struct {
	BaseEvent
	VerificationID VerificationID
	UserID         ChatUserID
	ExistingUserID ChatUserID
	CPFMasked      string
}

func (CPFDuplicateDetected) EventType() string { return EventTypeCPFDuplicateDetected }

// CPFRemapped is emitted after a duplicate conflict is resolved by
// moving the CPF binding between accounts.
type CPFRemapped struct {
	BaseEvent
	OldUserID ChatUserID
	NewUserID ChatUserID
	CPFMasked string
	Reason    string
}

func (CPFRemapped) EventType() string { return EventTypeCPFRemapped }

// IntegrationScheduled is emitted when a job is accepted by the engine.
type IntegrationScheduled struct {
	BaseEvent
	IntegrationID IntegrationID
	Type          IntegrationType
	Priority      IntegrationPriority
}

func (IntegrationScheduled) EventType() string { return EventTypeIntegrationScheduled }

// IntegrationStarted is emitted when a worker picks a job up.
type IntegrationStarted struct {
	BaseEvent
	IntegrationID IntegrationID
	Type          IntegrationType
	Attempt       int
}

func (IntegrationStarted) EventType() string { return EventTypeIntegrationStarted }

// IntegrationCompleted is emitted on job success.
type IntegrationCompleted struct {
	BaseEvent
	IntegrationID IntegrationID
	Type          IntegrationType
	Attempts      int
}

func (IntegrationCompleted) EventType() string { return EventTypeIntegrationCompleted }

// IntegrationFailed is emitted when a job exhausts its retries or hits
// a permanent error.
type IntegrationFailed struct {
	BaseEvent
	IntegrationID IntegrationID
	Type          IntegrationType
	Attempts      int
	Error         string
}

func (IntegrationFailed) EventType() string { return EventTypeIntegrationFailed }

// HubSoftConnectionRestored is emitted on the down-to-up health
// transition; Downtime covers the observed outage window.
type HubSoftConnectionRestored struct {
	BaseEvent
	Downtime time.Duration
}

func (HubSoftConnectionRestored) EventType() string { return EventTypeHubSoftConnectionRestored }

// HubSoftConnectionLost is emitted on the up-to-down health transition.
type HubSoftConnectionLost struct {
	BaseEvent
}

func (HubSoftConnectionLost) EventType() string { return EventTypeHubSoftConnectionLost }

// HubSoftRateLimitHit is emitted when the upstream returns 429; the
// engine pauses dispatch until ResetAt.
type HubSoftRateLimitHit struct {
	BaseEvent
	ResetAt time.Time
}

func (HubSoftRateLimitHit) EventType() string { return EventTypeHubSoftRateLimitHit }

// HubSoftBulkSyncCompleted reports aggregate counts of a bulk sync run.
type HubSoftBulkSyncCompleted struct {
	BaseEvent
	IntegrationID IntegrationID
	Total         int
	Successful    int
	Failed        int
}

func (HubSoftBulkSyncCompleted) EventType() string { return EventTypeHubSoftBulkSyncCompleted }

// InviteIssued is emitted when a single-use group invite is created for
// a verified subscriber.
type InviteIssued struct {
	BaseEvent
	UserID    ChatUserID
	InviteID  string
	ExpiresAt time.Time
}

func (InviteIssued) EventType() string { return EventTypeInviteIssued }
