package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Typed integration payloads. The spec for each job type lives in its
// payload struct; the untyped form exists only as the JSON blob the
// repository stores.

// TicketSyncType selects the upstream ticket operation.
type TicketSyncType string

// Ticket sync operations.
const (
	TicketSyncCreate       TicketSyncType = "create"
	TicketSyncUpdate       TicketSyncType = "update"
	TicketSyncStatusChange TicketSyncType = "status_change"
)

// TicketSyncPayload drives TICKET_SYNC jobs.
type TicketSyncPayload struct {
	TicketID TicketID       `json:"ticket_id"`
	SyncType TicketSyncType `json:"sync_type"`
}

// UserVerificationPayload drives USER_VERIFICATION jobs.
type UserVerificationPayload struct {
	CPF              string        `json:"cpf"`
	IncludeContracts bool          `json:"include_contracts"`
	CacheDuration    time.Duration `json:"cache_duration,omitempty"`
	ForceRefresh     bool          `json:"force_refresh,omitempty"`
}

// ClientDataFetchPayload drives CLIENT_DATA_FETCH jobs.
type ClientDataFetchPayload struct {
	CPF            string `json:"cpf"`
	IncludeTickets bool   `json:"include_tickets,omitempty"`
	IncludeBilling bool   `json:"include_billing,omitempty"`
}

// StatusUpdatePayload drives STATUS_UPDATE jobs.
type StatusUpdatePayload struct {
	TicketID  TicketID `json:"ticket_id"`
	NewStatus string   `json:"new_status"`
}

// BulkSyncPayload drives BULK_SYNC jobs.
type BulkSyncPayload struct {
	TicketIDs           []TicketID    `json:"ticket_ids"`
	BatchSize           int           `json:"batch_size"`
	DelayBetweenBatches time.Duration `json:"delay_between_batches"`
}

// ValidatePayload checks that the payload matches the job type. Called
// at schedule time so malformed jobs never reach a worker.
func ValidatePayload(itype IntegrationType, payload any) error {
	ok := false
	switch itype {
	case IntegrationTicketSync:
		var p TicketSyncPayload
		if p, ok = payload.(TicketSyncPayload); ok {
			if p.TicketID == 0 {
				return NewInvalidValue("payload", "ticket_sync requires ticket_id")
			}
			switch p.SyncType {
			case TicketSyncCreate, TicketSyncUpdate, TicketSyncStatusChange:
			default:
				return NewInvalidValue("payload", "unknown sync_type "+string(p.SyncType))
			}
		}
	case IntegrationUserVerification:
		var p UserVerificationPayload
		if p, ok = payload.(UserVerificationPayload); ok && p.CPF == "" {
			return NewInvalidValue("payload", "user_verification requires cpf")
		}
	case IntegrationClientDataFetch:
		var p ClientDataFetchPayload
		if p, ok = payload.(ClientDataFetchPayload); ok && p.CPF == "" {
			return NewInvalidValue("payload", "client_data_fetch requires cpf")
		}
	case IntegrationStatusUpdate:
		var p StatusUpdatePayload
		if p, ok = payload.(StatusUpdatePayload); ok && p.TicketID == 0 {
			return NewInvalidValue("payload", "status_update requires ticket_id")
		}
	case IntegrationBulkSync:
		var p BulkSyncPayload
		if p, ok = payload.(BulkSyncPayload); ok && len(p.TicketIDs) == 0 {
			return NewInvalidValue("payload", "bulk_sync requires ticket_ids")
		}
	default:
		return NewInvalidValue("type", "unknown integration type "+string(itype))
	}
	if !ok {
		return NewInvalidValue("payload", fmt.Sprintf("payload %T does not match type %s", payload, itype))
	}
	return nil
}

// EncodePayload serializes a typed payload for storage.
func EncodePayload(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return raw, nil
}

// DecodePayload restores the typed payload for a stored job.
func DecodePayload(itype IntegrationType, raw []byte) (any, error) {
	var target any
	switch itype {
	case IntegrationTicketSync:
		target = &TicketSyncPayload{}
	case IntegrationUserVerification:
		target = &UserVerificationPayload{}
	case IntegrationClientDataFetch:
		target = &ClientDataFetchPayload{}
	case IntegrationStatusUpdate:
		target = &StatusUpdatePayload{}
	case IntegrationBulkSync:
		target = &BulkSyncPayload{}
	default:
		return nil, NewInvalidValue("type", "unknown integration type "+string(itype))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", itype, err)
	}
	switch p := target.(type) {
	case *TicketSyncPayload:
		return *p, nil
	case *UserVerificationPayload:
		return *p, nil
	case *ClientDataFetchPayload:
		return *p, nil
	case *StatusUpdatePayload:
		return *p, nil
	case *BulkSyncPayload:
		return *p, nil
	}
	return nil, NewInvalidValue("payload", "unreachable payload type")
}
