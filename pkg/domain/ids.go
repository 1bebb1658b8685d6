// Package domain holds the core entities of the support backend: value
// types, the Ticket/Verification/Integration aggregates, and the domain
// events they emit. Aggregates validate their own state transitions;
// persistence and upstream synchronization live elsewhere.
package domain

import "github.com/google/uuid"

// ChatUserID is the stable account identifier assigned by the chat
// platform. It is external input and never generated locally.
type ChatUserID int64

// TicketID identifies a locally created support ticket. Assigned by the
// store (autoincrement) so the local protocol can be derived from it.
type TicketID int64

// VerificationID identifies a CPF verification request.
type VerificationID string

// IntegrationID identifies an integration job.
type IntegrationID string

// NewVerificationID generates a fresh verification identifier.
func NewVerificationID() VerificationID {
	return VerificationID(uuid.New().String())
}

// NewIntegrationID generates a fresh integration identifier.
func NewIntegrationID() IntegrationID {
	return IntegrationID(uuid.New().String())
}
