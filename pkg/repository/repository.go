// Package repository implements sqlite-backed persistence for the
// domain aggregates. Repositories translate between row structs and
// domain types; constraint violations surface as domain errors so the
// services never see driver details.
package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/database"
)

// Repositories bundles every repository over one database client.
type Repositories struct {
	Users         *UserRepository
	Tickets       *TicketRepository
	Verifications *VerificationRepository
	Integrations  *IntegrationRepository
	Invites       *InviteRepository
	Admins        *AdminRepository
	Rules         *RulesRepository
}

// New wires all repositories to the given client.
func New(client *database.Client) *Repositories {
	return &Repositories{
		Users:         NewUserRepository(client),
		Tickets:       NewTicketRepository(client),
		Verifications: NewVerificationRepository(client),
		Integrations:  NewIntegrationRepository(client),
		Invites:       NewInviteRepository(client),
		Admins:        NewAdminRepository(client),
		Rules:         NewRulesRepository(client),
	}
}

// isUniqueViolation reports whether err is a sqlite unique-constraint
// failure (including failures on partial unique indexes).
func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// nullTime converts an optional time for storage.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr converts a stored nullable time back to the domain shape.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
