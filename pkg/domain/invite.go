package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultInviteTTL is how long a group invite stays valid unless
// configured otherwise.
const DefaultInviteTTL = 30 * time.Minute

// GroupInvite is a single-use, time-limited invite link issued to a
// verified subscriber.
type GroupInvite struct {
	ID         string
	UserID     ChatUserID
	CPF        CPF
	InviteURL  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Used       bool
	UsedAt     *time.Time
	ClientName string
	PlanName   string
}

// NewGroupInvite builds an invite expiring after ttl.
func NewGroupInvite(userID ChatUserID, cpf CPF, url, clientName, planName string, ttl time.Duration) *GroupInvite {
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	created := time.Now()
	return &GroupInvite{
		ID:         uuid.New().String(),
		UserID:     userID,
		CPF:        cpf,
		InviteURL:  url,
		CreatedAt:  created,
		ExpiresAt:  created.Add(ttl),
		ClientName: clientName,
		PlanName:   planName,
	}
}

// Valid reports whether the invite can still be used.
func (g *GroupInvite) Valid(ref time.Time) bool {
	return !g.Used && ref.Before(g.ExpiresAt)
}

// MarkUsed consumes the invite.
func (g *GroupInvite) MarkUsed() {
	g.Used = true
	t := time.Now()
	g.UsedAt = &t
}
